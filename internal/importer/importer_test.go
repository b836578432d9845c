package importer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/queue"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/source"
)

func TestImport_EndToEndSkipDuplicate(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()

	known := pngBytes(t, 1)
	existing, err := h.uploader.Upload(ctx, UploadRequest{
		OwnerID: owner,
		File:    pipeline.File{Path: writeTemp(t, "known.png", known), Name: "known.png"},
	})
	require.NoError(t, err)
	h.queue.Drain()

	h.addItem("a", "again.png", "image/png", known)
	h.addItem("b", "fresh.png", "image/png", pngBytes(t, 2))
	h.addItem("c", "notes.txt", "text/plain", []byte("not media"))

	imp := h.create(t, domain.ImportSettings{
		Filters:    domain.ImportFilters{MediaTypes: []string{domain.CategoryImage}},
		Processing: domain.ProcessingSettings{DuplicateStrategy: domain.DuplicateSkip},
	})
	require.NoError(t, h.orch.Start(ctx, imp.ID))
	require.Len(t, h.queue.Tasks(queue.TypeImportDiscover), 1)
	h.queue.Drain()

	require.NoError(t, h.orch.Discover(ctx, imp.ID))
	count, err := h.items.Count(ctx, imp.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	for _, err := range h.runItems(t, Attempt{Number: 1}) {
		require.NoError(t, err)
	}

	got := h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, 2, got.ProcessedItems)
	assert.Equal(t, 2, got.SuccessfulItems)
	assert.Equal(t, 1, got.DuplicateItems)
	assert.Zero(t, got.FailedItems)
	assert.EqualValues(t, 3, got.Summary["discovered"])

	items, _, err := h.items.List(ctx, imp.ID, repository.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, domain.ImportItemCompleted, it.Status)
		require.NotNil(t, it.MediaID)
	}
	assert.Equal(t, existing.Record.ID, *items[0].MediaID)
	assert.NotEqual(t, existing.Record.ID, *items[1].MediaID)

	detect := h.queue.Tasks(queue.TypeMediaDetect)
	require.Len(t, detect, 1)
	var p queue.DetectPayload
	require.NoError(t, detect[0].Decode(&p))
	assert.Equal(t, *items[1].MediaID, p.MediaID)
	assert.Equal(t, 2, h.catalog.cleaned)
}

func TestDiscover_EmptyCatalogCompletes(t *testing.T) {
	h := newHarness(t, 50)
	imp := h.create(t, domain.ImportSettings{})

	require.NoError(t, h.orch.Discover(context.Background(), imp.ID))
	got := h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, h.queue.Tasks(""))
}

func TestDiscover_CatalogErrorsFailImport(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *fakeCatalog)
		want  string
	}{
		{"connection", func(c *fakeCatalog) { c.connErr = source.ErrUnavailable }, "catalog connection failed"},
		{"statistics", func(c *fakeCatalog) { c.statsErr = errBoom }, "catalog statistics failed"},
		{"stream", func(c *fakeCatalog) { c.streamErr = errBoom }, "catalog stream failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 50)
			h.addItem("a", "a.png", "image/png", pngBytes(t, 1))
			tt.setup(h.catalog)
			imp := h.create(t, domain.ImportSettings{})

			require.NoError(t, h.orch.Discover(context.Background(), imp.ID))
			got := h.reload(t, imp.ID)
			assert.Equal(t, domain.ImportStatusFailed, got.Status)
			assert.Contains(t, got.FailureReason, tt.want)
		})
	}
}

func TestDiscover_StopsWhenCancelled(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	for i, id := range itemIDs(6) {
		h.addItem(id, fmt.Sprintf("%d.png", i), "image/png", pngBytes(t, uint8(i)))
	}
	imp := h.create(t, domain.ImportSettings{})
	h.catalog.onYield = func(i int) {
		if i == 1 {
			_, err := h.orch.Cancel(ctx, imp.ID)
			require.NoError(t, err)
		}
	}

	require.NoError(t, h.orch.Discover(ctx, imp.ID))
	count, err := h.items.Count(ctx, imp.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.Empty(t, h.queue.Tasks(queue.TypeImportItem))
	assert.Equal(t, domain.ImportStatusCancelled, h.reload(t, imp.ID).Status)
}

func TestDiscover_PausedImportDispatchesOnResume(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	for i, id := range itemIDs(5) {
		h.addItem(id, fmt.Sprintf("%d.png", i), "image/png", pngBytes(t, uint8(i)))
	}
	imp := h.create(t, domain.ImportSettings{})
	h.catalog.onYield = func(i int) {
		if i == 2 {
			ok, err := h.orch.Pause(ctx, imp.ID)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}

	require.NoError(t, h.orch.Discover(ctx, imp.ID))
	assert.Len(t, h.queue.Tasks(queue.TypeImportItem), 2)
	count, err := h.items.Count(ctx, imp.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	resumed, err := h.orch.Resume(ctx, imp.ID)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Len(t, h.queue.Tasks(queue.TypeImportItem), 5)

	for _, err := range h.runItems(t, Attempt{Number: 1}) {
		require.NoError(t, err)
	}
	got := h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 5, got.SuccessfulItems)
}

func TestDiscover_Filters(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	day := func(d int) *time.Time {
		ts := time.Date(2024, 5, d, 12, 0, 0, 0, time.UTC)
		return &ts
	}
	h.addItem("1", "1.png", "image/png", pngBytes(t, 1))
	h.addItem("2", "2.png", "image/png", pngBytes(t, 2))
	h.addItem("3", "3.mp4", "", []byte("video"))
	h.addItem("4", "4.png", "image/png", pngBytes(t, 4))
	h.addItem("5", "5.png", "image/png", pngBytes(t, 5))
	h.addItem("6", "6.png", "image/png", pngBytes(t, 6))
	h.catalog.items[0].TakenAt = day(1)
	h.catalog.items[1].TakenAt = day(10)
	h.catalog.items[2].TakenAt = day(10)
	h.catalog.items[3].TakenAt = day(20)
	h.catalog.items[4].TakenAt = day(11)
	h.catalog.items[5].TakenAt = day(12)

	imp := h.create(t, domain.ImportSettings{Filters: domain.ImportFilters{
		MediaTypes: []string{domain.CategoryImage},
		DateFrom:   day(5),
		DateTo:     day(15),
		MaxItems:   2,
	}})
	require.NoError(t, h.orch.Discover(ctx, imp.ID))

	items, _, err := h.items.List(ctx, imp.ID, repository.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[0].SourceID)
	assert.Equal(t, "5", items[1].SourceID)

	got := h.reload(t, imp.ID)
	assert.Equal(t, 2, got.TotalItems)
	skipped, ok := got.Summary["skipped"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, skipped[skipType])
	assert.EqualValues(t, 2, skipped[skipDate])
	assert.EqualValues(t, 1, skipped[skipLimit])
	assert.Equal(t, true, got.Summary["truncated"])
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel from paused", func(t *testing.T) {
		h := newHarness(t, 50)
		imp := h.create(t, domain.ImportSettings{})
		_, err := h.imports.MarkStarted(ctx, imp.ID)
		require.NoError(t, err)
		paused, err := h.orch.Pause(ctx, imp.ID)
		require.NoError(t, err)
		require.True(t, paused)

		cancelled, err := h.orch.Cancel(ctx, imp.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)
		assert.Equal(t, domain.ImportStatusCancelled, h.reload(t, imp.ID).Status)

		again, err := h.orch.Cancel(ctx, imp.ID)
		require.NoError(t, err)
		assert.False(t, again)
	})

	t.Run("resume from running is a no-op", func(t *testing.T) {
		h := newHarness(t, 50)
		imp := h.create(t, domain.ImportSettings{})
		_, err := h.imports.MarkStarted(ctx, imp.ID)
		require.NoError(t, err)

		resumed, err := h.orch.Resume(ctx, imp.ID)
		require.NoError(t, err)
		assert.False(t, resumed)
		assert.Equal(t, domain.ImportStatusRunning, h.reload(t, imp.ID).Status)
	})

	t.Run("pause from completed is a no-op", func(t *testing.T) {
		h := newHarness(t, 50)
		imp := h.create(t, domain.ImportSettings{})
		require.NoError(t, h.orch.Discover(ctx, imp.ID))
		require.Equal(t, domain.ImportStatusCompleted, h.reload(t, imp.ID).Status)

		paused, err := h.orch.Pause(ctx, imp.ID)
		require.NoError(t, err)
		assert.False(t, paused)
		assert.Equal(t, domain.ImportStatusCompleted, h.reload(t, imp.ID).Status)
	})

	t.Run("start only from pending", func(t *testing.T) {
		h := newHarness(t, 50)
		imp := h.create(t, domain.ImportSettings{})
		_, err := h.orch.Cancel(ctx, imp.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, h.orch.Start(ctx, imp.ID), ErrInvalidTransition)
	})

	t.Run("unknown import", func(t *testing.T) {
		h := newHarness(t, 50)
		_, err := h.orch.Pause(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreate_ValidatesSettings(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()

	_, err := h.orch.Create(ctx, owner, domain.ImportSettings{Source: domain.SourceSettings{Type: "ftp", Name: "x"}})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = h.orch.Create(ctx, owner, domain.ImportSettings{
		Source:     domain.SourceSettings{Type: "remote", Name: "x"},
		Processing: domain.ProcessingSettings{DuplicateStrategy: "merge"},
	})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = h.orch.Create(ctx, "", domain.ImportSettings{Source: domain.SourceSettings{Type: "remote", Name: "x"}})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestItemWorker_RetryThenFailThenManualRetry(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	h.addItem("a", "a.png", "image/png", pngBytes(t, 1))
	h.catalog.setFailure("files/a.png", source.ErrRateLimited)
	imp := h.create(t, domain.ImportSettings{})
	require.NoError(t, h.orch.Discover(ctx, imp.ID))

	tasks := h.queue.Tasks(queue.TypeImportItem)
	require.Len(t, tasks, 1)
	assert.Equal(t, 3, tasks[0].Options.MaxRetry)
	var p queue.ItemPayload
	require.NoError(t, tasks[0].Decode(&p))

	err := h.worker.Process(ctx, p.ImportID, p.ItemID, Attempt{Number: 1})
	require.ErrorIs(t, err, source.ErrRateLimited)
	item, err := h.items.GetByID(ctx, p.ItemID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportItemProcessing, item.Status)
	assert.Contains(t, item.ErrorMessage, "rate limited")
	assert.Zero(t, h.reload(t, imp.ID).ProcessedItems)

	require.NoError(t, h.worker.Process(ctx, p.ImportID, p.ItemID, Attempt{Number: 4, Final: true}))
	item, err = h.items.GetByID(ctx, p.ItemID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportItemFailed, item.Status)
	assert.Equal(t, 2, item.Attempts)
	got := h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 1, got.FailedItems)
	assert.Equal(t, 1, got.ProcessedItems)

	h.catalog.setFailure("files/a.png", nil)
	h.queue.Drain()
	n, err := h.orch.RetryFailed(ctx, imp.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got = h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusRunning, got.Status)
	assert.Zero(t, got.ProcessedItems)

	retried := h.queue.Tasks(queue.TypeImportItem)
	require.Len(t, retried, 1)
	assert.Equal(t, queue.ItemKey(p.ItemID, 1), retried[0].Options.Key)

	for _, err := range h.runItems(t, Attempt{Number: 1}) {
		require.NoError(t, err)
	}
	got = h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SuccessfulItems)
	assert.Zero(t, got.FailedItems)
}

func TestRetryFailed_RefusesImportThatFailedDuringDiscovery(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.addItem("a", "a.png", "image/png", pngBytes(t, 1))
	h.addItem("b", "b.png", "image/png", pngBytes(t, 2))
	h.catalog.setFailure("files/a.png", errBoom)
	h.catalog.streamErr = errBoom
	imp := h.create(t, domain.ImportSettings{})
	h.catalog.onYield = func(i int) {
		if i == 1 {
			for _, err := range h.runItems(t, Attempt{Number: 1, Final: true}) {
				require.NoError(t, err)
			}
		}
	}

	require.NoError(t, h.orch.Discover(ctx, imp.ID))
	got := h.reload(t, imp.ID)
	require.Equal(t, domain.ImportStatusFailed, got.Status)
	require.Nil(t, got.DiscoveryFinishedAt)
	require.Equal(t, 1, got.FailedItems)

	_, err := h.orch.RetryFailed(ctx, imp.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	got = h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusFailed, got.Status)
	assert.Equal(t, 1, got.FailedItems)
}

func TestItemWorker_ValidationFailureIsPermanent(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	h.addItem("a", "empty.png", "image/png", []byte{})
	imp := h.create(t, domain.ImportSettings{})
	require.NoError(t, h.orch.Discover(ctx, imp.ID))

	for _, err := range h.runItems(t, Attempt{Number: 1}) {
		require.NoError(t, err)
	}
	got := h.reload(t, imp.ID)
	assert.Equal(t, 1, got.FailedItems)
	items, _, err := h.items.List(ctx, imp.ID, repository.ItemFilter{Status: domain.ImportItemFailed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "file is empty", items[0].ErrorMessage)
}

func TestItemWorker_InactiveImportLeavesItemPending(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	h.addItem("a", "a.png", "image/png", pngBytes(t, 1))
	imp := h.create(t, domain.ImportSettings{})
	require.NoError(t, h.orch.Discover(ctx, imp.ID))
	_, err := h.orch.Pause(ctx, imp.ID)
	require.NoError(t, err)

	for _, err := range h.runItems(t, Attempt{Number: 1}) {
		require.NoError(t, err)
	}
	items, _, err := h.items.List(ctx, imp.ID, repository.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ImportItemPending, items[0].Status)
	assert.Zero(t, items[0].Attempts)
	assert.Zero(t, h.reload(t, imp.ID).ProcessedItems)
}

func TestItemWorker_RetryPendingAcrossPauseCompletesOnResume(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	h.addItem("a", "a.png", "image/png", pngBytes(t, 1))
	h.catalog.setFailure("files/a.png", source.ErrRateLimited)
	imp := h.create(t, domain.ImportSettings{})
	require.NoError(t, h.orch.Discover(ctx, imp.ID))

	tasks := h.queue.Drain()
	require.Len(t, tasks, 1)
	var p queue.ItemPayload
	require.NoError(t, tasks[0].Decode(&p))
	require.ErrorIs(t, h.worker.Process(ctx, p.ImportID, p.ItemID, Attempt{Number: 1}), source.ErrRateLimited)

	paused, err := h.orch.Pause(ctx, imp.ID)
	require.NoError(t, err)
	require.True(t, paused)

	// The backed-off redelivery lands while the import is paused.
	require.NoError(t, h.worker.Process(ctx, p.ImportID, p.ItemID, Attempt{Number: 2}))
	item, err := h.items.GetByID(ctx, p.ItemID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportItemPending, item.Status)
	assert.Nil(t, item.DispatchedAt)

	h.catalog.setFailure("files/a.png", nil)
	resumed, err := h.orch.Resume(ctx, imp.ID)
	require.NoError(t, err)
	require.True(t, resumed)
	require.Len(t, h.queue.Tasks(queue.TypeImportItem), 1)

	for _, err := range h.runItems(t, Attempt{Number: 1}) {
		require.NoError(t, err)
	}
	got := h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 1, got.ProcessedItems)
	assert.Equal(t, 1, got.SuccessfulItems)
}

func TestItemWorker_KeepsStoredMediaWhenDeadlineFiresAfterStore(t *testing.T) {
	h := newHarness(t, 50)
	h.addItem("a", "a.png", "image/png", pngBytes(t, 1))
	imp := h.create(t, domain.ImportSettings{})
	require.NoError(t, h.orch.Discover(context.Background(), imp.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, ok := h.registry.Get("store")
	require.True(t, ok)
	h.registry.Register(afterExecute{Action: store, then: cancel})

	tasks := h.queue.Drain()
	require.Len(t, tasks, 1)
	var p queue.ItemPayload
	require.NoError(t, tasks[0].Decode(&p))
	require.NoError(t, h.worker.Process(ctx, p.ImportID, p.ItemID, Attempt{Number: 1}))
	require.Error(t, ctx.Err())

	item, err := h.items.GetByID(context.Background(), p.ItemID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportItemCompleted, item.Status)
	require.NotNil(t, item.MediaID)

	got := h.reload(t, imp.ID)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SuccessfulItems)
	assert.Zero(t, got.DuplicateItems)

	detect := h.queue.Tasks(queue.TypeMediaDetect)
	require.Len(t, detect, 1)
	var d queue.DetectPayload
	require.NoError(t, detect[0].Decode(&d))
	assert.Equal(t, *item.MediaID, d.MediaID)
}

func TestItemWorker_ConcurrentCounters(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	ids := itemIDs(24)
	for i, id := range ids {
		h.addItem(id, id+".png", "image/png", pngBytes(t, uint8(i)))
		if i%4 == 0 {
			h.catalog.setFailure("files/"+id+".png", source.ErrUnavailable)
		}
	}
	imp := h.create(t, domain.ImportSettings{Processing: domain.ProcessingSettings{DuplicateStrategy: domain.DuplicateRename}})
	require.NoError(t, h.orch.Discover(ctx, imp.ID))

	var wg sync.WaitGroup
	for _, task := range h.queue.Drain() {
		var p queue.ItemPayload
		require.NoError(t, task.Decode(&p))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.worker.Process(ctx, p.ImportID, p.ItemID, Attempt{Number: 1, Final: true})
		}()
	}
	wg.Wait()

	got := h.reload(t, imp.ID)
	assert.Equal(t, got.SuccessfulItems+got.FailedItems, got.ProcessedItems)
	assert.LessOrEqual(t, got.ProcessedItems, got.TotalItems)
	assert.Equal(t, 24, got.ProcessedItems)
	assert.Equal(t, 6, got.FailedItems)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
}

func TestUploader(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	path := writeTemp(t, "Beach Day.png", pngBytes(t, 9))

	_, err := h.uploader.Upload(ctx, UploadRequest{File: pipeline.File{Path: path, Name: "x.png"}})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	res, err := h.uploader.Upload(ctx, UploadRequest{
		OwnerID:          owner,
		File:             pipeline.File{Path: path, Name: "Beach Day.png"},
		Storage:          domain.StorageTarget{Directory: "albums"},
		PreserveFilename: true,
		Tags:             []string{"summer"},
	})
	require.NoError(t, err)
	assert.Equal(t, "albums/Beach-Day.png", res.Path)
	assert.Equal(t, "upload", res.Record.Source)
	require.Len(t, h.queue.Tasks(queue.TypeMediaDetect), 1)

	dup, err := h.uploader.Upload(ctx, UploadRequest{
		OwnerID:           owner,
		File:              pipeline.File{Path: path, Name: "copy.png"},
		DuplicateStrategy: domain.DuplicateSkip,
	})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate())
	assert.Equal(t, res.Record.ID, dup.Record.ID)
	assert.Len(t, h.queue.Tasks(queue.TypeMediaDetect), 1)

	_, err = h.uploader.Upload(ctx, UploadRequest{
		OwnerID: owner,
		File:    pipeline.File{Path: writeTemp(t, "empty.png", nil), Name: "empty.png"},
	})
	var failure *pipeline.Failure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, pipeline.ErrValidation)
}
