package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mediavault/internal/domain"
)

func TestDuplicateReviewUpsertKeepsHighestScore(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   float64
	}{
		{name: "higher score replaces lower", scores: []float64{70, 90}, want: 90},
		{name: "lower score is ignored", scores: []float64{90, 70}, want: 90},
		{name: "equal score keeps first method", scores: []float64{85, 85}, want: 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := NewDuplicateReviewRepository(newTestDB(t))

			for i, score := range tt.scores {
				require.NoError(t, repo.Upsert(ctx, &domain.DuplicateReview{
					MediaID:         "new",
					DuplicateOfID:   "old",
					OwnerID:         "owner",
					SimilarityScore: score,
					DetectionMethod: fmt.Sprintf("method-%d", i),
				}))
			}

			reviews, err := repo.ListByMedia(ctx, "new")
			require.NoError(t, err)
			require.Len(t, reviews, 1)
			assert.Equal(t, tt.want, reviews[0].SimilarityScore)
		})
	}
}

func TestDuplicateReviewUpsertUpdatesMethod(t *testing.T) {
	ctx := context.Background()
	repo := NewDuplicateReviewRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, &domain.DuplicateReview{
		MediaID: "new", DuplicateOfID: "old", OwnerID: "o", SimilarityScore: 90, DetectionMethod: domain.DetectionMethodFilename,
	}))
	require.NoError(t, repo.Upsert(ctx, &domain.DuplicateReview{
		MediaID: "new", DuplicateOfID: "old", OwnerID: "o", SimilarityScore: 100, DetectionMethod: domain.DetectionMethodHash,
	}))

	got, err := repo.Get(ctx, "new", "old")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.SimilarityScore)
	assert.Equal(t, domain.DetectionMethodHash, got.DetectionMethod)
}

func TestDuplicateReviewUpsertReturnsStoredRow(t *testing.T) {
	ctx := context.Background()
	repo := NewDuplicateReviewRepository(newTestDB(t))

	first := &domain.DuplicateReview{MediaID: "new", DuplicateOfID: "old", OwnerID: "o", SimilarityScore: 95, DetectionMethod: domain.DetectionMethodPerceptual}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &domain.DuplicateReview{MediaID: "new", DuplicateOfID: "old", OwnerID: "o", SimilarityScore: 90, DetectionMethod: domain.DetectionMethodFilename}
	require.NoError(t, repo.Upsert(ctx, second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 95.0, second.SimilarityScore)
	assert.Equal(t, domain.DetectionMethodPerceptual, second.DetectionMethod)

	got, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.MediaID)
}

func TestDuplicateReviewDecide(t *testing.T) {
	ctx := context.Background()
	repo := NewDuplicateReviewRepository(newTestDB(t))

	review := &domain.DuplicateReview{MediaID: "new", DuplicateOfID: "old", OwnerID: "o", SimilarityScore: 100, DetectionMethod: "hash"}
	require.NoError(t, repo.Upsert(ctx, review))

	n, err := repo.CountPendingForMedia(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	decided, err := repo.Decide(ctx, review.ID, domain.DecisionKeepBoth)
	require.NoError(t, err)
	require.NotNil(t, decided.Decision)
	assert.Equal(t, domain.DecisionKeepBoth, *decided.Decision)
	assert.NotNil(t, decided.DecidedAt)

	_, err = repo.Decide(ctx, review.ID, domain.DecisionKeepNew)
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	_, err = repo.Decide(ctx, "missing", domain.DecisionKeepNew)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportTransitionsAreGuarded(t *testing.T) {
	ctx := context.Background()
	repo := NewImportRepository(newTestDB(t))

	imp := &domain.Import{OwnerID: "owner"}
	require.NoError(t, repo.Create(ctx, imp))

	changed, err := repo.MarkCompleted(ctx, imp.ID)
	require.NoError(t, err)
	assert.False(t, changed, "pending cannot complete")

	changed, err = repo.MarkStarted(ctx, imp.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkStarted(ctx, imp.ID)
	require.NoError(t, err)
	assert.False(t, changed, "already running")

	changed, err = repo.MarkFailed(ctx, imp.ID, "catalog unreachable")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repo.GetByID(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusFailed, got.Status)
	assert.Equal(t, "catalog unreachable", got.FailureReason)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportCountersUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := NewImportRepository(newTestDB(t))

	imp := &domain.Import{OwnerID: "owner", TotalItems: 40}
	require.NoError(t, repo.Create(ctx, imp))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := CounterDelta{Processed: 1, Successful: 1}
			if i%4 == 0 {
				d = CounterDelta{Processed: 1, Failed: 1}
			}
			assert.NoError(t, repo.AddCounters(ctx, imp.ID, d))
		}(i)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProcessedItems)
	assert.Equal(t, 30, got.SuccessfulItems)
	assert.Equal(t, 10, got.FailedItems)
	assert.Equal(t, got.ProcessedItems, got.SuccessfulItems+got.FailedItems)
	assert.LessOrEqual(t, got.ProcessedItems, got.TotalItems)
}

func TestCompleteIfDoneWaitsForDiscovery(t *testing.T) {
	ctx := context.Background()
	repo := NewImportRepository(newTestDB(t))

	imp := &domain.Import{OwnerID: "owner"}
	require.NoError(t, repo.Create(ctx, imp))
	_, err := repo.MarkStarted(ctx, imp.ID)
	require.NoError(t, err)

	require.NoError(t, repo.RaiseTotal(ctx, imp.ID, 2))
	require.NoError(t, repo.RaiseTotal(ctx, imp.ID, 1))
	require.NoError(t, repo.AddCounters(ctx, imp.ID, CounterDelta{Processed: 2, Successful: 2}))

	done, err := repo.CompleteIfDone(ctx, imp.ID)
	require.NoError(t, err)
	assert.False(t, done, "discovery still running")

	require.NoError(t, repo.FinishDiscovery(ctx, imp.ID, 2, domain.JSONMap{"discovered": 3}))

	done, err = repo.CompleteIfDone(ctx, imp.ID)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := repo.GetByID(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusCompleted, got.Status)
	assert.Equal(t, 2, got.TotalItems)
	assert.EqualValues(t, 3, got.Summary["discovered"])
}

func TestImportItemsLifecycleAndReset(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	imports := NewImportRepository(db)
	items := NewImportItemRepository(db)

	imp := &domain.Import{OwnerID: "owner"}
	require.NoError(t, imports.Create(ctx, imp))
	_, err := imports.MarkStarted(ctx, imp.ID)
	require.NoError(t, err)

	batch := []*domain.ImportItem{
		{ImportID: imp.ID, SourceID: "a", SourceURL: "u/a", Position: 0},
		{ImportID: imp.ID, SourceID: "b", SourceURL: "u/b", Position: 1},
	}
	created, err := items.CreateBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), created)

	created, err = items.CreateBatch(ctx, []*domain.ImportItem{{ImportID: imp.ID, SourceID: "a", SourceURL: "u/a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), created, "duplicate source ids are skipped")

	pending, err := items.ListPending(ctx, imp.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].SourceID)

	a, b := batch[0].ID, batch[1].ID

	claimed, err := items.Claim(ctx, a)
	require.NoError(t, err)
	require.True(t, claimed)
	finished, err := items.Finish(ctx, a, domain.ImportItemFailed, nil, "boom")
	require.NoError(t, err)
	require.True(t, finished)
	finished, err = items.Finish(ctx, a, domain.ImportItemCompleted, nil, "")
	require.NoError(t, err)
	assert.False(t, finished, "an item is finished only once")
	claimed, err = items.Claim(ctx, a)
	require.NoError(t, err)
	assert.False(t, claimed, "finished items are not claimable")

	mediaID := "m-1"
	_, err = items.Claim(ctx, b)
	require.NoError(t, err)
	_, err = items.Finish(ctx, b, domain.ImportItemCompleted, &mediaID, "")
	require.NoError(t, err)

	require.NoError(t, imports.AddCounters(ctx, imp.ID, CounterDelta{Processed: 2, Successful: 1, Failed: 1}))
	require.NoError(t, imports.FinishDiscovery(ctx, imp.ID, 2, nil))
	done, err := imports.CompleteIfDone(ctx, imp.ID)
	require.NoError(t, err)
	require.True(t, done)

	counts, err := items.CountByStatus(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.ImportItemFailed])
	assert.Equal(t, int64(1), counts[domain.ImportItemCompleted])

	reset, err := imports.ResetFailed(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	got, err := imports.GetByID(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusRunning, got.Status)
	assert.Equal(t, 1, got.ProcessedItems)
	assert.Equal(t, 0, got.FailedItems)
	assert.Equal(t, 1, got.SuccessfulItems)
	assert.Nil(t, got.CompletedAt)

	item, err := items.GetByID(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportItemPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, 1, item.Attempts)
	assert.Empty(t, item.ErrorMessage)

	list, total, err := items.List(ctx, imp.ID, ItemFilter{Status: domain.ImportItemCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].MediaID)
	assert.Equal(t, "m-1", *list[0].MediaID)
}

func TestMediaQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewMediaRepository(newTestDB(t))

	mk := func(owner, hash, mime string, w, h int) *domain.Media {
		m := &domain.Media{OwnerID: owner, ContentHash: hash, Disk: "local", Path: "p/" + hash, Filename: hash, MimeType: mime, Width: w, Height: h}
		require.NoError(t, repo.Create(ctx, m))
		return m
	}
	first := mk("o1", "h1", "image/png", 10, 10)
	second := mk("o1", "h1", "image/png", 0, 0)
	mk("o2", "h1", "image/png", 10, 10)
	mk("o1", "h2", "video/mp4", 0, 0)

	found, err := repo.FindByHash(ctx, "o1", "h1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repo.FindByHash(ctx, "o1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	same, err := repo.ListByHash(ctx, "o1", "h1", first.ID, 5)
	require.NoError(t, err)
	require.Len(t, same, 1)
	assert.Equal(t, second.ID, same[0].ID)

	images, err := repo.ListImagesWithDimensions(ctx, "o1", second.ID, 100)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, first.ID, images[0].ID)

	others, err := repo.ListOthers(ctx, "o1", first.ID, 100)
	require.NoError(t, err)
	assert.Len(t, others, 2)

	score := 100.0
	require.NoError(t, repo.SetDuplicateStatus(ctx, second.ID, domain.DuplicateStatusPendingReview, &first.ID, &score))
	got, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuplicateStatusPendingReview, got.DuplicateStatus)
	require.NotNil(t, got.DuplicateOfID)
	assert.Equal(t, first.ID, *got.DuplicateOfID)

	assert.ErrorIs(t, repo.SetDuplicateStatus(ctx, "missing", domain.DuplicateStatusUnique, nil, nil), ErrNotFound)
}
