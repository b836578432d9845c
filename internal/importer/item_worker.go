package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/metrics"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/queue"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/source"
)

// Attempt describes which delivery of an item task is running. Final is set
// when no retry will follow, so every failure becomes permanent.
type Attempt struct {
	Number int
	Final  bool
}

// ItemWorker processes one import item: download, pipeline, counters.
type ItemWorker struct {
	imports  *repository.ImportRepository
	items    *repository.ImportItemRepository
	catalogs CatalogOpener
	executor *pipeline.Executor
	queue    queue.Enqueuer
	defaults Defaults
	cfg      config.ImportConfig
	metrics  *metrics.Metrics
}

// NewItemWorker creates an ItemWorker.
func NewItemWorker(
	imports *repository.ImportRepository,
	items *repository.ImportItemRepository,
	catalogs CatalogOpener,
	executor *pipeline.Executor,
	q queue.Enqueuer,
	defaults Defaults,
	cfg config.ImportConfig,
	m *metrics.Metrics,
) *ItemWorker {
	return &ItemWorker{
		imports:  imports,
		items:    items,
		catalogs: catalogs,
		executor: executor,
		queue:    q,
		defaults: defaults,
		cfg:      cfg,
		metrics:  m,
	}
}

// Process runs one attempt for an item. A returned error asks the queue to
// retry; every other outcome is recorded on the item and its import.
func (w *ItemWorker) Process(ctx context.Context, importID, itemID string, at Attempt) error {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldImportID: importID,
		logger.FieldItemID:   itemID,
	})
	start := time.Now()

	imp, err := w.imports.GetByID(ctx, importID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.CtxWarn(ctx, "Import vanished, dropping item")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load import: %w", err)
	}
	if !imp.IsActive() {
		released, err := w.items.Release(ctx, itemID)
		if err != nil {
			return fmt.Errorf("release item: %w", err)
		}
		logger.CtxInfo(ctx, "Import is %s, item left pending (released=%t)", imp.Status, released)
		return nil
	}

	item, err := w.items.GetByID(ctx, itemID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.CtxWarn(ctx, "Item vanished")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.Status.IsFinished() {
		return nil
	}
	claimed, err := w.items.Claim(ctx, itemID)
	if err != nil {
		return fmt.Errorf("claim item: %w", err)
	}
	if !claimed {
		return nil
	}

	catalog, err := w.catalogs.Open(ctx, imp.Config.Source)
	if err != nil {
		return w.fail(ctx, imp, item, fmt.Sprintf("cannot open catalog: %v", err))
	}

	name := item.Filename
	if name == "" {
		name = item.Title
	}
	dl, err := catalog.DownloadItem(ctx, item.SourceURL, name)
	if err != nil {
		if source.IsTransient(err) && !at.Final {
			return w.retry(ctx, item, err)
		}
		return w.fail(ctx, imp, item, fmt.Sprintf("download failed: %v", err))
	}
	defer func() {
		if err := catalog.Cleanup(dl.TempPath); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to remove downloaded file")
		}
	}()

	opts := w.defaults.contextOptions(imp.OwnerID, imp.Config.Storage, imp.Config.Processing)
	opts.SessionID = imp.ID
	opts.Config[pipeline.ConfigSource] = catalog.Name()
	opts.Metadata = itemMetadata(imp, item)

	filename := dl.Filename
	if filename == "" {
		filename = name
	}
	result := w.executor.Run(ctx, pipeline.NewContext(pipeline.File{
		Path:     dl.TempPath,
		Name:     filename,
		Size:     dl.Size,
		MimeType: dl.MimeType,
	}, opts))

	// A stored record is kept even when the deadline fired after the store.
	if r, ok := result.(*pipeline.Success); ok {
		return w.succeed(ctx, imp, item, r, start)
	}
	if err := ctx.Err(); err != nil && !at.Final {
		return w.retry(ctx, item, err)
	}

	switch r := result.(type) {
	case *pipeline.Failure:
		if r.Retryable() && !at.Final {
			return w.retry(ctx, item, r)
		}
		return w.fail(ctx, imp, item, r.Message)
	default:
		return w.fail(ctx, imp, item, "pipeline returned no result")
	}
}

func (w *ItemWorker) succeed(ctx context.Context, imp *domain.Import, item *domain.ImportItem, r *pipeline.Success, start time.Time) error {
	if r.Record == nil {
		return w.fail(ctx, imp, item, "pipeline succeeded without a media record")
	}
	ctx = context.WithoutCancel(ctx)
	mediaID := r.Record.ID
	done, err := w.items.Finish(ctx, item.ID, domain.ImportItemCompleted, &mediaID, "")
	if err != nil {
		return fmt.Errorf("finish item: %w", err)
	}
	if !done {
		return nil
	}

	delta := repository.CounterDelta{Processed: 1, Successful: 1}
	if r.Duplicate() {
		delta.Duplicate = 1
	}
	if err := w.record(ctx, imp.ID, delta); err != nil {
		return err
	}
	w.metrics.IncItem(string(domain.ImportItemCompleted))

	if !r.Duplicate() {
		scheduleDetection(ctx, w.queue, w.cfg, mediaID)
	}

	logger.With(logger.Fields{
		logger.FieldMediaID:    mediaID,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Item completed (duplicate=%t)", r.Duplicate())
	return nil
}

// fail records a permanent item failure.
func (w *ItemWorker) fail(ctx context.Context, imp *domain.Import, item *domain.ImportItem, msg string) error {
	ctx = context.WithoutCancel(ctx)
	done, err := w.items.Finish(ctx, item.ID, domain.ImportItemFailed, nil, msg)
	if err != nil {
		return fmt.Errorf("finish item: %w", err)
	}
	if !done {
		return nil
	}
	if err := w.record(ctx, imp.ID, repository.CounterDelta{Processed: 1, Failed: 1}); err != nil {
		return err
	}
	w.metrics.IncItem(string(domain.ImportItemFailed))
	logger.CtxWarn(ctx, "Item failed: %s", msg)
	return nil
}

// retry keeps the item in processing and hands the error back to the queue.
func (w *ItemWorker) retry(ctx context.Context, item *domain.ImportItem, cause error) error {
	if err := w.items.RecordAttemptError(context.WithoutCancel(ctx), item.ID, cause.Error()); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to record attempt error")
	}
	w.metrics.IncItemRetry()
	logger.FromContext(ctx).WithError(cause).Warn("Item attempt failed, will retry")
	return fmt.Errorf("item %s: %w", item.ID, cause)
}

// record applies the counter delta and completes the import when this was
// the last outstanding item.
func (w *ItemWorker) record(ctx context.Context, importID string, delta repository.CounterDelta) error {
	if err := w.imports.AddCounters(ctx, importID, delta); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	completed, err := w.imports.CompleteIfDone(ctx, importID)
	if err != nil {
		return fmt.Errorf("complete import: %w", err)
	}
	if completed {
		logger.CtxInfo(ctx, "Import completed")
	}
	return nil
}

func itemMetadata(imp *domain.Import, item *domain.ImportItem) map[string]any {
	md := map[string]any{
		"import_id": imp.ID,
		"source_id": item.SourceID,
	}
	if item.Title != "" {
		md["title"] = item.Title
	}
	if item.SourceTakenAt != nil {
		md["taken_at"] = item.SourceTakenAt.UTC().Format(time.RFC3339)
	}
	if len(item.SourceMetadata) > 0 {
		md["source_metadata"] = map[string]interface{}(item.SourceMetadata)
	}
	return md
}
