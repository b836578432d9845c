// Package importer runs bulk imports from external catalogs and direct
// uploads through the ingestion pipeline.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/metrics"
	"github.com/timmy/mediavault/internal/queue"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/source"
)

const (
	defaultBatchSize = 50
	dispatchParallel = 8
)

// CatalogOpener opens the external catalog an import reads from.
type CatalogOpener interface {
	Open(ctx context.Context, settings domain.SourceSettings) (source.Catalog, error)
}

// Orchestrator drives the import state machine: discovery, dispatch and
// the operator controls.
type Orchestrator struct {
	imports  *repository.ImportRepository
	items    *repository.ImportItemRepository
	catalogs CatalogOpener
	queue    queue.Enqueuer
	cfg      config.ImportConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	imports *repository.ImportRepository,
	items *repository.ImportItemRepository,
	catalogs CatalogOpener,
	q queue.Enqueuer,
	cfg config.ImportConfig,
	m *metrics.Metrics,
) *Orchestrator {
	if cfg.DiscoveryBatchSize <= 0 {
		cfg.DiscoveryBatchSize = defaultBatchSize
	}
	return &Orchestrator{
		imports:  imports,
		items:    items,
		catalogs: catalogs,
		queue:    q,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
	}
}

// Create validates settings and stores a new pending import.
func (o *Orchestrator) Create(ctx context.Context, ownerID string, settings domain.ImportSettings) (*domain.Import, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidSettings)
	}
	if err := validate.StructCtx(ctx, settings); err != nil {
		return nil, validationError(err)
	}
	imp := &domain.Import{OwnerID: ownerID, Config: settings, Summary: domain.JSONMap{}}
	if err := o.imports.Create(ctx, imp); err != nil {
		return nil, fmt.Errorf("create import: %w", err)
	}
	logger.CtxInfo(logger.SetImportID(logger.SetOwnerID(ctx, ownerID), imp.ID), "Import created for source %s:%s", settings.Source.Type, settings.Source.Name)
	return imp, nil
}

// Get returns an import by ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Import, error) {
	imp, err := o.imports.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return imp, err
}

// List returns an owner's imports, newest first.
func (o *Orchestrator) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Import, error) {
	return o.imports.List(ctx, ownerID, limit, offset)
}

// Items lists an import's items.
func (o *Orchestrator) Items(ctx context.Context, id string, f repository.ItemFilter) ([]domain.ImportItem, int64, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return o.items.List(ctx, id, f)
}

// Start queues discovery for a pending import.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	imp, err := o.Get(ctx, id)
	if err != nil {
		return err
	}
	if imp.Status != domain.ImportStatusPending {
		return fmt.Errorf("%w: cannot start a %s import", ErrInvalidTransition, imp.Status)
	}
	return o.queue.Enqueue(ctx, queue.TypeImportDiscover, queue.DiscoverPayload{ImportID: id}, queue.Options{
		Queue: queue.QueueImports,
		Key:   queue.DiscoverKey(id),
	})
}

// Discover reads the import's catalog, creates one item per passing entry and
// dispatches item workers batch by batch. Catalog problems fail the import
// and are not returned; only persistence errors are.
func (o *Orchestrator) Discover(ctx context.Context, id string) error {
	ctx = logger.SetImportID(ctx, id)
	imp, err := o.Get(ctx, id)
	if err != nil {
		return err
	}
	if imp.Status == domain.ImportStatusPending {
		if _, err := o.imports.MarkStarted(ctx, id); err != nil {
			return fmt.Errorf("mark started: %w", err)
		}
		if imp, err = o.Get(ctx, id); err != nil {
			return err
		}
	}
	if !imp.IsActive() {
		logger.CtxInfo(ctx, "Skipping discovery of %s import", imp.Status)
		return nil
	}

	o.metrics.DiscoveryStarted()
	defer o.metrics.DiscoveryFinished()
	start := o.now()

	catalog, err := o.catalogs.Open(ctx, imp.Config.Source)
	if err != nil {
		return o.fail(ctx, id, fmt.Sprintf("cannot open catalog: %v", err))
	}
	if err := catalog.TestConnection(ctx); err != nil {
		return o.fail(ctx, id, fmt.Sprintf("catalog connection failed: %v", err))
	}
	stats, err := catalog.GetStatistics(ctx)
	if err != nil {
		return o.fail(ctx, id, fmt.Sprintf("catalog statistics failed: %v", err))
	}

	filter := Filter{imp.Config.Filters}
	summary := domain.JSONMap{
		"catalog":         catalog.Name(),
		"catalog_total":   stats.Total,
		"by_type":         stats.ByType,
		"filters_applied": filter.Applied(),
	}

	if stats.Total == 0 {
		summary["discovered"] = 0
		summary["created"] = 0
		if err := o.imports.FinishDiscovery(ctx, id, 0, summary); err != nil {
			return fmt.Errorf("finish discovery: %w", err)
		}
		if _, err := o.imports.MarkCompleted(ctx, id); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		logger.CtxInfo(ctx, "Catalog %s is empty, import completed", catalog.Name())
		return nil
	}

	expected := stats.Total
	if filter.MaxItems > 0 {
		expected = min(expected, filter.MaxItems)
	}
	if err := o.imports.SetTotal(ctx, id, expected); err != nil {
		return fmt.Errorf("set total: %w", err)
	}

	d := discovery{o: o, imp: imp}
	skipped := map[string]int{}
	discovered, passed := 0, 0
	truncated := false

	for item, err := range catalog.StreamAllItems(ctx) {
		if err != nil {
			return o.fail(ctx, id, fmt.Sprintf("catalog stream failed: %v", err))
		}
		discovered++
		if reason := filter.Reject(item); reason != "" {
			skipped[reason]++
			continue
		}
		if filter.MaxItems > 0 && passed >= filter.MaxItems {
			skipped[skipLimit]++
			truncated = true
			break
		}
		passed++
		d.add(item)

		if len(d.buffer) >= o.cfg.DiscoveryBatchSize {
			stop, err := d.flush(ctx)
			if err != nil {
				return err
			}
			if stop {
				logger.CtxInfo(ctx, "Import cancelled, discovery stopped after %d items", discovered)
				return nil
			}
		}
	}

	stop, err := d.flush(ctx)
	if err != nil {
		return err
	}
	if stop {
		logger.CtxInfo(ctx, "Import cancelled, discovery stopped after %d items", discovered)
		return nil
	}

	created, err := o.items.Count(ctx, id)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	summary["discovered"] = discovered
	summary["created"] = created
	summary["skipped"] = skipped
	summary["truncated"] = truncated
	if err := o.imports.FinishDiscovery(ctx, id, int(created), summary); err != nil {
		return fmt.Errorf("finish discovery: %w", err)
	}
	if _, err := o.imports.CompleteIfDone(ctx, id); err != nil {
		return fmt.Errorf("complete import: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldCount:      created,
		logger.FieldDurationMs: o.now().Sub(start).Milliseconds(),
	}).Info(ctx, "Discovery finished: %d discovered, %d created", discovered, created)
	return nil
}

// discovery buffers items between flushes.
type discovery struct {
	o        *Orchestrator
	imp      *domain.Import
	buffer   []*domain.ImportItem
	position int
	created  int64
}

func (d *discovery) add(item source.Item) {
	d.position++
	d.buffer = append(d.buffer, &domain.ImportItem{
		ImportID:       d.imp.ID,
		SourceID:       item.SourceID,
		Position:       d.position,
		SourceURL:      item.URL,
		Title:          item.Title,
		Filename:       item.Filename,
		MimeType:       item.MimeType,
		SourceMetadata: domain.JSONMap(item.Metadata),
		SourceTakenAt:  item.TakenAt,
	})
}

// flush stores the buffered items, then re-checks the import: a cancelled
// import stops discovery, a paused one keeps its items undispatched.
func (d *discovery) flush(ctx context.Context) (stop bool, err error) {
	if len(d.buffer) > 0 {
		n, err := d.o.items.CreateBatch(ctx, d.buffer)
		if err != nil {
			return false, fmt.Errorf("create items: %w", err)
		}
		d.created += n
		d.buffer = d.buffer[:0]
		if err := d.o.imports.RaiseTotal(ctx, d.imp.ID, int(d.created)); err != nil {
			return false, fmt.Errorf("raise total: %w", err)
		}
	}

	imp, err := d.o.Get(ctx, d.imp.ID)
	if err != nil {
		return false, err
	}
	switch imp.Status {
	case domain.ImportStatusRunning:
		if _, err := d.o.dispatch(ctx, imp, false); err != nil {
			return false, err
		}
		return false, nil
	case domain.ImportStatusPaused:
		return false, nil
	default:
		return true, nil
	}
}

// DispatchPending queues a worker for every pending item not yet dispatched.
func (o *Orchestrator) DispatchPending(ctx context.Context, id string) (int, error) {
	imp, err := o.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !imp.IsActive() {
		return 0, nil
	}
	return o.dispatch(ctx, imp, false)
}

// dispatch enqueues item tasks in discovery order. With all set, items
// dispatched earlier are enqueued again; their idempotency key turns the
// enqueue into a no-op while the earlier task is still held.
func (o *Orchestrator) dispatch(ctx context.Context, imp *domain.Import, all bool) (int, error) {
	var (
		items []domain.ImportItem
		err   error
	)
	if all {
		items, err = o.items.ListPending(ctx, imp.ID)
	} else {
		items, err = o.items.ListUndispatched(ctx, imp.ID)
	}
	if err != nil {
		return 0, fmt.Errorf("list pending items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var (
		mu         sync.Mutex
		dispatched = make([]string, 0, len(items))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dispatchParallel)
	for _, it := range items {
		g.Go(func() error {
			deadline := o.now().Add(o.cfg.ItemDeadline)
			if o.cfg.ItemDeadline <= 0 {
				deadline = time.Time{}
			}
			err := o.queue.Enqueue(gctx, queue.TypeImportItem, queue.ItemPayload{
				ImportID: imp.ID,
				ItemID:   it.ID,
				Deadline: deadline,
			}, queue.Options{
				Queue:    queue.QueueImportItems,
				Delay:    jitter(o.cfg.DispatchJitter),
				Key:      queue.ItemKey(it.ID, it.RetryCount),
				MaxRetry: o.cfg.MaxRetries,
				Timeout:  o.cfg.ItemTimeout,
				Deadline: deadline,
			})
			if err != nil {
				return fmt.Errorf("dispatch item %s: %w", it.ID, err)
			}
			mu.Lock()
			dispatched = append(dispatched, it.ID)
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()

	if err := o.items.MarkDispatched(ctx, dispatched); err != nil {
		return len(dispatched), fmt.Errorf("mark dispatched: %w", err)
	}
	if waitErr != nil {
		return len(dispatched), waitErr
	}
	logger.With(logger.Fields{logger.FieldCount: len(dispatched)}).Debug(ctx, "Dispatched import items")
	return len(dispatched), nil
}

// Pause stops further dispatch of a running import. It reports false when
// the import was not running.
func (o *Orchestrator) Pause(ctx context.Context, id string) (bool, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return false, err
	}
	changed, err := o.imports.Transition(ctx, id, domain.SourcesOf(domain.ImportStatusPaused), domain.ImportStatusPaused, nil)
	if err != nil {
		return false, fmt.Errorf("pause import: %w", err)
	}
	if changed {
		logger.CtxInfo(logger.SetImportID(ctx, id), "Import paused")
	}
	return changed, nil
}

// Resume continues a paused import and dispatches its pending items. It
// reports false when the import was not paused.
func (o *Orchestrator) Resume(ctx context.Context, id string) (bool, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return false, err
	}
	changed, err := o.imports.Transition(ctx, id, []domain.ImportStatus{domain.ImportStatusPaused}, domain.ImportStatusRunning, nil)
	if err != nil {
		return false, fmt.Errorf("resume import: %w", err)
	}
	if !changed {
		return false, nil
	}

	ctx = logger.SetImportID(ctx, id)
	imp, err := o.Get(ctx, id)
	if err != nil {
		return true, err
	}
	n, err := o.dispatch(ctx, imp, true)
	if err != nil {
		return true, err
	}
	if _, err := o.imports.CompleteIfDone(ctx, id); err != nil {
		return true, fmt.Errorf("complete import: %w", err)
	}
	logger.CtxInfo(ctx, "Import resumed, %d items dispatched", n)
	return true, nil
}

// Cancel stops an import in any non-terminal state. Items already running
// finish; nothing new starts. It reports false when the import had already
// ended.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return false, err
	}
	changed, err := o.imports.Transition(ctx, id, domain.SourcesOf(domain.ImportStatusCancelled), domain.ImportStatusCancelled,
		map[string]interface{}{"completed_at": o.now().UTC()})
	if err != nil {
		return false, fmt.Errorf("cancel import: %w", err)
	}
	if changed {
		logger.CtxInfo(logger.SetImportID(ctx, id), "Import cancelled")
	}
	return changed, nil
}

// RetryFailed resets every failed item to pending, reopens the import and
// dispatches the items again. Returns how many items were reset.
func (o *Orchestrator) RetryFailed(ctx context.Context, id string) (int64, error) {
	imp, err := o.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if imp.Status == domain.ImportStatusCancelled || imp.Status == domain.ImportStatusPending {
		return 0, fmt.Errorf("%w: cannot retry items of a %s import", ErrInvalidTransition, imp.Status)
	}
	if imp.Status == domain.ImportStatusFailed && imp.DiscoveryFinishedAt == nil {
		return 0, fmt.Errorf("%w: import failed before discovery finished", ErrInvalidTransition)
	}

	n, err := o.imports.ResetFailed(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("reset failed items: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	ctx = logger.SetImportID(ctx, id)
	logger.CtxInfo(ctx, "Reset %d failed items", n)
	if imp, err = o.Get(ctx, id); err != nil {
		return n, err
	}
	if _, err := o.dispatch(ctx, imp, false); err != nil {
		return n, err
	}
	return n, nil
}

// Status is an import with its per-status item counts.
type Status struct {
	Import   *domain.Import                    `json:"import"`
	Items    map[domain.ImportItemStatus]int64 `json:"items"`
	Progress float64                           `json:"progress"`
}

// Status returns the import's counters and item breakdown.
func (o *Orchestrator) Status(ctx context.Context, id string) (*Status, error) {
	imp, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := o.items.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	return &Status{Import: imp, Items: counts, Progress: imp.Progress()}, nil
}

func (o *Orchestrator) fail(ctx context.Context, id, reason string) error {
	logger.CtxError(ctx, "Import failed: %s", reason)
	if _, err := o.imports.MarkFailed(ctx, id, reason); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
