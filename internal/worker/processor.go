// Package worker connects asynq task delivery to the importer and the
// duplicate detection engine.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/timmy/mediavault/internal/dedup"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	orchestrator *importer.Orchestrator
	items        *importer.ItemWorker
	detector     *dedup.Engine
	backoff      queue.Backoff
	now          func() time.Time
}

// NewProcessor constructs a worker processor.
func NewProcessor(o *importer.Orchestrator, items *importer.ItemWorker, detector *dedup.Engine, backoff queue.Backoff) *Processor {
	return &Processor{
		orchestrator: o,
		items:        items,
		detector:     detector,
		backoff:      backoff,
		now:          time.Now,
	}
}

// Handler registers one handler per task type.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(logTask)
	mux.HandleFunc(queue.TypeImportDiscover, p.handleDiscover)
	mux.HandleFunc(queue.TypeImportItem, p.handleItem)
	mux.HandleFunc(queue.TypeMediaDetect, p.handleDetect)
	return mux
}

func (p *Processor) handleDiscover(ctx context.Context, task *asynq.Task) error {
	var payload queue.DiscoverPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	return p.orchestrator.Discover(ctx, payload.ImportID)
}

func (p *Processor) handleItem(ctx context.Context, task *asynq.Task) error {
	var payload queue.ItemPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	at := importer.Attempt{
		Number: retried + 1,
		Final:  p.backoff.Exhausted(retried, maxRetry, p.now(), payload.Deadline),
	}
	return p.items.Process(ctx, payload.ImportID, payload.ItemID, at)
}

func (p *Processor) handleDetect(ctx context.Context, task *asynq.Task) error {
	var payload queue.DetectPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	_, err := p.detector.DetectByID(ctx, payload.MediaID)
	return err
}

// decode rejects malformed payloads without retry.
func decode(task *asynq.Task, v any) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// logTask tags the context logger with the task type and logs failures.
func logTask(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		ctx = logger.WithField(ctx, logger.FieldTaskType, task.Type())
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		entry := logger.Since(start)
		if err != nil {
			entry.Warn(ctx, "Task failed: %v", err)
			return err
		}
		entry.Debug(ctx, "Task done")
		return nil
	})
}
