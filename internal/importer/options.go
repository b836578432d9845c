package importer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/queue"
)

// Defaults fill the storage and validation settings an import or upload
// leaves empty.
type Defaults struct {
	Disk     string
	Pipeline config.PipelineConfig
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
}

// contextOptions builds pipeline options from an owner's storage target and
// processing flags.
func (d Defaults) contextOptions(ownerID string, target domain.StorageTarget, proc domain.ProcessingSettings) pipeline.Options {
	opts := pipeline.Options{
		OwnerID:          ownerID,
		Disk:             target.Disk,
		Directory:        target.Directory,
		Public:           target.Public,
		PreserveFilename: proc.PreserveFilename,
		UniqueFilename:   proc.UniqueFilename,
		MaxSize:          proc.MaxSize,
		AllowedMimes:     proc.AllowedMimes,
		Config: map[string]any{
			pipeline.ConfigDuplicateStrategy: string(proc.Strategy()),
		},
	}
	if opts.Disk == "" {
		opts.Disk = d.Disk
	}
	if opts.Directory == "" {
		opts.Directory = d.Pipeline.DefaultDirectory
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = d.Pipeline.MaxSize
	}
	if len(opts.AllowedMimes) == 0 {
		opts.AllowedMimes = d.Pipeline.AllowedMimes
	}
	if len(proc.Tags) > 0 {
		opts.Config[pipeline.ConfigTags] = proc.Tags
	}
	return opts
}

// jitter returns a random delay in [0, window).
func jitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window)
}

// between returns a random delay in [lo, hi].
func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// scheduleDetection queues duplicate detection for a freshly stored media.
// Failures are logged only; detection never fails ingestion.
func scheduleDetection(ctx context.Context, q queue.Enqueuer, cfg config.ImportConfig, mediaID string) {
	err := q.Enqueue(ctx, queue.TypeMediaDetect, queue.DetectPayload{MediaID: mediaID}, queue.Options{
		Queue: queue.QueueDetection,
		Delay: between(cfg.DetectDelayMin, cfg.DetectDelayMax),
		Key:   queue.DetectKey(mediaID),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Failed to schedule duplicate detection for %s", mediaID)
	}
}
