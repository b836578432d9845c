package importer

import (
	"context"
	"fmt"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/queue"
)

// UploadRequest is a direct upload of a local file.
type UploadRequest struct {
	OwnerID           string                   `validate:"required"`
	File              pipeline.File            `validate:"required"`
	Storage           domain.StorageTarget     `validate:"-"`
	DuplicateStrategy domain.DuplicateStrategy `validate:"omitempty,oneof=skip replace rename"`
	PreserveFilename  bool
	UniqueFilename    bool
	Tags              []string       `validate:"omitempty,dive,required,max=64"`
	Metadata          map[string]any `validate:"-"`
}

// Uploader runs direct uploads through the pipeline.
type Uploader struct {
	executor *pipeline.Executor
	queue    queue.Enqueuer
	defaults Defaults
	cfg      config.ImportConfig
}

// NewUploader creates an Uploader.
func NewUploader(executor *pipeline.Executor, q queue.Enqueuer, defaults Defaults, cfg config.ImportConfig) *Uploader {
	return &Uploader{executor: executor, queue: q, defaults: defaults, cfg: cfg}
}

// Upload stores req.File. A pipeline failure is returned as the
// *pipeline.Failure error; the caller keeps ownership of the local file.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (*pipeline.Success, error) {
	if err := validate.StructCtx(ctx, req); err != nil {
		return nil, validationError(err)
	}

	ctx = logger.SetOwnerID(ctx, req.OwnerID)
	opts := u.defaults.contextOptions(req.OwnerID, req.Storage, domain.ProcessingSettings{
		DuplicateStrategy: req.DuplicateStrategy,
		PreserveFilename:  req.PreserveFilename,
		UniqueFilename:    req.UniqueFilename,
		Tags:              req.Tags,
	})
	opts.Config[pipeline.ConfigSource] = "upload"
	opts.Metadata = req.Metadata

	result := u.executor.Run(ctx, pipeline.NewContext(req.File, opts))
	switch r := result.(type) {
	case *pipeline.Success:
		if r.Record != nil && !r.Duplicate() {
			scheduleDetection(ctx, u.queue, u.cfg, r.Record.ID)
		}
		logger.CtxInfo(ctx, "Upload stored at %s (duplicate=%t)", r.Path, r.Duplicate())
		return r, nil
	case *pipeline.Failure:
		return nil, r
	default:
		return nil, fmt.Errorf("pipeline returned %T", result)
	}
}
