package actions

import (
	"context"
	"maps"
	"os"
	"time"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
)

// Store writes the file to its disk and creates the Media record. A failed
// insert removes the written object again.
type Store struct {
	base
	media MediaStore
	disks DiskResolver
}

// NewStore creates the store action.
func NewStore(deps Deps) *Store {
	return &Store{
		base:  base{name: "store", priority: PriorityStore},
		media: deps.Media,
		disks: deps.Disks,
	}
}

func (a *Store) Applies(*pipeline.Context) bool { return true }

func (a *Store) Execute(ctx context.Context, c *pipeline.Context) pipeline.Result {
	key := c.StateString(pipeline.StateTargetPath)
	name := c.StateString(pipeline.StateFilename)
	if key == "" || name == "" {
		return pipeline.Fail(pipeline.ErrConfiguration, "no target path was chosen before store", nil)
	}

	disk, err := a.disks.Disk(ctx, c.Disk())
	if err != nil {
		return pipeline.Fail(pipeline.ErrConfiguration, "storage disk unavailable", map[string]string{"disk": err.Error()})
	}

	file := c.File()
	f, err := os.Open(file.Path)
	if err != nil {
		return pipeline.Fail(pipeline.ErrValidation, "file is not readable", map[string]string{"file": err.Error()})
	}
	defer f.Close()

	start := time.Now()
	if err := disk.Put(ctx, key, f, file.Size, file.MimeType); err != nil {
		return pipeline.Fail(pipeline.ErrStorage, "failed to write file", map[string]string{"storage": err.Error()})
	}

	rollback := func(reason string) {
		if delErr := disk.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logger.FromContext(ctx).WithFields(logger.Fields{
				"storage_key": key,
			}).WithError(delErr).Errorf("Failed to rollback storage upload after %s", reason)
		}
	}

	url, err := disk.URL(ctx, key, c.Public())
	if err != nil {
		rollback("url failure")
		return pipeline.Fail(pipeline.ErrStorage, "failed to resolve file URL", map[string]string{"storage": err.Error()})
	}

	metadata := c.Metadata()
	width, _ := metadata[pipeline.MetaWidth].(int)
	height, _ := metadata[pipeline.MetaHeight].(int)
	tags, _ := c.ConfigValue(pipeline.ConfigTags)
	tagList, _ := tags.([]string)

	record := &domain.Media{
		OwnerID:          c.OwnerID(),
		ContentHash:      c.StateString(pipeline.StateContentHash),
		Disk:             c.Disk(),
		Path:             key,
		URL:              url,
		Filename:         name,
		OriginalFilename: file.Name,
		MimeType:         file.MimeType,
		Size:             file.Size,
		Width:            width,
		Height:           height,
		IsPublic:         c.Public(),
		Source:           c.ConfigString(pipeline.ConfigSource),
		DuplicateStatus:  domain.DuplicateStatusUnique,
		Tags:             domain.StringArray(tagList),
		Metadata:         domain.JSONMap(metadata),
	}
	if err := a.media.Create(ctx, record); err != nil {
		rollback("database failure")
		return pipeline.Fail(pipeline.ErrStorage, "failed to save media record", map[string]string{"database": err.Error()})
	}

	logger.With(logger.Fields{
		logger.FieldMediaID:    record.ID,
		logger.FieldSize:       file.Size,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Stored %s", key)

	out := maps.Clone(metadata)
	out[pipeline.MetaDuplicate] = false
	return &pipeline.Success{
		Record:   record,
		Path:     key,
		URL:      url,
		Filename: name,
		Size:     file.Size,
		MimeType: file.MimeType,
		Metadata: out,
	}
}
