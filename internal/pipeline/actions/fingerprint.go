package actions

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/repository"
)

// Fingerprint hashes the file and applies the exact-hash duplicate strategy.
type Fingerprint struct {
	base
	media   MediaStore
	reviews ReviewCleaner
	disks   DiskResolver
}

// NewFingerprint creates the fingerprint action.
func NewFingerprint(deps Deps) *Fingerprint {
	return &Fingerprint{
		base: base{
			name:     "fingerprint",
			priority: PriorityFingerprint,
			options: []pipeline.Option{{
				Key:         pipeline.ConfigDuplicateStrategy,
				Type:        pipeline.OptionEnum,
				Choices:     []string{string(domain.DuplicateSkip), string(domain.DuplicateReplace), string(domain.DuplicateRename)},
				Description: "What to do when the owner already stored identical bytes.",
			}},
		},
		media:   deps.Media,
		reviews: deps.Reviews,
		disks:   deps.Disks,
	}
}

func (a *Fingerprint) Applies(*pipeline.Context) bool { return true }

func (a *Fingerprint) Execute(ctx context.Context, c *pipeline.Context) pipeline.Result {
	hash, err := FileMD5(c.File().Path)
	if err != nil {
		return pipeline.Fail(pipeline.ErrValidation, "could not hash file", map[string]string{"file": err.Error()})
	}
	next := c.WithState(pipeline.StateContentHash, hash)

	strategy := domain.DuplicateStrategy(c.ConfigString(pipeline.ConfigDuplicateStrategy))
	if strategy != domain.DuplicateSkip && strategy != domain.DuplicateReplace {
		return pipeline.Next(next)
	}

	existing, err := a.media.FindByHash(ctx, c.OwnerID(), hash)
	if errors.Is(err, repository.ErrNotFound) {
		return pipeline.Next(next)
	}
	if err != nil {
		return pipeline.Fail(pipeline.ErrStorage, "duplicate lookup failed", map[string]string{"database": err.Error()})
	}

	if strategy == domain.DuplicateSkip {
		logger.CtxInfo(ctx, "Skipping duplicate of media %s", existing.ID)
		return &pipeline.Success{
			Record:   existing,
			Path:     existing.Path,
			URL:      existing.URL,
			Filename: existing.Filename,
			Size:     existing.Size,
			MimeType: existing.MimeType,
			Metadata: map[string]any{
				pipeline.MetaDuplicate:   true,
				pipeline.MetaDuplicateOf: existing.ID,
			},
		}
	}

	if err := a.replace(ctx, existing); err != nil {
		return pipeline.Fail(pipeline.ErrStorage, "could not replace existing media", map[string]string{"storage": err.Error()})
	}
	return pipeline.Next(next.WithMetadata("replaced_id", existing.ID))
}

// replace deletes the conflicting media, its object and its reviews.
func (a *Fingerprint) replace(ctx context.Context, existing *domain.Media) error {
	disk, err := a.disks.Disk(ctx, existing.Disk)
	if err != nil {
		return err
	}
	if err := disk.Delete(ctx, existing.Path); err != nil {
		return fmt.Errorf("delete object %s: %w", existing.Path, err)
	}
	if a.reviews != nil {
		if err := a.reviews.DeleteByMedia(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete reviews of %s: %w", existing.ID, err)
		}
	}
	if err := a.media.Delete(ctx, existing.ID); err != nil {
		return fmt.Errorf("delete media %s: %w", existing.ID, err)
	}
	logger.CtxInfo(ctx, "Replaced media %s", existing.ID)
	return nil
}

// FileMD5 returns the hex MD5 of the file at path.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
