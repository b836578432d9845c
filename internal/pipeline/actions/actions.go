// Package actions holds the concrete pipeline stages and their static
// registration list.
package actions

import (
	"context"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/storage"
)

// Priorities of the built-in actions.
const (
	PriorityValidate    = 10
	PriorityFingerprint = 20
	PriorityDimensions  = 30
	PriorityFilename    = 40
	PriorityStore       = 100
)

// MediaStore is the persistence the actions need.
type MediaStore interface {
	Create(ctx context.Context, m *domain.Media) error
	FindByHash(ctx context.Context, ownerID, hash string) (*domain.Media, error)
	Delete(ctx context.Context, id string) error
}

// ReviewCleaner removes duplicate reviews of a replaced media.
type ReviewCleaner interface {
	DeleteByMedia(ctx context.Context, mediaID string) error
}

// DiskResolver maps a disk name to a backend.
type DiskResolver interface {
	Disk(ctx context.Context, name string) (storage.ObjectStorage, error)
}

// Deps are the collaborators shared by the built-in actions.
type Deps struct {
	Media   MediaStore
	Reviews ReviewCleaner // optional
	Disks   DiskResolver
}

// Register adds every built-in action to reg.
func Register(reg *pipeline.Registry, deps Deps) {
	reg.Register(NewValidate())
	reg.Register(NewFingerprint(deps))
	reg.Register(NewDimensions())
	reg.Register(NewFilename(deps.Disks))
	reg.Register(NewStore(deps))
}

// NewRegistry returns a registry populated with the built-in actions.
func NewRegistry(deps Deps) *pipeline.Registry {
	reg := pipeline.NewRegistry()
	Register(reg, deps)
	return reg
}

// base provides the Name/Priority/Options plumbing for the built-in actions.
type base struct {
	name     string
	priority int
	options  []pipeline.Option
}

func (b base) Name() string               { return b.name }
func (b base) Priority() int              { return b.priority }
func (b base) Options() []pipeline.Option { return b.options }
