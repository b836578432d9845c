package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// ImportStatus represents the state of a bulk import batch.
type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusPaused    ImportStatus = "paused"
	ImportStatusCancelled ImportStatus = "cancelled"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// importTransitions lists the allowed target states per source state.
// paused <-> running is the only cycle; everything else moves forward.
var importTransitions = map[ImportStatus][]ImportStatus{
	ImportStatusPending: {ImportStatusRunning, ImportStatusCancelled},
	ImportStatusRunning: {ImportStatusPaused, ImportStatusCancelled, ImportStatusCompleted, ImportStatusFailed},
	ImportStatusPaused:  {ImportStatusRunning, ImportStatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s ImportStatus) IsTerminal() bool {
	return len(importTransitions[s]) == 0
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ImportStatus) bool {
	return slices.Contains(importTransitions[from], to)
}

// SourcesOf returns every state from which to is reachable in one step.
func SourcesOf(to ImportStatus) []ImportStatus {
	var from []ImportStatus
	for _, s := range []ImportStatus{ImportStatusPending, ImportStatusRunning, ImportStatusPaused} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// DuplicateStrategy decides what an import does with exact-hash duplicates.
type DuplicateStrategy string

const (
	DuplicateSkip    DuplicateStrategy = "skip"
	DuplicateReplace DuplicateStrategy = "replace"
	DuplicateRename  DuplicateStrategy = "rename"
)

// ImportSettings is the per-import configuration persisted as JSON.
type ImportSettings struct {
	Source     SourceSettings     `json:"source" validate:"required"`
	Filters    ImportFilters      `json:"filters"`
	Storage    StorageTarget      `json:"storage"`
	Processing ProcessingSettings `json:"processing"`
}

// SourceSettings identifies the external catalog. CredentialsRef names a
// secret held elsewhere; credentials themselves are never stored here.
type SourceSettings struct {
	Type           string `json:"type" validate:"required,oneof=staging remote"`
	Name           string `json:"name" validate:"required"`
	CredentialsRef string `json:"credentials_ref,omitempty"`
}

type ImportFilters struct {
	MediaTypes []string   `json:"media_types,omitempty" validate:"omitempty,dive,oneof=image video audio document other"`
	DateFrom   *time.Time `json:"date_from,omitempty"`
	DateTo     *time.Time `json:"date_to,omitempty" validate:"omitempty,gtefield=DateFrom"`
	MaxItems   int        `json:"max_items,omitempty" validate:"gte=0"`
}

type StorageTarget struct {
	Disk      string `json:"disk,omitempty"`
	Directory string `json:"directory,omitempty"`
	Public    bool   `json:"public"`
}

type ProcessingSettings struct {
	DuplicateStrategy DuplicateStrategy `json:"duplicate_strategy,omitempty" validate:"omitempty,oneof=skip replace rename"`
	PreserveFilename  bool              `json:"preserve_filename"`
	UniqueFilename    bool              `json:"unique_filename"`
	MaxSize           int64             `json:"max_size,omitempty" validate:"gte=0"`
	AllowedMimes      []string          `json:"allowed_mimes,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
}

// Strategy returns the configured duplicate strategy, defaulting to skip.
func (p ProcessingSettings) Strategy() DuplicateStrategy {
	if p.DuplicateStrategy == "" {
		return DuplicateSkip
	}
	return p.DuplicateStrategy
}

// Value implements the driver.Valuer interface for database serialization.
func (s ImportSettings) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (s *ImportSettings) Scan(value interface{}) error {
	if value == nil {
		*s = ImportSettings{}
		return nil
	}
	raw, err := scanBytes(value)
	if err != nil {
		return errors.New("failed to scan ImportSettings")
	}
	return json.Unmarshal(raw, s)
}

// Import is one supervised bulk-ingestion batch. Counters are only ever
// changed with single-statement increments so concurrent workers never lose
// updates; ProcessedItems == SuccessfulItems + FailedItems at all times.
type Import struct {
	ID                  string         `gorm:"type:text;primaryKey" json:"id"`
	OwnerID             string         `gorm:"type:text;not null;index" json:"owner_id"`
	Status              ImportStatus   `gorm:"type:text;not null;index;default:pending" json:"status"`
	TotalItems          int            `gorm:"not null;default:0" json:"total_items"`
	ProcessedItems      int            `gorm:"not null;default:0" json:"processed_items"`
	SuccessfulItems     int            `gorm:"not null;default:0" json:"successful_items"`
	FailedItems         int            `gorm:"not null;default:0" json:"failed_items"`
	DuplicateItems      int            `gorm:"not null;default:0" json:"duplicate_items"`
	Config              ImportSettings `gorm:"type:text" json:"config"`
	Summary             JSONMap        `gorm:"type:text" json:"summary"`
	FailureReason       string         `gorm:"type:text" json:"failure_reason,omitempty"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	DiscoveryFinishedAt *time.Time     `json:"discovery_finished_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Import.
func (Import) TableName() string {
	return "imports"
}

// IsActive reports whether workers may start new items.
func (i *Import) IsActive() bool {
	return i.Status == ImportStatusRunning
}

// CanPause reports whether pause() is allowed (running only).
func (i *Import) CanPause() bool {
	return CanTransition(i.Status, ImportStatusPaused)
}

// CanResume reports whether resume() is allowed (paused only).
func (i *Import) CanResume() bool {
	return i.Status == ImportStatusPaused
}

// CanCancel reports whether cancel() is allowed (any non-terminal state).
func (i *Import) CanCancel() bool {
	return CanTransition(i.Status, ImportStatusCancelled)
}

// Progress returns the processed share in percent, or 0 while the total is unknown.
func (i *Import) Progress() float64 {
	if i.TotalItems <= 0 {
		return 0
	}
	return float64(i.ProcessedItems) / float64(i.TotalItems) * 100
}
