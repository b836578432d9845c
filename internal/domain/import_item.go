package domain

import "time"

// ImportItemStatus is the processing state of a single import item.
type ImportItemStatus string

const (
	ImportItemPending    ImportItemStatus = "pending"
	ImportItemProcessing ImportItemStatus = "processing"
	ImportItemCompleted  ImportItemStatus = "completed"
	ImportItemFailed     ImportItemStatus = "failed"

	// ImportItemDuplicateReview parks an item whose media awaits a review decision.
	ImportItemDuplicateReview ImportItemStatus = "duplicate_review"
)

// IsFinished reports whether the item already has a recorded outcome.
func (s ImportItemStatus) IsFinished() bool {
	return s == ImportItemCompleted || s == ImportItemFailed || s == ImportItemDuplicateReview
}

// ImportItem is one unit of work inside an Import. Rows are created during
// discovery and afterwards only touched by the item's own worker. Position
// records discovery order, which is also dispatch order.
type ImportItem struct {
	ID             string           `gorm:"type:text;primaryKey" json:"id"`
	ImportID       string           `gorm:"type:text;not null;uniqueIndex:idx_import_items_source,priority:1;index:idx_import_items_status,priority:1" json:"import_id"`
	SourceID       string           `gorm:"type:text;not null;uniqueIndex:idx_import_items_source,priority:2" json:"source_id"`
	Position       int              `gorm:"not null;default:0" json:"position"`
	SourceURL      string           `gorm:"type:text;not null" json:"source_url"`
	Title          string           `gorm:"type:text" json:"title"`
	Filename       string           `gorm:"type:text" json:"filename"`
	MimeType       string           `gorm:"type:text" json:"mime_type"`
	SourceMetadata JSONMap          `gorm:"type:text" json:"source_metadata"`
	SourceTakenAt  *time.Time       `json:"source_taken_at,omitempty"`
	MediaID        *string          `gorm:"type:text" json:"media_id,omitempty"`
	Status         ImportItemStatus `gorm:"type:text;not null;default:pending;index:idx_import_items_status,priority:2" json:"status"`
	ErrorMessage   string           `gorm:"type:text" json:"error_message,omitempty"`
	Attempts       int              `gorm:"not null;default:0" json:"attempts"`
	RetryCount     int              `gorm:"not null;default:0" json:"retry_count"`
	DispatchedAt   *time.Time       `json:"dispatched_at,omitempty"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TableName returns the database table name for ImportItem.
func (ImportItem) TableName() string {
	return "import_items"
}
