package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// DuplicateStatus is the review state of a stored media record.
type DuplicateStatus string

const (
	DuplicateStatusUnique             DuplicateStatus = "unique"
	DuplicateStatusPendingReview      DuplicateStatus = "pending_review"
	DuplicateStatusConfirmedDuplicate DuplicateStatus = "confirmed_duplicate"
)

// Media categories derived from MIME types; used by import filters.
const (
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryAudio    = "audio"
	CategoryDocument = "document"
	CategoryOther    = "other"
)

// Media is a stored artifact. DuplicateOfID points at another Media row by ID
// and is resolved by lookup, never as a loaded relation.
type Media struct {
	ID               string          `gorm:"type:text;primaryKey" json:"id"`
	OwnerID          string          `gorm:"type:text;not null;index:idx_media_owner_hash,priority:1" json:"owner_id"`
	ContentHash      string          `gorm:"type:text;not null;index:idx_media_owner_hash,priority:2" json:"content_hash"`
	Disk             string          `gorm:"type:text;not null" json:"disk"`
	Path             string          `gorm:"type:text;not null" json:"path"`
	URL              string          `gorm:"type:text" json:"url"`
	Filename         string          `gorm:"type:text;not null" json:"filename"`
	OriginalFilename string          `gorm:"type:text" json:"original_filename"`
	MimeType         string          `gorm:"type:text;index" json:"mime_type"`
	Size             int64           `json:"size"`
	Width            int             `json:"width"`
	Height           int             `json:"height"`
	IsPublic         bool            `json:"is_public"`
	Source           string          `gorm:"type:text" json:"source"`
	DuplicateStatus  DuplicateStatus `gorm:"type:text;index;default:unique" json:"duplicate_status"`
	DuplicateOfID    *string         `gorm:"type:text" json:"duplicate_of_id,omitempty"`
	SimilarityScore  *float64        `json:"similarity_score,omitempty"`
	Tags             StringArray     `gorm:"type:text" json:"tags"`
	Metadata         JSONMap         `gorm:"type:text" json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Media.
func (Media) TableName() string {
	return "media"
}

// IsImage reports whether the media is an image.
func (m *Media) IsImage() bool {
	return MediaCategory(m.MimeType) == CategoryImage
}

// HasDimensions reports whether width and height are known.
func (m *Media) HasDimensions() bool {
	return m.Width > 0 && m.Height > 0
}

// BaseName returns the original filename without its extension.
func (m *Media) BaseName() string {
	name := m.OriginalFilename
	if name == "" {
		name = m.Filename
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// MediaCategory maps a MIME type onto the coarse category used by filters.
func MediaCategory(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return CategoryAudio
	case mimeType == "application/pdf", strings.HasPrefix(mimeType, "text/"):
		return CategoryDocument
	default:
		return CategoryOther
	}
}
