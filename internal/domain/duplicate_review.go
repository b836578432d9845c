package domain

import "time"

// Detection methods recorded on a DuplicateReview.
const (
	DetectionMethodHash       = "hash"
	DetectionMethodPerceptual = "perceptual"
	DetectionMethodFilename   = "filename"
)

// ReviewDecision is the human verdict on a candidate duplicate pair.
type ReviewDecision string

const (
	DecisionKeepBoth     ReviewDecision = "keep_both"
	DecisionKeepNew      ReviewDecision = "keep_new"
	DecisionKeepExisting ReviewDecision = "keep_existing"
	DecisionNotDuplicate ReviewDecision = "not_duplicate"
)

// Valid reports whether d is a known decision.
func (d ReviewDecision) Valid() bool {
	switch d {
	case DecisionKeepBoth, DecisionKeepNew, DecisionKeepExisting, DecisionNotDuplicate:
		return true
	}
	return false
}

// DuplicateReview pairs a new Media with an existing one. At most one row exists
// per (MediaID, DuplicateOfID).
type DuplicateReview struct {
	ID              string          `gorm:"type:text;primaryKey" json:"id"`
	MediaID         string          `gorm:"type:text;not null;uniqueIndex:idx_review_pair,priority:1" json:"media_id"`
	DuplicateOfID   string          `gorm:"type:text;not null;uniqueIndex:idx_review_pair,priority:2;index" json:"duplicate_of_id"`
	OwnerID         string          `gorm:"type:text;not null;index" json:"owner_id"`
	SimilarityScore float64         `gorm:"not null" json:"similarity_score"`
	DetectionMethod string          `gorm:"type:text;not null" json:"detection_method"`
	Decision        *ReviewDecision `gorm:"type:text" json:"decision,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	Comparison      JSONMap         `gorm:"type:text" json:"comparison"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName returns the database table name for DuplicateReview.
func (DuplicateReview) TableName() string {
	return "duplicate_reviews"
}

// IsPending reports whether no decision has been recorded yet.
func (r *DuplicateReview) IsPending() bool {
	return r.Decision == nil
}
