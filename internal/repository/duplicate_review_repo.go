package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/mediavault/internal/domain"
)

// ErrAlreadyDecided is returned when a review already carries a decision.
var ErrAlreadyDecided = errors.New("review already decided")

// DuplicateReviewRepository persists candidate duplicate pairs.
type DuplicateReviewRepository struct {
	db *gorm.DB
}

// NewDuplicateReviewRepository creates a new DuplicateReviewRepository.
func NewDuplicateReviewRepository(db *gorm.DB) *DuplicateReviewRepository {
	return &DuplicateReviewRepository{db: db}
}

// Upsert creates the review for (MediaID, DuplicateOfID) or, when one exists,
// raises its score, method and comparison if the new score is strictly higher.
// The whole find-or-create-or-update is one INSERT ... ON CONFLICT statement.
// On return review holds the stored row, so its ID is the surviving one.
func (r *DuplicateReviewRepository) Upsert(ctx context.Context, review *domain.DuplicateReview) error {
	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "media_id"}, {Name: "duplicate_of_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"similarity_score", "detection_method", "comparison", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "duplicate_reviews.similarity_score < excluded.similarity_score"},
		}},
	}).Create(review).Error
	if err != nil {
		return err
	}

	stored, err := r.Get(ctx, review.MediaID, review.DuplicateOfID)
	if err != nil {
		return err
	}
	*review = *stored
	return nil
}

// Get returns the review for a pair.
func (r *DuplicateReviewRepository) Get(ctx context.Context, mediaID, duplicateOfID string) (*domain.DuplicateReview, error) {
	var review domain.DuplicateReview
	err := r.db.WithContext(ctx).
		First(&review, "media_id = ? AND duplicate_of_id = ?", mediaID, duplicateOfID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &review, nil
}

// GetByID retrieves a review by its ID.
func (r *DuplicateReviewRepository) GetByID(ctx context.Context, id string) (*domain.DuplicateReview, error) {
	var review domain.DuplicateReview
	if err := r.db.WithContext(ctx).First(&review, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &review, nil
}

// ListByMedia returns every review raised for a media, best score first.
func (r *DuplicateReviewRepository) ListByMedia(ctx context.Context, mediaID string) ([]domain.DuplicateReview, error) {
	var out []domain.DuplicateReview
	err := r.db.WithContext(ctx).
		Where("media_id = ?", mediaID).
		Order("similarity_score DESC").
		Find(&out).Error
	return out, err
}

// ListPending returns undecided reviews for an owner.
func (r *DuplicateReviewRepository) ListPending(ctx context.Context, ownerID string, limit, offset int) ([]domain.DuplicateReview, error) {
	var out []domain.DuplicateReview
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND decision IS NULL", ownerID).
		Order("similarity_score DESC, created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	return out, err
}

// CountPendingForMedia counts undecided reviews raised for a media.
func (r *DuplicateReviewRepository) CountPendingForMedia(ctx context.Context, mediaID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.DuplicateReview{}).
		Where("media_id = ? AND decision IS NULL", mediaID).
		Count(&n).Error
	return n, err
}

// Decide records a decision on an undecided review.
func (r *DuplicateReviewRepository) Decide(ctx context.Context, id string, decision domain.ReviewDecision) (*domain.DuplicateReview, error) {
	res := r.db.WithContext(ctx).Model(&domain.DuplicateReview{}).
		Where("id = ? AND decision IS NULL", id).
		Updates(map[string]interface{}{
			"decision":   decision,
			"decided_at": now(),
			"updated_at": now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyDecided
	}
	return r.GetByID(ctx, id)
}

// DeleteByMedia removes every review that references a media on either side.
func (r *DuplicateReviewRepository) DeleteByMedia(ctx context.Context, mediaID string) error {
	return r.db.WithContext(ctx).
		Where("media_id = ? OR duplicate_of_id = ?", mediaID, mediaID).
		Delete(&domain.DuplicateReview{}).Error
}
