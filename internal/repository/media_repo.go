package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/mediavault/internal/domain"
)

// MediaRepository handles media data operations.
type MediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new MediaRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *MediaRepository: repository instance bound to db.
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Create inserts a new media record, assigning an ID when empty.
func (r *MediaRepository) Create(ctx context.Context, m *domain.Media) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.DuplicateStatus == "" {
		m.DuplicateStatus = domain.DuplicateStatusUnique
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// GetByID retrieves a media record by its ID.
func (r *MediaRepository) GetByID(ctx context.Context, id string) (*domain.Media, error) {
	var m domain.Media
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// Delete removes a media record.
func (r *MediaRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Media{}, "id = ?", id).Error
}

// FindByHash returns the oldest media of owner with the given content hash.
func (r *MediaRepository) FindByHash(ctx context.Context, ownerID, hash string) (*domain.Media, error) {
	var m domain.Media
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ?", ownerID, hash).
		Order("created_at ASC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListByHash returns other media of owner sharing hash, excluding excludeID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ownerID: owner whose media are searched.
//   - hash: content hash to match.
//   - excludeID: media ID to leave out (usually the candidate itself).
//   - limit: maximum number of rows.
//
// Returns:
//   - []domain.Media: matches, oldest first.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListByHash(ctx context.Context, ownerID, hash, excludeID string, limit int) ([]domain.Media, error) {
	var out []domain.Media
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ? AND id <> ?", ownerID, hash, excludeID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListImagesWithDimensions returns owner's other images whose dimensions are known.
func (r *MediaRepository) ListImagesWithDimensions(ctx context.Context, ownerID, excludeID string, limit int) ([]domain.Media, error) {
	var out []domain.Media
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id <> ? AND mime_type LIKE ? AND width > 0 AND height > 0", ownerID, excludeID, "image/%").
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListOthers returns owner's media except excludeID, newest first.
func (r *MediaRepository) ListOthers(ctx context.Context, ownerID, excludeID string, limit int) ([]domain.Media, error) {
	var out []domain.Media
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id <> ?", ownerID, excludeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// List returns an owner's media with pagination.
func (r *MediaRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Media, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&domain.Media{}).Where("owner_id = ?", ownerID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Media
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, total, err
}

// SetDuplicateStatus records the detection outcome on a media row.
func (r *MediaRepository) SetDuplicateStatus(ctx context.Context, id string, status domain.DuplicateStatus, duplicateOf *string, score *float64) error {
	res := r.db.WithContext(ctx).Model(&domain.Media{}).Where("id = ?", id).Updates(map[string]interface{}{
		"duplicate_status": status,
		"duplicate_of_id":  duplicateOf,
		"similarity_score": score,
		"updated_at":       now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
