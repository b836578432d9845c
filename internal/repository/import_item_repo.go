package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/mediavault/internal/domain"
)

// ImportItemRepository handles per-item persistence.
type ImportItemRepository struct {
	db *gorm.DB
}

// NewImportItemRepository creates a new ImportItemRepository.
func NewImportItemRepository(db *gorm.DB) *ImportItemRepository {
	return &ImportItemRepository{db: db}
}

// CreateBatch inserts items, silently skipping any (import_id, source_id) that
// already exists. Returns the number of rows actually created.
func (r *ImportItemRepository) CreateBatch(ctx context.Context, items []*domain.ImportItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Status == "" {
			it.Status = domain.ImportItemPending
		}
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "import_id"}, {Name: "source_id"}},
		DoNothing: true,
	}).Create(items)
	return res.RowsAffected, res.Error
}

// GetByID retrieves an item by its ID.
func (r *ImportItemRepository) GetByID(ctx context.Context, id string) (*domain.ImportItem, error) {
	var it domain.ImportItem
	if err := r.db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &it, nil
}

// ListPending returns an import's pending items in discovery order.
func (r *ImportItemRepository) ListPending(ctx context.Context, importID string) ([]domain.ImportItem, error) {
	var out []domain.ImportItem
	err := r.db.WithContext(ctx).
		Where("import_id = ? AND status = ?", importID, domain.ImportItemPending).
		Order("position ASC").
		Find(&out).Error
	return out, err
}

// ListUndispatched returns pending items that have not been handed to the queue yet.
func (r *ImportItemRepository) ListUndispatched(ctx context.Context, importID string) ([]domain.ImportItem, error) {
	var out []domain.ImportItem
	err := r.db.WithContext(ctx).
		Where("import_id = ? AND status = ? AND dispatched_at IS NULL", importID, domain.ImportItemPending).
		Order("position ASC").
		Find(&out).Error
	return out, err
}

// MarkDispatched stamps dispatched_at on the given items.
func (r *ImportItemRepository) MarkDispatched(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.ImportItem{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"dispatched_at": now(), "updated_at": now()}).Error
}

// Claim moves an item into processing and counts the attempt. Items already
// finished are not claimable; a crashed attempt left in processing is.
func (r *ImportItemRepository) Claim(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ImportItem{}).
		Where("id = ? AND status IN ?", id, []domain.ImportItemStatus{domain.ImportItemPending, domain.ImportItemProcessing}).
		Updates(map[string]interface{}{
			"status":     domain.ImportItemProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Finish records the outcome of a processing item. It only applies while the
// item is still processing, so each item is finished at most once.
func (r *ImportItemRepository) Finish(ctx context.Context, id string, status domain.ImportItemStatus, mediaID *string, errMsg string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ImportItem{}).
		Where("id = ? AND status = ?", id, domain.ImportItemProcessing).
		Updates(map[string]interface{}{
			"status":        status,
			"media_id":      mediaID,
			"error_message": errMsg,
			"processed_at":  now(),
			"updated_at":    now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Release returns an item an earlier attempt left in processing to pending
// and clears its dispatch stamp, so the next dispatch picks it up again.
func (r *ImportItemRepository) Release(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ImportItem{}).
		Where("id = ? AND status = ?", id, domain.ImportItemProcessing).
		Updates(map[string]interface{}{
			"status":        domain.ImportItemPending,
			"dispatched_at": nil,
			"updated_at":    now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordAttemptError keeps the last transient error on a processing item.
func (r *ImportItemRepository) RecordAttemptError(ctx context.Context, id, errMsg string) error {
	return r.db.WithContext(ctx).Model(&domain.ImportItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"error_message": errMsg, "updated_at": now()}).Error
}

// ItemFilter narrows List.
type ItemFilter struct {
	Status domain.ImportItemStatus
	Limit  int
	Offset int
}

// List returns an import's items in discovery order plus the unpaginated count.
func (r *ImportItemRepository) List(ctx context.Context, importID string, f ItemFilter) ([]domain.ImportItem, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.ImportItem{}).Where("import_id = ?", importID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var out []domain.ImportItem
	err := q.Order("position ASC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, total, err
}

// CountByStatus returns the number of items per status for an import.
func (r *ImportItemRepository) CountByStatus(ctx context.Context, importID string) (map[domain.ImportItemStatus]int64, error) {
	var rows []struct {
		Status domain.ImportItemStatus
		N      int64
	}
	err := r.db.WithContext(ctx).Model(&domain.ImportItem{}).
		Select("status, COUNT(*) AS n").
		Where("import_id = ?", importID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ImportItemStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// Count returns the number of items created for an import.
func (r *ImportItemRepository) Count(ctx context.Context, importID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ImportItem{}).Where("import_id = ?", importID).Count(&n).Error
	return n, err
}
