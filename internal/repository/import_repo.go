package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/mediavault/internal/domain"
)

// CounterDelta is applied to an Import's counters in one statement.
type CounterDelta struct {
	Processed  int
	Successful int
	Failed     int
	Duplicate  int
}

// ImportRepository handles import batch persistence. Status changes are
// conditional updates and counters are in-database increments, so concurrent
// workers never overwrite each other.
type ImportRepository struct {
	db *gorm.DB
}

// NewImportRepository creates a new ImportRepository.
func NewImportRepository(db *gorm.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// Create inserts a new import in the pending state.
func (r *ImportRepository) Create(ctx context.Context, imp *domain.Import) error {
	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	if imp.Status == "" {
		imp.Status = domain.ImportStatusPending
	}
	return r.db.WithContext(ctx).Create(imp).Error
}

// GetByID retrieves an import by its ID.
func (r *ImportRepository) GetByID(ctx context.Context, id string) (*domain.Import, error) {
	var imp domain.Import
	if err := r.db.WithContext(ctx).First(&imp, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &imp, nil
}

// List returns imports for an owner, newest first.
func (r *ImportRepository) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Import, error) {
	var out []domain.Import
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	return out, q.Find(&out).Error
}

// Transition moves the import to status `to` only if it is currently in one of
// `from`. It reports whether the row changed; extra columns are written in the
// same statement.
func (r *ImportRepository) Transition(ctx context.Context, id string, from []domain.ImportStatus, to domain.ImportStatus, extra map[string]interface{}) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&domain.Import{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkStarted moves pending -> running and records the start time.
func (r *ImportRepository) MarkStarted(ctx context.Context, id string) (bool, error) {
	return r.Transition(ctx, id, []domain.ImportStatus{domain.ImportStatusPending}, domain.ImportStatusRunning,
		map[string]interface{}{"started_at": now()})
}

// MarkFailed moves running -> failed with a reason and end time.
func (r *ImportRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return r.Transition(ctx, id, []domain.ImportStatus{domain.ImportStatusRunning}, domain.ImportStatusFailed,
		map[string]interface{}{"failure_reason": reason, "completed_at": now()})
}

// MarkCompleted moves running -> completed and records the end time.
func (r *ImportRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return r.Transition(ctx, id, []domain.ImportStatus{domain.ImportStatusRunning}, domain.ImportStatusCompleted,
		map[string]interface{}{"completed_at": now()})
}

// AddCounters applies delta as a single UPDATE with column arithmetic.
func (r *ImportRepository) AddCounters(ctx context.Context, id string, d CounterDelta) error {
	updates := map[string]interface{}{"updated_at": now()}
	if d.Processed != 0 {
		updates["processed_items"] = gorm.Expr("processed_items + ?", d.Processed)
	}
	if d.Successful != 0 {
		updates["successful_items"] = gorm.Expr("successful_items + ?", d.Successful)
	}
	if d.Failed != 0 {
		updates["failed_items"] = gorm.Expr("failed_items + ?", d.Failed)
	}
	if d.Duplicate != 0 {
		updates["duplicate_items"] = gorm.Expr("duplicate_items + ?", d.Duplicate)
	}
	res := r.db.WithContext(ctx).Model(&domain.Import{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTotal overwrites the expected item count.
func (r *ImportRepository) SetTotal(ctx context.Context, id string, total int) error {
	return r.db.WithContext(ctx).Model(&domain.Import{}).Where("id = ?", id).
		Updates(map[string]interface{}{"total_items": total, "updated_at": now()}).Error
}

// RaiseTotal lifts total_items to at least n without ever lowering it.
func (r *ImportRepository) RaiseTotal(ctx context.Context, id string, n int) error {
	return r.db.WithContext(ctx).Model(&domain.Import{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_items": gorm.Expr("CASE WHEN total_items < ? THEN ? ELSE total_items END", n, n),
			"updated_at":  now(),
		}).Error
}

// FinishDiscovery records the final item total and the discovery summary.
func (r *ImportRepository) FinishDiscovery(ctx context.Context, id string, total int, summary domain.JSONMap) error {
	return r.db.WithContext(ctx).Model(&domain.Import{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_items":           total,
			"summary":               summary,
			"discovery_finished_at": now(),
			"updated_at":            now(),
		}).Error
}

// CompleteIfDone marks a running import completed once discovery has finished
// and every item has an outcome. Safe to call from any worker.
func (r *ImportRepository) CompleteIfDone(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Import{}).
		Where("id = ? AND status = ? AND discovery_finished_at IS NOT NULL AND processed_items >= total_items",
			id, domain.ImportStatusRunning).
		Updates(map[string]interface{}{
			"status":       domain.ImportStatusCompleted,
			"completed_at": now(),
			"updated_at":   now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetFailed returns every failed item of an import to pending and takes them
// back out of the processed/failed counters, in one transaction. The import
// itself is moved back to running when it is completed, failed or paused.
// Returns the number of items reset.
func (r *ImportRepository) ResetFailed(ctx context.Context, id string) (int64, error) {
	var reset int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var imp domain.Import
		if err := tx.First(&imp, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		res := tx.Model(&domain.ImportItem{}).
			Where("import_id = ? AND status = ?", id, domain.ImportItemFailed).
			Updates(map[string]interface{}{
				"status":        domain.ImportItemPending,
				"retry_count":   gorm.Expr("retry_count + 1"),
				"error_message": "",
				"processed_at":  nil,
				"dispatched_at": nil,
				"updated_at":    now(),
			})
		if res.Error != nil {
			return res.Error
		}
		reset = res.RowsAffected
		if reset == 0 {
			return nil
		}

		updates := map[string]interface{}{
			"processed_items": gorm.Expr("processed_items - ?", reset),
			"failed_items":    gorm.Expr("failed_items - ?", reset),
			"updated_at":      now(),
		}
		switch imp.Status {
		case domain.ImportStatusCompleted, domain.ImportStatusFailed, domain.ImportStatusPaused:
			updates["status"] = domain.ImportStatusRunning
			updates["completed_at"] = nil
			updates["failure_reason"] = ""
		}
		return tx.Model(&domain.Import{}).Where("id = ?", id).Updates(updates).Error
	})
	return reset, err
}
