package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
)

// ErrInvalidDecision is returned for a decision outside the known set.
var ErrInvalidDecision = errors.New("unknown review decision")

// Resolve records decision on a pending review and updates the new media.
// keep_existing also deletes the new media's stored object.
func (e *Engine) Resolve(ctx context.Context, reviewID string, decision domain.ReviewDecision) (*domain.DuplicateReview, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidDecision, decision)
	}

	review, err := e.reviews.Decide(ctx, reviewID, decision)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetMediaID(ctx, review.MediaID)

	switch decision {
	case domain.DecisionKeepExisting, domain.DecisionKeepNew:
		if decision == domain.DecisionKeepExisting {
			if err := e.deleteObject(ctx, review.MediaID); err != nil {
				return review, err
			}
		}
		dupOf, score := review.DuplicateOfID, review.SimilarityScore
		if err := e.media.SetDuplicateStatus(ctx, review.MediaID, domain.DuplicateStatusConfirmedDuplicate, &dupOf, &score); err != nil {
			return review, fmt.Errorf("confirm duplicate: %w", err)
		}
	default:
		pending, err := e.reviews.CountPendingForMedia(ctx, review.MediaID)
		if err != nil {
			return review, fmt.Errorf("count pending reviews: %w", err)
		}
		if pending == 0 {
			if err := e.media.SetDuplicateStatus(ctx, review.MediaID, domain.DuplicateStatusUnique, nil, nil); err != nil {
				return review, fmt.Errorf("mark unique: %w", err)
			}
		}
	}

	logger.CtxInfo(ctx, "Review %s decided: %s", review.ID, decision)
	return review, nil
}

func (e *Engine) deleteObject(ctx context.Context, mediaID string) error {
	m, err := e.media.GetByID(ctx, mediaID)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	disk, err := e.disks.Disk(ctx, m.Disk)
	if err != nil {
		return err
	}
	if err := disk.Delete(ctx, m.Path); err != nil {
		return fmt.Errorf("delete object %s: %w", m.Path, err)
	}
	return nil
}
