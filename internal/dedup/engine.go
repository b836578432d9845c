// Package dedup finds stored media that look like duplicates of a new one
// and records them as reviews for a human decision.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/metrics"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/storage"
)

// candidateScan bounds how many stored media one approximate pass reads.
const candidateScan = 1000

// MediaStore is the media persistence the engine needs.
type MediaStore interface {
	GetByID(ctx context.Context, id string) (*domain.Media, error)
	ListByHash(ctx context.Context, ownerID, hash, excludeID string, limit int) ([]domain.Media, error)
	ListImagesWithDimensions(ctx context.Context, ownerID, excludeID string, limit int) ([]domain.Media, error)
	ListOthers(ctx context.Context, ownerID, excludeID string, limit int) ([]domain.Media, error)
	SetDuplicateStatus(ctx context.Context, id string, status domain.DuplicateStatus, duplicateOf *string, score *float64) error
}

// ReviewStore is the review persistence the engine needs.
type ReviewStore interface {
	Upsert(ctx context.Context, review *domain.DuplicateReview) error
	Decide(ctx context.Context, id string, decision domain.ReviewDecision) (*domain.DuplicateReview, error)
	CountPendingForMedia(ctx context.Context, mediaID string) (int64, error)
}

// DiskResolver maps a disk name to a backend.
type DiskResolver interface {
	Disk(ctx context.Context, name string) (storage.ObjectStorage, error)
}

// Engine runs duplicate detection and applies review decisions.
type Engine struct {
	media   MediaStore
	reviews ReviewStore
	disks   DiskResolver
	cfg     config.DedupConfig
	metrics *metrics.Metrics
}

// NewEngine creates an Engine. Zero thresholds in cfg take the defaults.
func NewEngine(media MediaStore, reviews ReviewStore, disks DiskResolver, cfg config.DedupConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		media:   media,
		reviews: reviews,
		disks:   disks,
		cfg:     withDefaults(cfg),
		metrics: m,
	}
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() config.DedupConfig {
	return config.DedupConfig{
		MaxExactMatches:  5,
		PerceptualRetain: 70,
		PerceptualReview: 85,
		PerceptualLimit:  5,
		FilenameGate:     3,
		FilenameRetain:   80,
		FilenameReview:   90,
		FilenameLimit:    3,
	}
}

func withDefaults(cfg config.DedupConfig) config.DedupConfig {
	def := DefaultConfig()
	if cfg.MaxExactMatches <= 0 {
		cfg.MaxExactMatches = def.MaxExactMatches
	}
	if cfg.PerceptualRetain <= 0 {
		cfg.PerceptualRetain = def.PerceptualRetain
	}
	if cfg.PerceptualReview <= 0 {
		cfg.PerceptualReview = def.PerceptualReview
	}
	if cfg.PerceptualLimit <= 0 {
		cfg.PerceptualLimit = def.PerceptualLimit
	}
	if cfg.FilenameGate <= 0 {
		cfg.FilenameGate = def.FilenameGate
	}
	if cfg.FilenameRetain <= 0 {
		cfg.FilenameRetain = def.FilenameRetain
	}
	if cfg.FilenameReview <= 0 {
		cfg.FilenameReview = def.FilenameReview
	}
	if cfg.FilenameLimit <= 0 {
		cfg.FilenameLimit = def.FilenameLimit
	}
	return cfg
}

// Match is one candidate that produced a review.
type Match struct {
	MediaID string
	Score   float64
	Method  string
}

// Report is the outcome of one detection run.
type Report struct {
	Status  domain.DuplicateStatus
	Matches []Match
}

type scored struct {
	media domain.Media
	score float64
}

// DetectByID loads the media and runs Detect. A media deleted in the meantime
// is not an error; only the load itself can fail.
func (e *Engine) DetectByID(ctx context.Context, mediaID string) (*Report, error) {
	m, err := e.media.GetByID(ctx, mediaID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.CtxWarn(ctx, "Media %s vanished before duplicate detection", mediaID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load media %s: %w", mediaID, err)
	}
	return e.Detect(ctx, m), nil
}

// Detect compares m with the owner's other media, upserts a review per match
// and sets m's duplicate status. Any fault marks m unique and is only logged.
func (e *Engine) Detect(ctx context.Context, m *domain.Media) (report *Report) {
	ctx = logger.SetMediaID(ctx, m.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			report = e.fallback(ctx, m, fmt.Errorf("panic: %v", r))
		}
	}()

	matches, err := e.findMatches(ctx, m)
	if err != nil {
		return e.fallback(ctx, m, err)
	}

	status := domain.DuplicateStatusUnique
	var dupOf *string
	var score *float64
	if len(matches) > 0 {
		status = domain.DuplicateStatusPendingReview
		best := matches[0]
		for _, mt := range matches[1:] {
			if mt.Score > best.Score {
				best = mt
			}
		}
		dupOf, score = &best.MediaID, &best.Score
	}
	if err := e.media.SetDuplicateStatus(ctx, m.ID, status, dupOf, score); err != nil {
		return e.fallback(ctx, m, err)
	}
	m.DuplicateStatus, m.DuplicateOfID, m.SimilarityScore = status, dupOf, score

	e.metrics.IncDetection(string(status))
	logger.With(logger.Fields{
		logger.FieldCount:      len(matches),
		logger.FieldStatus:     status,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Duplicate detection finished")
	return &Report{Status: status, Matches: matches}
}

// findMatches runs the exact, perceptual and filename passes in order and
// upserts a review for every match.
func (e *Engine) findMatches(ctx context.Context, m *domain.Media) ([]Match, error) {
	var matches []Match
	seen := map[string]bool{m.ID: true}

	record := func(other *domain.Media, score float64, method string) error {
		err := e.reviews.Upsert(ctx, &domain.DuplicateReview{
			MediaID:         m.ID,
			DuplicateOfID:   other.ID,
			OwnerID:         m.OwnerID,
			SimilarityScore: score,
			DetectionMethod: method,
			Comparison:      comparison(m, other),
		})
		if err != nil {
			return fmt.Errorf("upsert review against %s: %w", other.ID, err)
		}
		seen[other.ID] = true
		matches = append(matches, Match{MediaID: other.ID, Score: score, Method: method})
		return nil
	}

	if m.ContentHash != "" {
		exact, err := e.media.ListByHash(ctx, m.OwnerID, m.ContentHash, m.ID, e.cfg.MaxExactMatches)
		if err != nil {
			return nil, fmt.Errorf("exact match query: %w", err)
		}
		for i := range exact {
			if err := record(&exact[i], 100, domain.DetectionMethodHash); err != nil {
				return nil, err
			}
		}
	}

	if m.IsImage() && m.HasDimensions() && len(matches) < e.cfg.MaxExactMatches {
		images, err := e.media.ListImagesWithDimensions(ctx, m.OwnerID, m.ID, candidateScan)
		if err != nil {
			return nil, fmt.Errorf("perceptual candidate query: %w", err)
		}
		self := signalOf(m)
		ranked := rank(images, seen, e.cfg.PerceptualRetain, e.cfg.PerceptualLimit, func(o *domain.Media) float64 {
			return PerceptualScore(self, signalOf(o))
		})
		for _, c := range ranked {
			if c.score < e.cfg.PerceptualReview {
				break
			}
			if err := record(&c.media, c.score, domain.DetectionMethodPerceptual); err != nil {
				return nil, err
			}
		}
	}

	if len(matches) < e.cfg.FilenameGate {
		others, err := e.media.ListOthers(ctx, m.OwnerID, m.ID, candidateScan)
		if err != nil {
			return nil, fmt.Errorf("filename candidate query: %w", err)
		}
		name := m.BaseName()
		ranked := rank(others, seen, e.cfg.FilenameRetain, e.cfg.FilenameLimit, func(o *domain.Media) float64 {
			return Closeness(name, o.BaseName())
		})
		for _, c := range ranked {
			if c.score < e.cfg.FilenameReview {
				break
			}
			if err := record(&c.media, c.score, domain.DetectionMethodFilename); err != nil {
				return nil, err
			}
		}
	}

	return matches, nil
}

// rank scores candidates not yet seen, keeps those at or above retain and
// returns at most limit of them, best first.
func rank(candidates []domain.Media, seen map[string]bool, retain float64, limit int, score func(*domain.Media) float64) []scored {
	var kept []scored
	for i := range candidates {
		if seen[candidates[i].ID] {
			continue
		}
		if s := score(&candidates[i]); s >= retain {
			kept = append(kept, scored{media: candidates[i], score: s})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func (e *Engine) fallback(ctx context.Context, m *domain.Media, cause error) *Report {
	logger.FromContext(ctx).WithError(cause).Error("Duplicate detection failed, marking media unique")
	e.metrics.IncDetection("error")
	if err := e.media.SetDuplicateStatus(context.WithoutCancel(ctx), m.ID, domain.DuplicateStatusUnique, nil, nil); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to mark media unique")
	}
	return &Report{Status: domain.DuplicateStatusUnique}
}

func signalOf(m *domain.Media) Signal {
	return Signal{Width: m.Width, Height: m.Height, Size: m.Size, Name: m.BaseName()}
}

// comparison snapshots both sides as they were at detection time.
func comparison(m, other *domain.Media) domain.JSONMap {
	return domain.JSONMap{
		"new":      snapshot(m),
		"existing": snapshot(other),
	}
}

func snapshot(m *domain.Media) map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID,
		"filename":   m.OriginalFilename,
		"size":       m.Size,
		"width":      m.Width,
		"height":     m.Height,
		"mime_type":  m.MimeType,
		"source":     m.Source,
		"created_at": m.CreatedAt,
	}
}
