package queue

import (
	"context"
	"fmt"
	"time"
)

// Task types.
const (
	// TypeImportDiscover runs catalog discovery for one import.
	TypeImportDiscover = "import:discover"
	// TypeImportItem downloads and stores one import item.
	TypeImportItem = "import:item"
	// TypeMediaDetect runs duplicate detection for one stored media.
	TypeMediaDetect = "media:detect"
)

// Queue names; weights are configured under worker.queues.
const (
	QueueImports     = "imports"
	QueueImportItems = "import-items"
	QueueDetection   = "detection"
)

// DiscoverPayload is the payload of TypeImportDiscover.
type DiscoverPayload struct {
	ImportID string `json:"import_id"`
}

// ItemPayload is the payload of TypeImportItem. Deadline is the wall-clock
// instant after which the item is no longer retried.
type ItemPayload struct {
	ImportID string    `json:"import_id"`
	ItemID   string    `json:"item_id"`
	Deadline time.Time `json:"deadline"`
}

// DetectPayload is the payload of TypeMediaDetect.
type DetectPayload struct {
	MediaID string `json:"media_id"`
}

// Options controls how a task is scheduled.
type Options struct {
	Queue    string
	Delay    time.Duration
	Key      string // idempotency key; a second enqueue with the same key is a no-op
	MaxRetry int
	Timeout  time.Duration
	Deadline time.Time
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts Options) error
}

// DiscoverKey is the idempotency key of an import's discovery task.
func DiscoverKey(importID string) string {
	return "import-discover:" + importID
}

// ItemKey is the idempotency key of an item task. retryCount changes each time
// the item is manually reset, so a reset item can be scheduled again.
func ItemKey(itemID string, retryCount int) string {
	return fmt.Sprintf("import-item:%s:%d", itemID, retryCount)
}

// DetectKey is the idempotency key of a media's detection task.
func DetectKey(mediaID string) string {
	return "media-detect:" + mediaID
}
