package source

import (
	"context"
	"iter"
	"time"
)

// Item is one entry of an external catalog.
type Item struct {
	SourceID string         // Unique ID within the catalog
	URL      string         // Download location understood by the catalog
	Title    string         // Human readable title, may be empty
	Filename string         // Suggested filename
	MimeType string         // Declared MIME type, may be empty
	Size     int64          // Declared size in bytes, 0 when unknown
	TakenAt  *time.Time     // Capture or creation time reported by the catalog
	Metadata map[string]any // Raw catalog metadata snapshot
}

// Statistics summarises a catalog before discovery.
type Statistics struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
}

// Download is a fetched item on local disk. The caller must pass TempPath to
// Cleanup once done.
type Download struct {
	TempPath string
	Filename string
	Size     int64
	MimeType string
}

// Catalog is an external content source an import reads from.
type Catalog interface {
	// Name returns a stable identifier for logs and summaries.
	Name() string

	// TestConnection verifies the catalog is reachable with the configured credentials.
	TestConnection(ctx context.Context) error

	// GetStatistics returns the item total and a per-category breakdown.
	GetStatistics(ctx context.Context) (*Statistics, error)

	// StreamAllItems lazily yields every item once. The sequence stops after
	// the first error; a new call restarts from the beginning.
	StreamAllItems(ctx context.Context) iter.Seq2[Item, error]

	// DownloadItem fetches url into a temporary file.
	DownloadItem(ctx context.Context, url, suggestedName string) (*Download, error)

	// Cleanup removes a temporary file returned by DownloadItem.
	Cleanup(tempPath string) error
}
