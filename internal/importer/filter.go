package importer

import (
	"mime"
	"path/filepath"
	"slices"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/source"
)

// Reasons an item is skipped during discovery.
const (
	skipType  = "type"
	skipDate  = "date"
	skipLimit = "limit"
)

// Filter applies an import's discovery filters to catalog items.
type Filter struct {
	domain.ImportFilters
}

// Reject returns why item is filtered out, or "" when it passes. The item cap
// is applied by the caller since it depends on how many items passed.
func (f Filter) Reject(item source.Item) string {
	if len(f.MediaTypes) > 0 && !slices.Contains(f.MediaTypes, itemCategory(item)) {
		return skipType
	}
	if f.DateFrom != nil || f.DateTo != nil {
		if item.TakenAt == nil {
			return skipDate
		}
		if f.DateFrom != nil && item.TakenAt.Before(*f.DateFrom) {
			return skipDate
		}
		if f.DateTo != nil && item.TakenAt.After(*f.DateTo) {
			return skipDate
		}
	}
	return ""
}

// itemCategory uses the declared MIME type, falling back to the extension.
func itemCategory(item source.Item) string {
	mt := item.MimeType
	if mt == "" {
		mt = mime.TypeByExtension(filepath.Ext(item.Filename))
	}
	return domain.MediaCategory(mt)
}

// Applied describes the active filters for the discovery summary.
func (f Filter) Applied() map[string]interface{} {
	out := map[string]interface{}{}
	if len(f.MediaTypes) > 0 {
		out["media_types"] = f.MediaTypes
	}
	if f.DateFrom != nil {
		out["date_from"] = f.DateFrom
	}
	if f.DateTo != nil {
		out["date_to"] = f.DateTo
	}
	if f.MaxItems > 0 {
		out["max_items"] = f.MaxItems
	}
	return out
}
