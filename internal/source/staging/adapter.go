package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// FilesDir is the directory name for staged files.
	FilesDir = "files"
)

// ManifestItem represents an item in the manifest.jsonl file.
type ManifestItem struct {
	ID       string         `json:"id"`
	Filename string         `json:"filename"`
	Title    string         `json:"title"`
	MimeType string         `json:"mime_type"`
	TakenAt  string         `json:"taken_at"`
	Metadata map[string]any `json:"metadata"`
}

// Adapter implements source.Catalog over a local staging directory:
// <base>/<name>/manifest.jsonl plus <base>/<name>/files/.
type Adapter struct {
	root    string
	name    string
	tempDir string
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - name: staging source name (a subdirectory of basePath).
//   - tempDir: where downloads are copied; empty uses os.TempDir().
//
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, name, tempDir string) *Adapter {
	return &Adapter{
		root:    filepath.Join(basePath, name),
		name:    name,
		tempDir: tempDir,
	}
}

// Name returns the source identifier with a "staging:" prefix.
func (a *Adapter) Name() string {
	return "staging:" + a.name
}

func (a *Adapter) manifestPath() string {
	return filepath.Join(a.root, ManifestFileName)
}

// TestConnection checks that the manifest exists and is readable.
func (a *Adapter) TestConnection(_ context.Context) error {
	f, err := os.Open(a.manifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: manifest not found: %s", source.ErrUnavailable, a.manifestPath())
		}
		return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	return f.Close()
}

// GetStatistics counts manifest entries per media category.
func (a *Adapter) GetStatistics(ctx context.Context) (*source.Statistics, error) {
	stats := &source.Statistics{ByType: map[string]int{}}
	for item, err := range a.StreamAllItems(ctx) {
		if err != nil {
			return nil, err
		}
		stats.Total++
		stats.ByType[domain.MediaCategory(item.MimeType)]++
	}
	return stats, nil
}

// StreamAllItems reads the manifest line by line. Malformed lines and entries
// whose file is missing are skipped.
func (a *Adapter) StreamAllItems(ctx context.Context) iter.Seq2[source.Item, error] {
	return func(yield func(source.Item, error) bool) {
		file, err := os.Open(a.manifestPath())
		if err != nil {
			yield(source.Item{}, fmt.Errorf("%w: failed to open manifest: %v", source.ErrUnavailable, err))
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if err := ctx.Err(); err != nil {
				yield(source.Item{}, err)
				return
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}

			var entry ManifestItem
			if err := json.Unmarshal([]byte(text), &entry); err != nil {
				logger.CtxWarn(ctx, "[Staging] Skipping malformed manifest line %d: %v", line, err)
				continue
			}
			item, ok := a.toItem(entry)
			if !ok {
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(source.Item{}, fmt.Errorf("%w: error reading manifest: %v", source.ErrFetch, err))
		}
	}
}

func (a *Adapter) toItem(entry ManifestItem) (source.Item, bool) {
	if entry.ID == "" || entry.Filename == "" {
		return source.Item{}, false
	}
	rel := filepath.ToSlash(filepath.Join(FilesDir, entry.Filename))
	info, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(rel)))
	if err != nil {
		return source.Item{}, false
	}

	item := source.Item{
		SourceID: entry.ID,
		URL:      rel,
		Title:    entry.Title,
		Filename: filepath.Base(entry.Filename),
		MimeType: entry.MimeType,
		Size:     info.Size(),
		Metadata: entry.Metadata,
	}
	if item.MimeType == "" {
		if mt, err := mimetype.DetectFile(filepath.Join(a.root, filepath.FromSlash(rel))); err == nil {
			item.MimeType = mt.String()
		}
	}
	if entry.TakenAt != "" {
		if t, err := time.Parse(time.RFC3339, entry.TakenAt); err == nil {
			item.TakenAt = &t
		}
	}
	return item, true
}

// DownloadItem copies a staged file into a temporary file.
func (a *Adapter) DownloadItem(ctx context.Context, url, suggestedName string) (*source.Download, error) {
	src := filepath.Join(a.root, filepath.Clean("/"+filepath.FromSlash(url)))
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", url, source.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", source.ErrFetch, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(a.tempDir, "staging-*"+filepath.Ext(src))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	size, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(out.Name())
		return nil, fmt.Errorf("%w: copy %s: %v", source.ErrFetch, url, err)
	}

	mt, err := mimetype.DetectFile(out.Name())
	if err != nil {
		os.Remove(out.Name())
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}

	name := suggestedName
	if name == "" {
		name = filepath.Base(src)
	}
	return &source.Download{
		TempPath: out.Name(),
		Filename: name,
		Size:     size,
		MimeType: mt.String(),
	}, nil
}

// Cleanup removes a temporary download.
func (a *Adapter) Cleanup(tempPath string) error {
	if tempPath == "" {
		return nil
	}
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ListStagingSources lists all available staging sources.
// Parameters:
//   - basePath: base path to the staging directory.
//
// Returns:
//   - []string: list of staging source names.
//   - error: non-nil if reading the directory fails.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			if _, err := os.Stat(filepath.Join(basePath, entry.Name(), ManifestFileName)); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}
	return sources, nil
}
