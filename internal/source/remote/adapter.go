package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"

	"github.com/timmy/mediavault/internal/source"
)

// Config holds connection settings for a remote JSON catalog.
type Config struct {
	BaseURL  string
	Catalog  string
	APIToken string
	PageSize int
	Timeout  time.Duration
	TempDir  string
}

// Adapter implements source.Catalog against an HTTP JSON catalog API.
type Adapter struct {
	client   *resty.Client
	catalog  string
	pageSize int
	tempDir  string
}

type itemDTO struct {
	ID       string         `json:"id"`
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Filename string         `json:"filename"`
	MimeType string         `json:"mime_type"`
	Size     int64          `json:"size"`
	TakenAt  *time.Time     `json:"taken_at"`
	Metadata map[string]any `json:"metadata"`
}

type pageDTO struct {
	Items    []itemDTO `json:"items"`
	NextPage int       `json:"next_page"`
}

// NewAdapter creates a remote catalog client.
func NewAdapter(cfg Config) *Adapter {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("Accept", "application/json")
	if cfg.APIToken != "" {
		client.SetAuthToken(cfg.APIToken)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Adapter{
		client:   client,
		catalog:  cfg.Catalog,
		pageSize: pageSize,
		tempDir:  cfg.TempDir,
	}
}

// Name returns the source identifier with a "remote:" prefix.
func (a *Adapter) Name() string {
	return "remote:" + a.catalog
}

func (a *Adapter) endpoint(parts ...string) string {
	return "/" + path.Join(append([]string{"catalogs", url.PathEscape(a.catalog)}, parts...)...)
}

// TestConnection pings the catalog.
func (a *Adapter) TestConnection(ctx context.Context) error {
	resp, err := a.client.R().SetContext(ctx).Get(a.endpoint("ping"))
	if err != nil {
		return fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	return statusError(resp, "ping")
}

// GetStatistics fetches the catalog totals.
func (a *Adapter) GetStatistics(ctx context.Context) (*source.Statistics, error) {
	var stats source.Statistics
	resp, err := a.client.R().SetContext(ctx).SetResult(&stats).Get(a.endpoint("stats"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, err)
	}
	if err := statusError(resp, "stats"); err != nil {
		return nil, err
	}
	if stats.ByType == nil {
		stats.ByType = map[string]int{}
	}
	return &stats, nil
}

// StreamAllItems pages through /items until next_page is 0.
func (a *Adapter) StreamAllItems(ctx context.Context) iter.Seq2[source.Item, error] {
	return func(yield func(source.Item, error) bool) {
		page := 1
		for page > 0 {
			var body pageDTO
			resp, err := a.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"page":     strconv.Itoa(page),
					"per_page": strconv.Itoa(a.pageSize),
				}).
				SetResult(&body).
				Get(a.endpoint("items"))
			if err != nil {
				yield(source.Item{}, fmt.Errorf("%w: page %d: %v", source.ErrUnavailable, page, err))
				return
			}
			if err := statusError(resp, "items page "+strconv.Itoa(page)); err != nil {
				yield(source.Item{}, err)
				return
			}

			for _, dto := range body.Items {
				item := source.Item{
					SourceID: dto.ID,
					URL:      dto.URL,
					Title:    dto.Title,
					Filename: dto.Filename,
					MimeType: dto.MimeType,
					Size:     dto.Size,
					TakenAt:  dto.TakenAt,
					Metadata: dto.Metadata,
				}
				if !yield(item, nil) {
					return
				}
			}
			if body.NextPage <= page {
				return
			}
			page = body.NextPage
		}
	}
}

// DownloadItem streams the item body into a temp file.
func (a *Adapter) DownloadItem(ctx context.Context, itemURL, suggestedName string) (*source.Download, error) {
	tmp, err := os.CreateTemp(a.tempDir, "remote-*"+path.Ext(suggestedName))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetOutput(tmpPath).
		Get(itemURL)
	if err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: download %s: %w", source.ErrFetch, itemURL, err)
		}
		return nil, fmt.Errorf("%w: download %s: %v", source.ErrUnavailable, itemURL, err)
	}
	if err := statusError(resp, "download "+itemURL); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to stat download: %w", err)
	}
	mt, err := mimetype.DetectFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}

	name := suggestedName
	if name == "" {
		name = path.Base(itemURL)
	}
	return &source.Download{
		TempPath: tmpPath,
		Filename: name,
		Size:     info.Size(),
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

// statusError maps catalog HTTP statuses onto source errors.
func statusError(resp *resty.Response, op string) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, source.ErrNotFound)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", op, source.ErrRateLimited)
	case code >= 500:
		return fmt.Errorf("%s: status %d: %w", op, code, source.ErrUnavailable)
	default:
		return fmt.Errorf("%w: %s: status %d", source.ErrFetch, op, code)
	}
}
