package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/pipeline/actions"
	"github.com/timmy/mediavault/internal/queue"
	"github.com/timmy/mediavault/internal/queue/queuetest"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/repository/repotest"
	"github.com/timmy/mediavault/internal/source"
	"github.com/timmy/mediavault/internal/storage"
)

const owner = "owner-1"

// fakeCatalog serves items from memory.
type fakeCatalog struct {
	mu        sync.Mutex
	items     []source.Item
	files     map[string][]byte
	failures  map[string]error
	connErr   error
	statsErr  error
	streamErr error
	onYield   func(i int)
	tempDir   string
	cleaned   int
}

func (c *fakeCatalog) Name() string { return "fake" }

func (c *fakeCatalog) TestConnection(context.Context) error { return c.connErr }

func (c *fakeCatalog) GetStatistics(context.Context) (*source.Statistics, error) {
	if c.statsErr != nil {
		return nil, c.statsErr
	}
	return &source.Statistics{Total: len(c.items), ByType: map[string]int{}}, nil
}

func (c *fakeCatalog) StreamAllItems(context.Context) iter.Seq2[source.Item, error] {
	return func(yield func(source.Item, error) bool) {
		for i, it := range c.items {
			if c.onYield != nil {
				c.onYield(i)
			}
			if !yield(it, nil) {
				return
			}
		}
		if c.streamErr != nil {
			yield(source.Item{}, c.streamErr)
		}
	}
}

func (c *fakeCatalog) DownloadItem(_ context.Context, url, name string) (*source.Download, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[url]; err != nil {
		return nil, err
	}
	data, ok := c.files[url]
	if !ok {
		return nil, source.ErrNotFound
	}
	f, err := os.CreateTemp(c.tempDir, "dl-*")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return nil, err
	}
	return &source.Download{TempPath: f.Name(), Filename: name, Size: int64(len(data))}, nil
}

func (c *fakeCatalog) Cleanup(path string) error {
	c.mu.Lock()
	c.cleaned++
	c.mu.Unlock()
	return os.Remove(path)
}

func (c *fakeCatalog) setFailure(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures == nil {
		c.failures = map[string]error{}
	}
	if err == nil {
		delete(c.failures, url)
		return
	}
	c.failures[url] = err
}

type opener struct {
	catalog source.Catalog
	err     error
}

func (o opener) Open(context.Context, domain.SourceSettings) (source.Catalog, error) {
	return o.catalog, o.err
}

type harness struct {
	imports  *repository.ImportRepository
	items    *repository.ImportItemRepository
	media    *repository.MediaRepository
	queue    *queuetest.Recorder
	catalog  *fakeCatalog
	registry *pipeline.Registry
	orch     *Orchestrator
	worker   *ItemWorker
	uploader *Uploader
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	db := repotest.NewDB(t)
	disk, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	h := &harness{
		imports: repository.NewImportRepository(db),
		items:   repository.NewImportItemRepository(db),
		media:   repository.NewMediaRepository(db),
		queue:   queuetest.NewRecorder(),
		catalog: &fakeCatalog{files: map[string][]byte{}, tempDir: t.TempDir()},
	}
	h.registry = actions.NewRegistry(actions.Deps{
		Media:   h.media,
		Reviews: repository.NewDuplicateReviewRepository(db),
		Disks:   storage.NewStaticDisks("local", map[string]storage.ObjectStorage{"local": disk}),
	})
	executor := pipeline.NewExecutor(h.registry, nil)

	cfg := config.ImportConfig{DiscoveryBatchSize: batchSize, MaxRetries: 3}
	defaults := Defaults{Disk: "local", Pipeline: config.PipelineConfig{DefaultDirectory: "media"}}
	open := opener{catalog: h.catalog}
	h.orch = NewOrchestrator(h.imports, h.items, open, h.queue, cfg, nil)
	h.worker = NewItemWorker(h.imports, h.items, open, executor, h.queue, defaults, cfg, nil)
	h.uploader = NewUploader(executor, h.queue, defaults, cfg)
	return h
}

// addItem registers a catalog item served with data.
func (h *harness) addItem(id, filename, mimeType string, data []byte) {
	url := "files/" + filename
	h.catalog.items = append(h.catalog.items, source.Item{
		SourceID: id,
		URL:      url,
		Filename: filename,
		MimeType: mimeType,
	})
	h.catalog.files[url] = data
}

func (h *harness) create(t *testing.T, settings domain.ImportSettings) *domain.Import {
	t.Helper()
	if settings.Source.Type == "" {
		settings.Source = domain.SourceSettings{Type: "staging", Name: "test"}
	}
	imp, err := h.orch.Create(context.Background(), owner, settings)
	require.NoError(t, err)
	return imp
}

// runItems processes every queued item task once, as a worker would.
func (h *harness) runItems(t *testing.T, at Attempt) []error {
	t.Helper()
	var errs []error
	for _, task := range h.queue.Drain() {
		if task.Type != queue.TypeImportItem {
			continue
		}
		var p queue.ItemPayload
		require.NoError(t, task.Decode(&p))
		errs = append(errs, h.worker.Process(context.Background(), p.ImportID, p.ItemID, at))
	}
	return errs
}

func (h *harness) reload(t *testing.T, id string) *domain.Import {
	t.Helper()
	imp, err := h.imports.GetByID(context.Background(), id)
	require.NoError(t, err)
	return imp
}

func pngBytes(t testing.TB, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for x := 0; x < 3; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: 1, B: 2, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

var errBoom = errors.New("boom")

// afterExecute runs then once the wrapped action has returned.
type afterExecute struct {
	pipeline.Action
	then func()
}

func (a afterExecute) Execute(ctx context.Context, c *pipeline.Context) pipeline.Result {
	r := a.Action.Execute(ctx, c)
	a.then()
	return r
}

func itemIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%02d", i)
	}
	return out
}
