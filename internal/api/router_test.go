package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mediavault/internal/api/handler"
	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/dedup"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/pipeline/actions"
	"github.com/timmy/mediavault/internal/queue"
	"github.com/timmy/mediavault/internal/queue/queuetest"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/repository/repotest"
	"github.com/timmy/mediavault/internal/source/factory"
	"github.com/timmy/mediavault/internal/storage"
)

const testOwner = "owner-1"

type testServer struct {
	router  http.Handler
	queue   *queuetest.Recorder
	media   *repository.MediaRepository
	reviews *repository.DuplicateReviewRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := repotest.NewDB(t)
	disk, err := storage.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	disks := storage.NewStaticDisks("local", map[string]storage.ObjectStorage{"local": disk})

	s := &testServer{
		queue:   queuetest.NewRecorder(),
		media:   repository.NewMediaRepository(db),
		reviews: repository.NewDuplicateReviewRepository(db),
	}
	imports := repository.NewImportRepository(db)
	items := repository.NewImportItemRepository(db)
	executor := pipeline.NewExecutor(actions.NewRegistry(actions.Deps{Media: s.media, Reviews: s.reviews, Disks: disks}), nil)

	cfg := config.ImportConfig{DiscoveryBatchSize: 10, MaxRetries: 3}
	defaults := importer.Defaults{Disk: "local", Pipeline: config.PipelineConfig{
		DefaultDirectory: "media",
		AllowedMimes:     []string{"image/*"},
	}}
	orch := importer.NewOrchestrator(imports, items, factory.New(config.SourcesConfig{}), s.queue, cfg, nil)
	uploader := importer.NewUploader(executor, s.queue, defaults, cfg)
	engine := dedup.NewEngine(s.media, s.reviews, disks, dedup.DefaultConfig(), nil)

	s.router = SetupRouter(Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}),
		Import: handler.NewImportHandler(orch),
		Media:  handler.NewMediaHandler(uploader, s.media, s.reviews, engine, t.TempDir()),
	}, config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.test"}}})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.HeaderOwnerID, testOwner)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(handler.HeaderOwnerID, testOwner)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"database": "ok"}, body["dependencies"])
}

func TestImportLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/imports", map[string]any{
		"source":  map[string]any{"type": "staging", "name": "camera"},
		"filters": map[string]any{"max_items": 10},
		"start":   true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decodeBody(t, w)["id"].(string)
	require.NotEmpty(t, id)
	require.Len(t, s.queue.Tasks(queue.TypeImportDiscover), 1)

	w = s.do(t, http.MethodGet, "/api/v1/imports/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["import"].(map[string]any)["status"])

	// Pausing needs a running import.
	w = s.do(t, http.MethodPost, "/api/v1/imports/"+id+"/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/imports/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", decodeBody(t, w)["status"])

	w = s.do(t, http.MethodPost, "/api/v1/imports/"+id+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/imports/"+id+"/retry-failed", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/imports/"+id+"/items?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["total"])

	w = s.do(t, http.MethodGet, "/api/v1/imports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["imports"], 1)
}

func TestImportErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/imports", map[string]any{
		"source": map[string]any{"type": "ftp", "name": "x"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/imports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpload(t *testing.T) {
	s := newTestServer(t)
	data := pngBytes(t)

	w := s.upload(t, "photo.png", data, map[string]string{"tags": "trip"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, false, body["duplicate"])
	assert.True(t, strings.HasPrefix(body["path"].(string), "media/"))
	mediaID := body["media"].(map[string]any)["id"].(string)
	assert.Len(t, s.queue.Tasks(queue.TypeMediaDetect), 1)

	w = s.upload(t, "again.png", data, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody(t, w)["duplicate"])

	w = s.do(t, http.MethodGet, "/api/v1/media/"+mediaID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"trip"}, decodeBody(t, w)["tags"])

	w = s.do(t, http.MethodGet, "/api/v1/media", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["total"])

	w = s.upload(t, "notes.txt", []byte("plain text, not an image"), nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.NotEmpty(t, decodeBody(t, w)["errors"])
}

func TestReviewDecision(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	existing := &domain.Media{OwnerID: testOwner, ContentHash: "a", Disk: "local", Path: "media/a.png", Filename: "a.png"}
	fresh := &domain.Media{OwnerID: testOwner, ContentHash: "b", Disk: "local", Path: "media/b.png", Filename: "b.png",
		DuplicateStatus: domain.DuplicateStatusPendingReview}
	require.NoError(t, s.media.Create(ctx, existing))
	require.NoError(t, s.media.Create(ctx, fresh))
	review := &domain.DuplicateReview{MediaID: fresh.ID, DuplicateOfID: existing.ID, OwnerID: testOwner,
		SimilarityScore: 92, DetectionMethod: "filename"}
	require.NoError(t, s.reviews.Upsert(ctx, review))

	w := s.do(t, http.MethodGet, "/api/v1/reviews", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["reviews"], 1)

	path := "/api/v1/reviews/" + review.ID + "/decision"
	w = s.do(t, http.MethodPost, path, map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, path, map[string]string{"decision": "not_duplicate"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "not_duplicate", decodeBody(t, w)["decision"])

	w = s.do(t, http.MethodPost, path, map[string]string{"decision": "keep_new"})
	assert.Equal(t, http.StatusConflict, w.Code)

	stored, err := s.media.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuplicateStatusUnique, stored.DuplicateStatus)

	w = s.do(t, http.MethodGet, "/api/v1/media/"+fresh.ID+"/reviews", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["reviews"], 1)
}

func TestMiddleware(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/imports", nil)
	req.Header.Set("Origin", "https://app.test")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.test", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.test")
	req.Header.Set("X-Request-ID", "req-42")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
