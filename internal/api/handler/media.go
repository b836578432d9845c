package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/timmy/mediavault/internal/dedup"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/repository"
)

// MediaHandler handles uploads, stored media and duplicate reviews.
type MediaHandler struct {
	uploader  *importer.Uploader
	media     *repository.MediaRepository
	reviews   *repository.DuplicateReviewRepository
	detector  *dedup.Engine
	uploadDir string
}

// NewMediaHandler creates a media handler. Multipart uploads are spooled
// under uploadDir, or the system temp dir when empty.
func NewMediaHandler(
	uploader *importer.Uploader,
	media *repository.MediaRepository,
	reviews *repository.DuplicateReviewRepository,
	detector *dedup.Engine,
	uploadDir string,
) *MediaHandler {
	return &MediaHandler{
		uploader:  uploader,
		media:     media,
		reviews:   reviews,
		detector:  detector,
		uploadDir: uploadDir,
	}
}

// UploadForm holds the multipart fields of POST /api/v1/media.
type UploadForm struct {
	Disk              string   `form:"disk"`
	Directory         string   `form:"directory"`
	Public            bool     `form:"public"`
	DuplicateStrategy string   `form:"duplicate_strategy"`
	PreserveFilename  bool     `form:"preserve_filename"`
	UniqueFilename    bool     `form:"unique_filename"`
	Tags              []string `form:"tags"`
}

// Upload handles POST /api/v1/media.
func (h *MediaHandler) Upload(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field"})
		return
	}
	var form UploadForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	tmp, err := os.CreateTemp(h.uploadDir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		respondError(c, err)
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			logger.CtxWarn(ctx, "Failed to remove spooled upload %s: %v", tmpPath, err)
		}
	}()
	if err := c.SaveUploadedFile(fh, tmpPath); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.uploader.Upload(ctx, importer.UploadRequest{
		OwnerID: owner,
		File: pipeline.File{
			Path:     tmpPath,
			Name:     fh.Filename,
			Size:     fh.Size,
			MimeType: fh.Header.Get("Content-Type"),
		},
		Storage:           domain.StorageTarget{Disk: form.Disk, Directory: form.Directory, Public: form.Public},
		DuplicateStrategy: domain.DuplicateStrategy(form.DuplicateStrategy),
		PreserveFilename:  form.PreserveFilename,
		UniqueFilename:    form.UniqueFilename,
		Tags:              form.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate() {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"media":     result.Record,
		"path":      result.Path,
		"url":       result.URL,
		"filename":  result.Filename,
		"duplicate": result.Duplicate(),
	})
}

// List handles GET /api/v1/media.
func (h *MediaHandler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	media, total, err := h.media.List(c.Request.Context(), owner, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"media": media, "total": total, "limit": limit, "offset": offset})
}

// Get handles GET /api/v1/media/:id.
func (h *MediaHandler) Get(c *gin.Context) {
	m, err := h.media.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Reviews handles GET /api/v1/media/:id/reviews.
func (h *MediaHandler) Reviews(c *gin.Context) {
	reviews, err := h.reviews.ListByMedia(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// PendingReviews handles GET /api/v1/reviews.
func (h *MediaHandler) PendingReviews(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	reviews, err := h.reviews.ListPending(c.Request.Context(), owner, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "limit": limit, "offset": offset})
}

// DecisionRequest is the body of POST /api/v1/reviews/:id/decision.
type DecisionRequest struct {
	Decision domain.ReviewDecision `json:"decision" binding:"required"`
}

// Decide handles POST /api/v1/reviews/:id/decision.
func (h *MediaHandler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	review, err := h.detector.Resolve(c.Request.Context(), c.Param("id"), req.Decision)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}
