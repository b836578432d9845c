package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/repository"
)

// ImportHandler exposes the import orchestrator.
type ImportHandler struct {
	orchestrator *importer.Orchestrator
}

// NewImportHandler creates an import handler.
func NewImportHandler(o *importer.Orchestrator) *ImportHandler {
	return &ImportHandler{orchestrator: o}
}

// CreateImportRequest is the body of POST /api/v1/imports.
type CreateImportRequest struct {
	domain.ImportSettings
	// Start queues discovery right after creation.
	Start bool `json:"start"`
}

// Create handles POST /api/v1/imports.
func (h *ImportHandler) Create(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req CreateImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	imp, err := h.orchestrator.Create(ctx, owner, req.ImportSettings)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Start {
		if err := h.orchestrator.Start(ctx, imp.ID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, imp)
}

// List handles GET /api/v1/imports.
func (h *ImportHandler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	limit, offset := page(c)
	imports, err := h.orchestrator.List(c.Request.Context(), owner, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imports": imports, "limit": limit, "offset": offset})
}

// Get handles GET /api/v1/imports/:id.
func (h *ImportHandler) Get(c *gin.Context) {
	imp, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, imp)
}

// Status handles GET /api/v1/imports/:id/status.
func (h *ImportHandler) Status(c *gin.Context) {
	status, err := h.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Start handles POST /api/v1/imports/:id/start.
func (h *ImportHandler) Start(c *gin.Context) {
	if err := h.orchestrator.Start(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Discovery queued"})
}

// Pause handles POST /api/v1/imports/:id/pause.
func (h *ImportHandler) Pause(c *gin.Context) {
	h.transition(c, h.orchestrator.Pause, "paused")
}

// Resume handles POST /api/v1/imports/:id/resume.
func (h *ImportHandler) Resume(c *gin.Context) {
	h.transition(c, h.orchestrator.Resume, "resumed")
}

// Cancel handles POST /api/v1/imports/:id/cancel.
func (h *ImportHandler) Cancel(c *gin.Context) {
	h.transition(c, h.orchestrator.Cancel, "cancelled")
}

func (h *ImportHandler) transition(c *gin.Context, op func(ctx context.Context, id string) (bool, error), verb string) {
	id := c.Param("id")
	changed, err := op(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !changed {
		c.JSON(http.StatusConflict, gin.H{"error": "Import cannot be " + verb + " in its current state"})
		return
	}
	h.Get(c)
}

// RetryFailed handles POST /api/v1/imports/:id/retry-failed.
func (h *ImportHandler) RetryFailed(c *gin.Context) {
	n, err := h.orchestrator.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": n})
}

// Items handles GET /api/v1/imports/:id/items.
func (h *ImportHandler) Items(c *gin.Context) {
	limit, offset := page(c)
	filter := repository.ItemFilter{
		Status: domain.ImportItemStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	items, total, err := h.orchestrator.Items(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}
