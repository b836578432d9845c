package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/mediavault/internal/dedup"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/repository"
)

// HeaderOwnerID identifies the acting owner. Authentication happens upstream.
const HeaderOwnerID = "X-Owner-ID"

const (
	defaultLimit = 20
	maxLimit     = 200
)

func ownerID(c *gin.Context) (string, bool) {
	owner := c.GetHeader(HeaderOwnerID)
	if owner == "" {
		owner = c.Query("owner_id")
	}
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Owner is required (" + HeaderOwnerID + " header)"})
		return "", false
	}
	c.Request = c.Request.WithContext(logger.SetOwnerID(c.Request.Context(), owner))
	return owner, true
}

func page(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return min(limit, maxLimit), offset
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var failure *pipeline.Failure
	if errors.As(err, &failure) {
		status := http.StatusUnprocessableEntity
		if !errors.Is(failure, pipeline.ErrValidation) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": failure.Message, "errors": failure.Errors})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, importer.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, importer.ErrInvalidSettings), errors.Is(err, dedup.ErrInvalidDecision):
		status = http.StatusBadRequest
	case errors.Is(err, importer.ErrInvalidTransition), errors.Is(err, repository.ErrAlreadyDecided):
		status = http.StatusConflict
	}
	body := gin.H{"error": err.Error()}
	if status == http.StatusInternalServerError {
		body["request_id"] = logger.Field(c.Request.Context(), logger.FieldRequestID)
	}
	c.JSON(status, body)
}
