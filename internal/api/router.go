// Package api wires the HTTP surface of the ingestion service.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/mediavault/internal/api/handler"
	"github.com/timmy/mediavault/internal/api/middleware"
	"github.com/timmy/mediavault/internal/config"
)

// Handlers groups the route handlers.
type Handlers struct {
	Health *handler.HealthHandler
	Import *handler.ImportHandler
	Media  *handler.MediaHandler
	// Files maps a URL prefix to a local directory served as static files.
	Files map[string]string
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(h Handlers, cfg config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	for prefix, root := range h.Files {
		r.Static(prefix, root)
	}

	v1 := r.Group("/api/v1")
	{
		imports := v1.Group("/imports")
		imports.POST("", h.Import.Create)
		imports.GET("", h.Import.List)
		imports.GET("/:id", h.Import.Get)
		imports.GET("/:id/status", h.Import.Status)
		imports.GET("/:id/items", h.Import.Items)
		imports.POST("/:id/start", h.Import.Start)
		imports.POST("/:id/pause", h.Import.Pause)
		imports.POST("/:id/resume", h.Import.Resume)
		imports.POST("/:id/cancel", h.Import.Cancel)
		imports.POST("/:id/retry-failed", h.Import.RetryFailed)

		media := v1.Group("/media")
		media.POST("", h.Media.Upload)
		media.GET("", h.Media.List)
		media.GET("/:id", h.Media.Get)
		media.GET("/:id/reviews", h.Media.Reviews)

		v1.GET("/reviews", h.Media.PendingReviews)
		v1.POST("/reviews/:id/decision", h.Media.Decide)
	}

	return r
}
