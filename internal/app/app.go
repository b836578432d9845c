// Package app builds the shared object graph used by the api, worker and
// ingest binaries.
package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/timmy/mediavault/internal/api"
	"github.com/timmy/mediavault/internal/api/handler"
	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/dedup"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/metrics"
	"github.com/timmy/mediavault/internal/pipeline"
	"github.com/timmy/mediavault/internal/pipeline/actions"
	"github.com/timmy/mediavault/internal/queue"
	"github.com/timmy/mediavault/internal/repository"
	"github.com/timmy/mediavault/internal/source/factory"
	"github.com/timmy/mediavault/internal/storage"
	"github.com/timmy/mediavault/internal/worker"
)

// App holds every long-lived component.
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Queue   *queue.Client
	Disks   *storage.Disks
	Metrics *metrics.Metrics

	Media   *repository.MediaRepository
	Imports *repository.ImportRepository
	Items   *repository.ImportItemRepository
	Reviews *repository.DuplicateReviewRepository

	Executor     *pipeline.Executor
	Orchestrator *importer.Orchestrator
	ItemWorker   *importer.ItemWorker
	Uploader     *importer.Uploader
	Detector     *dedup.Engine
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// InitLogger installs the process-wide logger for service.
func InitLogger(service string) *logger.Logger {
	l := logger.New(logger.OptionsFromEnv(service))
	logger.SetDefaultLogger(l)
	return l
}

// New connects the database and queue and assembles the components.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	a := &App{
		Config:  cfg,
		DB:      db,
		Queue:   queue.NewClient(cfg.Redis),
		Disks:   storage.NewDisks(cfg.Storage),
		Metrics: metrics.Default(),
		Media:   repository.NewMediaRepository(db),
		Imports: repository.NewImportRepository(db),
		Items:   repository.NewImportItemRepository(db),
		Reviews: repository.NewDuplicateReviewRepository(db),
	}

	// Fail fast on a misconfigured default disk instead of on the first upload.
	disk, err := a.Disks.Disk(ctx, "")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open default disk: %w", err)
	}
	if b, ok := disk.(bucketEnsurer); ok {
		if err := b.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
	}

	registry := actions.NewRegistry(actions.Deps{
		Media:   a.Media,
		Reviews: a.Reviews,
		Disks:   a.Disks,
	})
	a.Executor = pipeline.NewExecutor(registry, a.Metrics)

	defaults := importer.Defaults{Disk: cfg.Storage.DefaultDisk, Pipeline: cfg.Pipeline}
	catalogs := factory.New(cfg.Sources)
	a.Orchestrator = importer.NewOrchestrator(a.Imports, a.Items, catalogs, a.Queue, cfg.Import, a.Metrics)
	a.ItemWorker = importer.NewItemWorker(a.Imports, a.Items, catalogs, a.Executor, a.Queue, defaults, cfg.Import, a.Metrics)
	a.Uploader = importer.NewUploader(a.Executor, a.Queue, defaults, cfg.Import)
	a.Detector = dedup.NewEngine(a.Media, a.Reviews, a.Disks, cfg.Dedup, a.Metrics)

	logger.Info("[App] Pipeline ready with %d actions", registry.Len())
	return a, nil
}

// Backoff is the configured item retry schedule.
func (a *App) Backoff() queue.Backoff {
	if len(a.Config.Import.Backoff) == 0 {
		return queue.DefaultBackoff
	}
	return queue.Backoff(a.Config.Import.Backoff)
}

// Processor returns the asynq task processor.
func (a *App) Processor() *worker.Processor {
	return worker.NewProcessor(a.Orchestrator, a.ItemWorker, a.Detector, a.Backoff())
}

// Handlers returns the HTTP handlers.
func (a *App) Handlers() api.Handlers {
	checks := map[string]handler.Pinger{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	return api.Handlers{
		Health: handler.NewHealthHandler(checks),
		Import: handler.NewImportHandler(a.Orchestrator),
		Media:  handler.NewMediaHandler(a.Uploader, a.Media, a.Reviews, a.Detector, a.Config.Server.UploadDir),
		Files:  localFiles(a.Config.Storage),
	}
}

// localFiles maps each local disk's public URL path onto its root.
func localFiles(cfg config.StorageConfig) map[string]string {
	files := map[string]string{}
	for name, disk := range cfg.Disks {
		if disk.Type != string(storage.StorageTypeLocal) || disk.Root == "" || disk.PublicURL == "" {
			continue
		}
		u, err := url.Parse(disk.PublicURL)
		if err != nil {
			logger.Warn("[App] Disk %s has an invalid public URL: %v", name, err)
			continue
		}
		prefix := strings.TrimSuffix(u.Path, "/")
		if prefix == "" {
			continue
		}
		files[prefix] = disk.Root
	}
	return files
}

// Close releases the queue and database connections.
func (a *App) Close() {
	if err := a.Queue.Close(); err != nil {
		logger.Warn("[App] Failed to close queue client: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("[App] Failed to close database: %v", err)
		}
	}
}
