package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/mediavault/internal/app"
	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/worker"
)

func main() {
	log := app.InitLogger("mediavault-worker")
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	server := worker.NewServer(cfg.Redis, cfg.Worker, a.Backoff())
	mux := a.Processor().Handler()

	go func() {
		<-ctx.Done()
		log.Info("Shutting down worker...")
		server.Shutdown()
	}()

	log.WithFields(logger.Fields{
		"concurrency": cfg.Worker.Concurrency,
		"queues":      cfg.Worker.Queues,
	}).Info("Starting worker")
	if err := server.Run(mux); err != nil {
		log.WithError(err).Error("Worker stopped")
		os.Exit(1)
	}
}
