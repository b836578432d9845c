package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/logger"
	"github.com/timmy/mediavault/internal/queue"
)

// NewServer creates the asynq server consuming every ingestion queue.
func NewServer(redis config.RedisConfig, cfg config.WorkerConfig, backoff queue.Backoff) *asynq.Server {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{
			queue.QueueImports:     2,
			queue.QueueImportItems: 6,
			queue.QueueDetection:   2,
		}
	}
	return asynq.NewServer(queue.RedisOpt(redis), asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         queues,
		RetryDelayFunc: RetryDelay(backoff),
		IsFailure:      IsFailure,
		Logger:         logger.GetDefault(),
	})
}

// RetryDelay spaces retries by the backoff schedule. asynq passes the number
// of retries already made.
func RetryDelay(b queue.Backoff) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return b.Delay(n)
	}
}

// IsFailure keeps worker shutdowns out of the failure statistics.
func IsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}
