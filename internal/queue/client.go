package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/logger"
)

// Client enqueues tasks on asynq.
type Client struct {
	client *asynq.Client
}

// RedisOpt converts the redis config into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient creates an asynq-backed Enqueuer.
func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

// Close releases the redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueue marshals payload and schedules the task. A task whose key is
// already queued, scheduled or running is treated as success.
func (c *Client) Enqueue(ctx context.Context, taskType string, payload any, opts Options) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, TaskOptions(opts)...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logger.CtxDebug(ctx, "[Queue] Task %s with key %s already scheduled", taskType, opts.Key)
			return nil
		}
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return nil
}

// TaskOptions translates Options into asynq options.
func TaskOptions(opts Options) []asynq.Option {
	var out []asynq.Option
	if opts.Queue != "" {
		out = append(out, asynq.Queue(opts.Queue))
	}
	if opts.Key != "" {
		out = append(out, asynq.TaskID(opts.Key))
	}
	if opts.Delay > 0 {
		out = append(out, asynq.ProcessIn(opts.Delay))
	}
	if opts.MaxRetry > 0 {
		out = append(out, asynq.MaxRetry(opts.MaxRetry))
	}
	if opts.Timeout > 0 {
		out = append(out, asynq.Timeout(opts.Timeout))
	}
	if !opts.Deadline.IsZero() {
		out = append(out, asynq.Deadline(opts.Deadline))
	}
	return out
}
