package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MimeLyc/transcription-service/internal/config"
	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

// Client enqueues transcription runs on Redis for a Worker to pick up.
type Client struct {
	client    *asynq.Client
	queueName string
	timeout   time.Duration
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(redisCfg config.RedisConfig, dispatchCfg config.DispatchConfig) *Client {
	return &Client{
		client:    asynq.NewClient(RedisOpt(redisCfg)),
		queueName: dispatchCfg.QueueName,
		timeout:   dispatchCfg.TaskTimeout,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Dispatch enqueues a single attempt of the job. Failed runs are recorded
// in the job record, so asynq never retries.
func (c *Client) Dispatch(ctx context.Context, task jobs.Task) error {
	t, err := newTranscriptionTask(task)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, t, c.options()...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeTranscriptionRun, err)
	}
	log.Debug("Enqueued job %s as task %s on queue %s", task.JobID, info.ID, info.Queue)
	return nil
}

func (c *Client) options() []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(0)}
	if c.queueName != "" {
		opts = append(opts, asynq.Queue(c.queueName))
	}
	if c.timeout > 0 {
		opts = append(opts, asynq.Timeout(c.timeout))
	}
	return opts
}
