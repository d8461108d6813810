package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/MimeLyc/transcription-service/internal/config"
	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

// Worker consumes transcription runs from Redis.
type Worker struct {
	srv  *asynq.Server
	mux  *asynq.ServeMux
	exec jobs.Executor
}

func NewWorker(redisCfg config.RedisConfig, dispatchCfg config.DispatchConfig, exec jobs.Executor) *Worker {
	concurrency := dispatchCfg.WorkerCount
	if concurrency <= 0 {
		concurrency = 10
	}
	queueName := dispatchCfg.QueueName
	if queueName == "" {
		queueName = "default"
	}

	w := &Worker{
		srv: asynq.NewServer(RedisOpt(redisCfg), asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queueName: 1},
			Logger:      asynqLogger{},
		}),
		mux:  asynq.NewServeMux(),
		exec: exec,
	}
	w.mux.HandleFunc(TypeTranscriptionRun, w.ProcessTask)
	return w
}

// ProcessTask runs the job. The runner records its own failures, so only
// undecodable payloads are reported back to asynq.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	task, err := parseTranscriptionTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log.Info("Processing queued job %s", task.JobID)
	w.exec(ctx, task)
	return nil
}

// Start begins consuming in background goroutines.
func (w *Worker) Start() error {
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight tasks up to asynq's shutdown timeout.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// asynqLogger routes asynq's own messages through pkg/log.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { log.Debug("asynq: %s", fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{})  { log.Info("asynq: %s", fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{})  { log.Warn("asynq: %s", fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { log.Error("asynq: %s", fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...interface{}) { log.Fatal("asynq: %s", fmt.Sprint(args...)) }
