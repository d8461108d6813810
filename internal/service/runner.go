package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MimeLyc/transcription-service/internal/engine"
	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/internal/langdetect"
	"github.com/MimeLyc/transcription-service/internal/progress"
	"github.com/MimeLyc/transcription-service/pkg/file"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

// EngineChecker verifies the transcription engine can be launched.
type EngineChecker interface {
	Check() error
}

// Engine runs the external transcription process for one input.
type Engine interface {
	EngineChecker
	Run(ctx context.Context, inputPath, outputPath string, stdout io.Writer) (engine.Result, error)
}

// Runner executes one job: it drives the engine, folds its progress events
// into the stored record and writes the terminal state.
type Runner struct {
	store  jobs.Store
	engine Engine
	now    func() time.Time
	detect func(text string) (string, bool)
}

func NewRunner(store jobs.Store, eng Engine) *Runner {
	return &Runner{
		store:  store,
		engine: eng,
		now:    time.Now,
		detect: langdetect.Detect,
	}
}

// OutputPath is where the engine writes the transcript for inputPath.
func OutputPath(inputPath string) string {
	out := file.ReplaceExt(inputPath, ".txt")
	if out == inputPath {
		out = inputPath + ".txt"
	}
	return out
}

// Run is a jobs.Executor. Failures end up in the record, never in the caller.
// ctx bounds only the engine process; store writes outlive its cancellation
// so a killed job still reaches a terminal state.
func (r *Runner) Run(ctx context.Context, task jobs.Task) {
	storeCtx := context.WithoutCancel(ctx)

	rec, found, err := r.store.FindByID(storeCtx, task.JobID)
	if err != nil {
		log.Error("Failed to load job %s: %v", task.JobID, err)
		return
	}
	if !found {
		log.Error("Job %s not found, skipping", task.JobID)
		return
	}
	if rec.Status != jobs.StatusPending {
		log.Warn("Job %s is %s, not running it again", task.JobID, rec.Status)
		return
	}

	if err := rec.MarkProcessing(); err != nil {
		log.Error("Job %s: %v", task.JobID, err)
		return
	}
	if err := r.store.Save(storeCtx, rec); err != nil {
		log.Error("Failed to persist processing state for job %s: %v", task.JobID, err)
		return
	}
	log.Info("Job %s started: %s", task.JobID, task.OriginalName)

	outputPath := OutputPath(task.InputPath)
	decoder := progress.NewDecoder(func(ev progress.Event) {
		r.handleEvent(storeCtx, task.JobID, ev)
	})

	res, runErr := r.engine.Run(ctx, task.InputPath, outputPath, decoder)
	decoder.Flush()

	if runErr != nil {
		r.fail(storeCtx, task.JobID, failureMessage(runErr))
		removeBestEffort(outputPath)
		return
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		r.fail(storeCtx, task.JobID, fmt.Sprintf("Failed to read transcription output: %v", err))
		return
	}
	log.Debug("Job %s: engine exited with code %d", task.JobID, res.ExitCode)

	removeBestEffort(task.InputPath)
	removeBestEffort(outputPath)

	r.complete(storeCtx, task.JobID, string(data))
}

func (r *Runner) handleEvent(ctx context.Context, jobID string, ev progress.Event) {
	switch ev.Type {
	case progress.EventProgress:
		rec, found, err := r.store.FindByID(ctx, jobID)
		if err != nil {
			log.Warn("Job %s: failed to load record for progress: %v", jobID, err)
			return
		}
		if !found || rec.Status.IsTerminal() {
			return
		}
		if err := rec.UpdateProgress(ev.Progress, ev.CurrentText); err != nil {
			log.Debug("Job %s: %v", jobID, err)
			return
		}
		if err := r.store.Save(ctx, rec); err != nil {
			log.Warn("Job %s: failed to persist progress %d: %v", jobID, ev.Progress, err)
		}
	case progress.EventComplete:
		log.Info("Job %s: engine reported completion, length=%d", jobID, ev.Length)
	default:
		log.Debug("Job %s: %s", jobID, ev.Raw)
	}
}

func (r *Runner) complete(ctx context.Context, jobID, transcript string) {
	rec, found, err := r.store.FindByID(ctx, jobID)
	if err != nil || !found {
		log.Error("Job %s: record unavailable for completion (found=%t): %v", jobID, found, err)
		return
	}
	if err := rec.Complete(transcript, r.now()); err != nil {
		log.Error("Job %s: %v", jobID, err)
		return
	}
	if lang, ok := r.detect(transcript); ok {
		rec.Language = &lang
	}
	if err := r.store.Save(ctx, rec); err != nil {
		log.Error("Failed to persist completed job %s: %v", jobID, err)
		return
	}
	log.Info("Job %s completed, %d characters", jobID, len(transcript))
}

func (r *Runner) fail(ctx context.Context, jobID, message string) {
	rec, found, err := r.store.FindByID(ctx, jobID)
	if err != nil || !found {
		log.Error("Job %s: record unavailable for failure (found=%t): %v", jobID, found, err)
		return
	}
	if err := rec.Fail(message, r.now()); err != nil {
		log.Error("Job %s: %v", jobID, err)
		return
	}
	if err := r.store.Save(ctx, rec); err != nil {
		log.Error("Failed to persist failed job %s: %v", jobID, err)
		return
	}
	log.Warn("Job %s failed: %s", jobID, message)
}

func failureMessage(err error) string {
	var exitErr *engine.ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Error()
	case errors.Is(err, engine.ErrLaunch):
		return fmt.Sprintf("Failed to start transcription process: %v", err)
	default:
		return fmt.Sprintf("Transcription process failed: %v", err)
	}
}

func removeBestEffort(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove %s: %v", path, err)
	}
}
