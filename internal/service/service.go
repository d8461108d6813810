package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

// Dispatcher hands a task to whatever executes runners. It must not block
// on the task itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, task jobs.Task) error
}

type Service struct {
	store        jobs.Store
	dispatcher   Dispatcher
	engine       EngineChecker
	now          func() time.Time
	newID        func() string
	pollInterval time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithPollInterval sets how often Transcribe re-reads the record.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func New(store jobs.Store, dispatcher Dispatcher, eng EngineChecker, opts ...Option) *Service {
	s := &Service{
		store:        store,
		dispatcher:   dispatcher,
		engine:       eng,
		now:          time.Now,
		newID:        uuid.NewString,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob persists a pending record and returns its id.
func (s *Service) CreateJob(ctx context.Context, filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", NewError(ErrValidation, "filename is required")
	}

	rec := jobs.NewRecord(s.newID(), filename, s.now())
	if err := s.store.Save(ctx, rec); err != nil {
		return "", WrapError(err, ErrIOFailure, "failed to save transcription record").
			WithContext("filename", filename)
	}
	log.Info("Created transcription job %s for %s", rec.ID, filename)
	return rec.ID, nil
}

// StartJob dispatches the runner for a pending job and returns immediately.
func (s *Service) StartJob(ctx context.Context, id, inputPath, originalName string) error {
	rec, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != jobs.StatusPending {
		return NewError(ErrValidation, "transcription already started").
			WithContext("id", id).
			WithContext("status", rec.Status)
	}

	task := jobs.Task{JobID: id, InputPath: inputPath, OriginalName: originalName}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		if failErr := rec.Fail("Failed to dispatch transcription job: "+err.Error(), s.now()); failErr == nil {
			if saveErr := s.store.Save(ctx, rec); saveErr != nil {
				log.Error("Failed to persist dispatch failure for job %s: %v", id, saveErr)
			}
		}
		return WrapError(err, ErrDispatch, "failed to dispatch transcription job").WithContext("id", id)
	}
	return nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*jobs.Record, bool, error) {
	rec, found, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, false, WrapError(err, ErrIOFailure, "failed to load transcription record").WithContext("id", id)
	}
	return rec, found, nil
}

// ListJobs returns every readable record, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*jobs.Record, error) {
	records, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, WrapError(err, ErrIOFailure, "failed to list transcription records")
	}
	return records, nil
}

func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.mustGet(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return WrapError(err, ErrIOFailure, "failed to delete transcription record").WithContext("id", id)
	}
	log.Info("Deleted transcription job %s", id)
	return nil
}

// CheckEngine reports a LaunchFailure when the engine cannot be started.
func (s *Service) CheckEngine() error {
	if s.engine == nil {
		return nil
	}
	if err := s.engine.Check(); err != nil {
		return WrapError(err, ErrLaunchFailure, "transcription engine unavailable")
	}
	return nil
}

// Transcribe runs one job to completion and returns its terminal record.
// The engine is checked first so that a missing engine fails before a
// record is created.
func (s *Service) Transcribe(ctx context.Context, inputPath, originalName string) (*jobs.Record, error) {
	if err := s.CheckEngine(); err != nil {
		return nil, err
	}
	id, err := s.CreateJob(ctx, originalName)
	if err != nil {
		return nil, err
	}
	if err := s.StartJob(ctx, id, inputPath, originalName); err != nil {
		rec, _, _ := s.store.FindByID(ctx, id)
		return rec, err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		rec, found, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, NewError(ErrNotFound, "transcription record disappeared").WithContext("id", id)
		}
		if rec.Status.IsTerminal() {
			if rec.Status == jobs.StatusError {
				msg := ""
				if rec.Error != nil {
					msg = *rec.Error
				}
				return rec, NewError(ErrProcessFailure, msg).WithContext("id", id)
			}
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, WrapError(ctx.Err(), ErrUnknown, "stopped waiting for transcription").WithContext("id", id)
		case <-ticker.C:
		}
	}
}

// RecoverInterrupted fails records a previous process left unfinished.
// Only call it when no other process runs jobs against the same store.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	records, err := s.store.FindAll(ctx)
	if err != nil {
		return 0, WrapError(err, ErrIOFailure, "failed to list transcription records")
	}

	recovered := 0
	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		if err := rec.Fail("Transcription interrupted before completion", s.now()); err != nil {
			log.Warn("Job %s: %v", rec.ID, err)
			continue
		}
		if err := s.store.Save(ctx, rec); err != nil {
			log.Error("Failed to persist recovered job %s: %v", rec.ID, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		log.Warn("Marked %d interrupted transcription job(s) as failed", recovered)
	}
	return recovered, nil
}

func (s *Service) mustGet(ctx context.Context, id string) (*jobs.Record, error) {
	rec, found, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewError(ErrNotFound, "transcription not found").WithContext("id", id)
	}
	return rec, nil
}
