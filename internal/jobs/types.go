package jobs

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Record is the persisted state of one transcription job. Optional fields are
// pointers so that absent values serialize as explicit nulls.
type Record struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Filename    string     `json:"filename"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Transcript  *string    `json:"transcript"`
	Error       *string    `json:"error"`
	Progress    int        `json:"progress"`
	CurrentText *string    `json:"currentText"`
	Language    *string    `json:"language"`
}

// NewRecord returns a pending record.
func NewRecord(id, filename string, now time.Time) *Record {
	return &Record{
		ID:        id,
		Status:    StatusPending,
		Filename:  filename,
		CreatedAt: now.UTC(),
	}
}

// Task carries what a runner needs to execute one job.
type Task struct {
	JobID        string `json:"job_id"`
	InputPath    string `json:"input_path"`
	OriginalName string `json:"original_name"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	tmp := *r
	tmp.CompletedAt = clonePtr(r.CompletedAt)
	tmp.Transcript = clonePtr(r.Transcript)
	tmp.Error = clonePtr(r.Error)
	tmp.CurrentText = clonePtr(r.CurrentText)
	tmp.Language = clonePtr(r.Language)
	return &tmp
}

// MarkProcessing moves a pending record to processing with progress reset.
func (r *Record) MarkProcessing() error {
	if err := r.transition(StatusProcessing); err != nil {
		return err
	}
	r.Progress = 0
	return nil
}

// UpdateProgress applies one progress event. Values are stored as emitted.
func (r *Record) UpdateProgress(progress int, currentText *string) error {
	if r.Status != StatusProcessing {
		return fmt.Errorf("job %s: progress update in status %s", r.ID, r.Status)
	}
	r.Progress = progress
	if currentText != nil {
		r.CurrentText = clonePtr(currentText)
	}
	return nil
}

// Complete stores the transcript and pins progress to 100.
func (r *Record) Complete(transcript string, now time.Time) error {
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	r.Transcript = &transcript
	r.Error = nil
	r.Progress = 100
	r.setCompletedAt(now)
	return nil
}

// Fail stores the failure detail.
func (r *Record) Fail(message string, now time.Time) error {
	if err := r.transition(StatusError); err != nil {
		return err
	}
	r.Error = &message
	r.Transcript = nil
	r.setCompletedAt(now)
	return nil
}

func (r *Record) setCompletedAt(now time.Time) {
	t := now.UTC()
	if t.Before(r.CreatedAt) {
		t = r.CreatedAt
	}
	r.CompletedAt = &t
}

func (r *Record) transition(to Status) error {
	if !isValidTransition(r.Status, to) {
		return fmt.Errorf("job %s: invalid transition: %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	return nil
}

// isValidTransition enforces the forward-only job state machine. pending may
// fail directly when a job never reaches its runner.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
