package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/transcription-service/internal/engine"
	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/internal/persistence"
)

type fakeEngine struct {
	checkErr error
	run      func(ctx context.Context, in, out string, stdout io.Writer) (engine.Result, error)
}

func (f *fakeEngine) Check() error { return f.checkErr }

func (f *fakeEngine) Run(ctx context.Context, in, out string, stdout io.Writer) (engine.Result, error) {
	return f.run(ctx, in, out, stdout)
}

// recordingStore remembers the status of every saved record.
type recordingStore struct {
	jobs.Store
	mu    sync.Mutex
	saves []jobs.Status
}

func (s *recordingStore) Save(ctx context.Context, rec *jobs.Record) error {
	s.mu.Lock()
	s.saves = append(s.saves, rec.Status)
	s.mu.Unlock()
	return s.Store.Save(ctx, rec)
}

func (s *recordingStore) statuses() []jobs.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobs.Status(nil), s.saves...)
}

func writeInput(t *testing.T) string {
	t.Helper()
	in := filepath.Join(t.TempDir(), "audio-1-1.mp4")
	require.NoError(t, os.WriteFile(in, []byte("fake media"), 0o644))
	return in
}

func newFileStore(t *testing.T) *persistence.FileStore {
	t.Helper()
	store, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func seedPending(t *testing.T, store jobs.Store, id string) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), jobs.NewRecord(id, "video.mp4", time.Now())))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/up/audio-1.txt", OutputPath("/up/audio-1.mp4"))
	assert.Equal(t, "/up/audio-1.txt.txt", OutputPath("/up/audio-1.txt"))
	assert.Equal(t, "/up/noext.txt", OutputPath("/up/noext"))
}

func TestRunner_Success(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{Store: persistence.NewMemoryStore()}
	seedPending(t, store, "job-1")
	in := writeInput(t)

	var midRun *jobs.Record
	eng := &fakeEngine{run: func(ctx context.Context, in, out string, stdout io.Writer) (engine.Result, error) {
		_, _ = io.WriteString(stdout, "Loading model...\n")
		_, _ = io.WriteString(stdout, `{"type":"progress","progress":50,"currentText":"hel"}`+"\n")
		midRun, _, _ = store.FindByID(ctx, "job-1")
		_, _ = io.WriteString(stdout, `{"type":"complete","length":5}`+"\n")
		return engine.Result{}, os.WriteFile(out, []byte("hello"), 0o644)
	}}

	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-1", InputPath: in, OriginalName: "video.mp4"})

	require.NotNil(t, midRun)
	assert.Equal(t, jobs.StatusProcessing, midRun.Status)
	assert.Equal(t, 50, midRun.Progress)
	require.NotNil(t, midRun.CurrentText)
	assert.Equal(t, "hel", *midRun.CurrentText)

	rec, found, err := store.FindByID(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	require.NotNil(t, rec.Transcript)
	assert.Equal(t, "hello", *rec.Transcript)
	assert.Nil(t, rec.Error)
	require.NotNil(t, rec.CompletedAt)
	assert.False(t, rec.CompletedAt.Before(rec.CreatedAt))

	assert.NoFileExists(t, in)
	assert.NoFileExists(t, OutputPath(in))
	assert.Equal(t, []jobs.Status{jobs.StatusPending, jobs.StatusProcessing, jobs.StatusProcessing, jobs.StatusCompleted}, store.statuses())
}

func TestRunner_EmptyOutputIsEmptyTranscript(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-empty")

	eng := &fakeEngine{run: func(_ context.Context, _, out string, _ io.Writer) (engine.Result, error) {
		return engine.Result{}, os.WriteFile(out, nil, 0o644)
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-empty", InputPath: writeInput(t)})

	rec, _, err := store.FindByID(ctx, "job-empty")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Transcript)
	assert.Equal(t, "", *rec.Transcript)
	assert.Nil(t, rec.Language)
}

func TestRunner_DetectsLanguage(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-lang")

	eng := &fakeEngine{run: func(_ context.Context, _, out string, _ io.Writer) (engine.Result, error) {
		return engine.Result{}, os.WriteFile(out, []byte("bonjour"), 0o644)
	}}
	r := NewRunner(store, eng)
	r.detect = func(text string) (string, bool) { return "fr", text == "bonjour" }
	r.Run(ctx, jobs.Task{JobID: "job-lang", InputPath: writeInput(t)})

	rec, _, err := store.FindByID(ctx, "job-lang")
	require.NoError(t, err)
	require.NotNil(t, rec.Language)
	assert.Equal(t, "fr", *rec.Language)
}

func TestRunner_NonZeroExit(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-2")
	in := writeInput(t)

	eng := &fakeEngine{run: func(context.Context, string, string, io.Writer) (engine.Result, error) {
		return engine.Result{ExitCode: 1, Stderr: "model load failed"}, &engine.ExitError{ExitCode: 1, Stderr: "model load failed"}
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-2", InputPath: in})

	rec, _, err := store.FindByID(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "model load failed")
	assert.Nil(t, rec.Transcript)
	assert.NotNil(t, rec.CompletedAt)
	assert.FileExists(t, in)
}

func TestRunner_LaunchFailure(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-3")

	eng := &fakeEngine{run: func(context.Context, string, string, io.Writer) (engine.Result, error) {
		return engine.Result{ExitCode: -1}, fmt.Errorf("%w: exec: \"python3\": not found", engine.ErrLaunch)
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-3", InputPath: writeInput(t)})

	rec, _, err := store.FindByID(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, rec.Status)
	assert.Contains(t, *rec.Error, "Failed to start transcription process")
}

func TestRunner_MissingOutput(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-4")

	eng := &fakeEngine{run: func(context.Context, string, string, io.Writer) (engine.Result, error) {
		return engine.Result{}, nil
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-4", InputPath: writeInput(t)})

	rec, _, err := store.FindByID(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, rec.Status)
	assert.Contains(t, *rec.Error, "Failed to read transcription output")
}

func TestRunner_UnknownJobIsSkipped(t *testing.T) {
	called := false
	eng := &fakeEngine{run: func(context.Context, string, string, io.Writer) (engine.Result, error) {
		called = true
		return engine.Result{}, nil
	}}
	NewRunner(persistence.NewMemoryStore(), eng).Run(context.Background(), jobs.Task{JobID: "missing"})
	assert.False(t, called)
}

func TestRunner_TerminalJobIsNotRerun(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	rec := jobs.NewRecord("done", "a.mp4", time.Now())
	require.NoError(t, rec.Fail("boom", time.Now()))
	require.NoError(t, store.Save(ctx, rec))

	called := false
	eng := &fakeEngine{run: func(context.Context, string, string, io.Writer) (engine.Result, error) {
		called = true
		return engine.Result{}, nil
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "done"})
	assert.False(t, called)

	got, _, _ := store.FindByID(ctx, "done")
	assert.Equal(t, jobs.StatusError, got.Status)
}

func TestRunner_ProgressAfterTerminalIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-5")

	eng := &fakeEngine{run: func(ctx context.Context, _, out string, stdout io.Writer) (engine.Result, error) {
		// another writer finishes the job while the engine is still talking
		rec, _, _ := store.FindByID(ctx, "job-5")
		_ = rec.Fail("interrupted", time.Now())
		_ = store.Save(ctx, rec)
		_, _ = io.WriteString(stdout, `{"type":"progress","progress":70}`+"\n")
		return engine.Result{}, errors.New("killed")
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-5", InputPath: writeInput(t)})

	rec, _, err := store.FindByID(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, "interrupted", *rec.Error)
}

func TestRunner_WithShellEngine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "fake-whisper")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
printf '{"type":"progress","progress":30}\n{"type":"pr'
printf 'ogress","progress":80,"currentText":"hi"}\n'
printf 'hello world' > "$2"
echo '{"type":"complete","length":11}'
`), 0o755))

	ctx := context.Background()
	store := persistence.NewMemoryStore()
	seedPending(t, store, "job-sh")

	NewRunner(store, engine.New(engine.Config{Command: script})).
		Run(ctx, jobs.Task{JobID: "job-sh", InputPath: writeInput(t), OriginalName: "video.mp4"})

	rec, _, err := store.FindByID(ctx, "job-sh")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.Equal(t, "hello world", *rec.Transcript)
	require.NotNil(t, rec.CurrentText)
	assert.Equal(t, "hi", *rec.CurrentText)
}

func TestRunner_CancelledTaskStillFails(t *testing.T) {
	store := newFileStore(t)
	seedPending(t, store, "job-cancel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &fakeEngine{run: func(ctx context.Context, _, _ string, stdout io.Writer) (engine.Result, error) {
		cancel()
		// progress emitted as the process dies still lands
		_, _ = io.WriteString(stdout, `{"type":"progress","progress":40}`+"\n")
		return engine.Result{ExitCode: -1}, fmt.Errorf("transcription process stopped: %w", ctx.Err())
	}}
	NewRunner(store, eng).Run(ctx, jobs.Task{JobID: "job-cancel", InputPath: writeInput(t)})

	rec, found, err := store.FindByID(context.Background(), "job-cancel")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jobs.StatusError, rec.Status)
	assert.Equal(t, 40, rec.Progress)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "context canceled")
	assert.NotNil(t, rec.CompletedAt)
}

func TestRunner_TimedOutShellEngine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "slow-whisper")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))

	store := newFileStore(t)
	seedPending(t, store, "job-slow")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	NewRunner(store, engine.New(engine.Config{Command: script})).
		Run(ctx, jobs.Task{JobID: "job-slow", InputPath: writeInput(t)})
	assert.Less(t, time.Since(start), 4*time.Second)

	rec, _, err := store.FindByID(context.Background(), "job-slow")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusError, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "deadline exceeded")
}
