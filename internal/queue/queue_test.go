package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/transcription-service/internal/jobs"
)

func TestTranscriptionTask_Payload(t *testing.T) {
	in := jobs.Task{JobID: "abc", InputPath: "/uploads/audio-1-2.mp4", OriginalName: "talk.mp4"}

	task, err := newTranscriptionTask(in)
	require.NoError(t, err)
	assert.Equal(t, TypeTranscriptionRun, task.Type())
	assert.JSONEq(t, `{"job_id":"abc","input_path":"/uploads/audio-1-2.mp4","original_name":"talk.mp4"}`, string(task.Payload()))

	out, err := parseTranscriptionTask(task)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseTranscriptionTask_Invalid(t *testing.T) {
	_, err := parseTranscriptionTask(asynq.NewTask(TypeTranscriptionRun, []byte("not json")))
	assert.Error(t, err)

	_, err = parseTranscriptionTask(asynq.NewTask(TypeTranscriptionRun, []byte(`{"input_path":"x"}`)))
	assert.Error(t, err)
}

func TestWorker_ProcessTask(t *testing.T) {
	var got jobs.Task
	w := &Worker{exec: func(_ context.Context, task jobs.Task) {
		got = task
	}}

	task, err := newTranscriptionTask(jobs.Task{JobID: "job-1", InputPath: "/tmp/a.mp4", OriginalName: "a.mp4"})
	require.NoError(t, err)
	require.NoError(t, w.ProcessTask(context.Background(), task))
	assert.Equal(t, "job-1", got.JobID)

	err = w.ProcessTask(context.Background(), asynq.NewTask(TypeTranscriptionRun, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestClient_Options(t *testing.T) {
	c := &Client{queueName: "transcription", timeout: time.Hour}
	opts := c.options()
	require.Len(t, opts, 3)
	assert.Equal(t, asynq.MaxRetryOpt, opts[0].Type())
	assert.Equal(t, asynq.QueueOpt, opts[1].Type())
	assert.Equal(t, asynq.TimeoutOpt, opts[2].Type())
	assert.Equal(t, 0, opts[0].Value())

	bare := (&Client{}).options()
	assert.Len(t, bare, 1)
}
