package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/MimeLyc/transcription-service/internal/jobs"
)

const TypeTranscriptionRun = "transcription:run"

// TranscriptionRunPayload is the task body; it mirrors jobs.Task.
type TranscriptionRunPayload struct {
	JobID        string `json:"job_id"`
	InputPath    string `json:"input_path"`
	OriginalName string `json:"original_name"`
}

func newTranscriptionTask(task jobs.Task) (*asynq.Task, error) {
	data, err := json.Marshal(TranscriptionRunPayload(task))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeTranscriptionRun, data), nil
}

func parseTranscriptionTask(t *asynq.Task) (jobs.Task, error) {
	var payload TranscriptionRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return jobs.Task{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.JobID == "" {
		return jobs.Task{}, fmt.Errorf("payload without job_id")
	}
	return jobs.Task(payload), nil
}
