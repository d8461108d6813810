package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/transcription-service/internal/service"
	"github.com/MimeLyc/transcription-service/pkg/log"
)

func (s *Server) handleServiceStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Transcription service is running",
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	up, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	log.Info("Received file %s (%d bytes)", up.OriginalName, up.Size)

	id, err := s.svc.CreateJob(r.Context(), up.OriginalName)
	if err != nil {
		removeUpload(up.Path)
		writeStartFailure(w, err)
		return
	}
	if err := s.svc.StartJob(r.Context(), id, up.Path, up.OriginalName); err != nil {
		removeUpload(up.Path)
		writeStartFailure(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":         true,
		"message":         "Transcription started",
		"transcriptionId": id,
		"url":             "/transcription/" + id,
	})
}

// handleTranscribe blocks until the job is terminal.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	up, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}

	rec, err := s.svc.Transcribe(r.Context(), up.Path, up.OriginalName)
	if err != nil {
		if rec == nil {
			removeUpload(up.Path)
			writeStartFailure(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"data":    rec,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    rec,
	})
}

func (s *Server) handleTranscriptionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, found, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		log.Warn("Transcription not found: %s", id)
		writeError(w, http.StatusNotFound, "Transcription not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    rec,
	})
}

func (s *Server) handleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.ListJobs(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    records,
	})
}

func (s *Server) handleDeleteTranscription(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTranscriptionPage serves the status page; the page itself polls
// the status endpoint for the id in its URL.
func (s *Server) handleTranscriptionPage(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.publicDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.publicDir, "transcription.html"))
}

func statusFor(err error) int {
	switch service.TypeOf(err) {
	case service.ErrNotFound:
		return http.StatusNotFound
	case service.ErrValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		service.LogError(err)
	}
	msg := err.Error()
	if status == http.StatusNotFound {
		msg = "Transcription not found"
	}
	writeError(w, status, msg)
}

// writeStartFailure reports a job that could not be created or started.
func writeStartFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		service.LogError(err)
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": "Failed to start transcription",
		"error":   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": msg,
	})
}
