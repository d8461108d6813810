package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/transcription-service/internal/jobs"
)

// handleTranscriptionEvents streams the record until it reaches a terminal
// state or the client goes away.
func (s *Server) handleTranscriptionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, found, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Transcription not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(rec *jobs.Record) bool {
		payload, err := json.Marshal(rec)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(rec) || rec.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			rec, found, err := s.svc.GetJob(r.Context(), id)
			if err != nil || !found {
				return
			}
			if !send(rec) || rec.Status.IsTerminal() {
				return
			}
		}
	}
}
