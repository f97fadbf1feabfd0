package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"whisper-server/internal/jobs"
)

// streamPollInterval bounds how long a drained stream waits before checking
// the job log for new events again.
const streamPollInterval = 100 * time.Millisecond

// handleStream delivers a job's events as an SSE stream in append order,
// closing the response after the terminal frame and removing the job. A
// client disconnect mid-stream is absorbed; the job keeps running.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.store.Exists(jobID) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	done := s.store.Done(jobID)
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		events, err := s.store.Drain(jobID, sent)
		if err != nil {
			if !errors.Is(err, jobs.ErrNotFound) {
				log.Warn().Str("job_id", jobID).Err(err).Msg("stream drain failed")
			}
			return
		}

		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Str("job_id", jobID).Err(err).Msg("failed to encode stream event")
				continue
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				// Client went away; the executor keeps running.
				return
			}
			flusher.Flush()
			sent++

			if ev.Terminal() {
				s.store.Remove(jobID)
				return
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-done:
		case <-ticker.C:
		}
	}
}
