package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/storebuilder/internal/logfields"
	"git.home.luguber.info/inful/storebuilder/internal/server/responses"
)

// Stream event names.
const (
	eventStatus   = "status"
	eventTerminal = "terminal"
	eventTimeout  = "timeout"
)

// handleJobEvents streams job updates as server-sent events until the job
// reaches a terminal state, the client disconnects, or the stream idles.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	updates, unsubscribe, err := s.svc.Subscribe(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := s.logger.With(logfields.JobID(jobID))
	log.Debug("Job event stream opened")

	idle := time.NewTimer(s.streamIdle)
	defer idle.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug("Job event stream closed by client")
			return
		case <-idle.C:
			s.sendEvent(w, eventTimeout, map[string]string{"jobId": jobID})
			return
		case j, ok := <-updates:
			if !ok {
				return
			}
			name := eventStatus
			if j.Status.Terminal() {
				name = eventTerminal
			}
			s.sendEvent(w, name, responses.FromJob(j))
			if j.Status.Terminal() {
				log.Debug("Job event stream closed at terminal state", logfields.JobStatus(string(j.Status)))
				return
			}
			idle.Reset(s.streamIdle)
		}
	}
}

// sendEvent writes one SSE frame and flushes it.
func (s *Server) sendEvent(w http.ResponseWriter, name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("Failed to marshal stream event", logfields.Error(err))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	if err := http.NewResponseController(w).Flush(); err != nil {
		s.logger.Debug("Stream flush failed", logfields.Error(err))
	}
}
