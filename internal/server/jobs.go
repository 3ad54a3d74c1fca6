package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/server/responses"
)

const maxRequestBody = 1 << 20

// handleGenerateStore accepts a generation request. The job runs
// asynchronously; the caller polls or subscribes for its status.
func (s *Server) handleGenerateStore(w http.ResponseWriter, r *http.Request) {
	var req generator.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "request body is not a valid generation request").Build())
		return
	}

	job, err := s.svc.GenerateStore(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/generation-status/"+job.ID)
	s.writeJSON(w, http.StatusAccepted, responses.GenerateResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Status(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, responses.FromJob(job))
}

// handleCancel requests cooperative cancellation. A job that already
// reached a terminal state answers 409.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if err := s.svc.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := "cancelling"
	if job, err := s.svc.Status(r.Context(), id); err == nil && job.Status.Terminal() {
		status = string(job.Status)
	}
	s.writeJSON(w, http.StatusAccepted, responses.CancelResponse{JobID: id, Status: status})
}

func (s *Server) handleTenantJobs(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			s.writeError(w, r, foundationerrors.ValidationError("limit must be between 1 and 200").WithContext("limit", raw).Build())
			return
		}
		limit = n
	}
	list, err := s.svc.Recent(r.Context(), tenantID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := responses.JobListResponse{TenantID: tenantID, Jobs: make([]responses.JobSummary, 0, len(list))}
	for _, j := range list {
		resp.Jobs = append(resp.Jobs, responses.JobSummary{
			JobID:       j.ID,
			Status:      string(j.Status),
			Progress:    j.Progress,
			Version:     j.Version,
			ErrorKind:   j.ErrorKind,
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleTenantEvents lists lifecycle events since an RFC 3339 instant,
// defaulting to the last 24 hours.
func (s *Server) handleTenantEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, foundationerrors.ValidationError("since must be an RFC 3339 timestamp").WithContext("since", raw).Build())
			return
		}
		since = t
	}
	events, err := s.events.TenantHistory(r.Context(), tenantID, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := responses.EventListResponse{TenantID: tenantID, Events: make([]responses.EventEntry, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, responses.EventEntry{
			ID:        e.ID(),
			JobID:     e.JobID(),
			Type:      e.Type(),
			Timestamp: e.Timestamp().UTC(),
			Payload:   json.RawMessage(e.Payload()),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvalidateTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantId")
	n := s.svc.InvalidateTenant(r.Context(), id)
	s.writeJSON(w, http.StatusOK, responses.InvalidateResponse{Scope: "tenant", ID: id, Removed: n})
}

func (s *Server) handleInvalidateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateId")
	n := s.svc.InvalidateTemplate(r.Context(), id)
	s.writeJSON(w, http.StatusOK, responses.InvalidateResponse{Scope: "template", ID: id, Removed: n})
}
