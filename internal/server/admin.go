package server

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/server/responses"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
	"git.home.luguber.info/inful/storebuilder/internal/version"
)

// handleHealth reports liveness. Open circuits degrade the status without
// failing the liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := responses.HealthResponse{
		Status:    "healthy",
		Version:   version.Get().Version,
		Uptime:    time.Since(s.startTime).Seconds(),
		Timestamp: time.Now().UTC(),
	}
	if s.stats != nil {
		resp.JobsRunning, resp.JobsQueued = s.stats.Stats()
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.Snapshot()
		for _, b := range resp.Breakers {
			if b.State != breaker.Closed.String() {
				resp.Status = "degraded"
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCDNObject serves an optimized variant by its content address,
// "<sha256>.<ext>". Variants never change, so they are cached forever.
func (s *Server) handleCDNObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "object")
	hash := strings.TrimSuffix(name, path.Ext(name))
	obj, err := s.objects.Get(r.Context(), hash)
	if err != nil {
		if storage.IsNotFound(err) {
			err = foundationerrors.NotFoundError("object not found").WithContext("object", name).Build()
		}
		s.writeError(w, r, err)
		return
	}
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+obj.Hash+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
