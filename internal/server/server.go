// Package server exposes the generation controller over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/storebuilder/internal/breaker"
	"git.home.luguber.info/inful/storebuilder/internal/config"
	"git.home.luguber.info/inful/storebuilder/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/storebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/storebuilder/internal/generator"
	"git.home.luguber.info/inful/storebuilder/internal/jobs"
	"git.home.luguber.info/inful/storebuilder/internal/metrics"
	smw "git.home.luguber.info/inful/storebuilder/internal/server/middleware"
	"git.home.luguber.info/inful/storebuilder/internal/storage"
)

// Service is the part of the generation controller the API drives.
type Service interface {
	GenerateStore(ctx context.Context, req generator.Request) (*jobs.Job, error)
	Status(ctx context.Context, jobID string) (*jobs.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Subscribe(ctx context.Context, jobID string) (<-chan *jobs.Job, func(), error)
	Recent(ctx context.Context, tenantID string, limit int) ([]*jobs.Job, error)
	InvalidateTenant(ctx context.Context, tenantID string) int
	InvalidateTemplate(ctx context.Context, templateID string) int
}

// EventLog serves the recorded lifecycle history of a tenant.
type EventLog interface {
	TenantHistory(ctx context.Context, tenantID string, since time.Time) ([]eventstore.Event, error)
}

// JobStats reports worker pool occupancy for /health.
type JobStats interface {
	Stats() (running, queued int)
}

// Server represents the API server.
type Server struct {
	Addr   string
	router *chi.Mux
	server *http.Server

	svc            Service
	errorAdapter   *foundationerrors.HTTPErrorAdapter
	logger         *slog.Logger
	recorder       metrics.Recorder
	metrics        http.Handler
	metricsPath    string
	objects        storage.ObjectStore
	breakers       *breaker.Registry
	stats          JobStats
	events         EventLog
	requestTimeout time.Duration
	streamIdle     time.Duration
	startTime      time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRecorder feeds request metrics.
func WithRecorder(r metrics.Recorder) Option { return func(s *Server) { s.recorder = r } }

// WithMetricsHandler mounts h at path.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// WithObjectStore serves optimized asset variants under /cdn.
func WithObjectStore(o storage.ObjectStore) Option { return func(s *Server) { s.objects = o } }

// WithBreakers reports circuit states on /health.
func WithBreakers(r *breaker.Registry) Option { return func(s *Server) { s.breakers = r } }

// WithJobStats reports worker pool occupancy on /health.
func WithJobStats(js JobStats) Option { return func(s *Server) { s.stats = js } }

// WithEventLog serves tenant lifecycle history.
func WithEventLog(l EventLog) Option { return func(s *Server) { s.events = l } }

// WithRequestTimeout bounds non-streaming handlers.
func WithRequestTimeout(d time.Duration) Option { return func(s *Server) { s.requestTimeout = d } }

// WithStreamIdle closes an event stream that saw no update for d.
func WithStreamIdle(d time.Duration) Option { return func(s *Server) { s.streamIdle = d } }

// OptionsFromConfig maps the server section to options.
func OptionsFromConfig(c config.ServerConfig) []Option {
	return []Option{WithRequestTimeout(config.ParseDuration(c.RequestTimeout, 30*time.Second))}
}

// NewServer creates a new API server.
func NewServer(addr string, svc Service, opts ...Option) *Server {
	s := &Server{
		Addr:           addr,
		router:         chi.NewRouter(),
		svc:            svc,
		logger:         slog.Default(),
		recorder:       metrics.NoopRecorder{},
		requestTimeout: 30 * time.Second,
		streamIdle:     5 * time.Minute,
		startTime:      time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.errorAdapter = foundationerrors.NewHTTPErrorAdapter(s.logger)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(smw.Chain(s.logger, s.errorAdapter, s.recorder))

	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	// Event streams are long lived and stay outside the request timeout.
	s.router.Get("/generation-status/{jobId}/events", s.handleJobEvents)

	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.requestTimeout))

		r.Post("/generate-store", s.handleGenerateStore)
		r.Get("/generation-status/{jobId}", s.handleGetStatus)
		r.Post("/cancel/{jobId}", s.handleCancel)
		r.Get("/tenants/{tenantId}/jobs", s.handleTenantJobs)
		if s.events != nil {
			r.Get("/tenants/{tenantId}/events", s.handleTenantEvents)
		}

		r.Post("/tenants/{tenantId}/invalidate", s.handleInvalidateTenant)
		r.Post("/templates/{templateId}/invalidate", s.handleInvalidateTemplate)

		if s.objects != nil {
			r.Get("/cdn/{object}", s.handleCDNObject)
		}
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on Addr and serves until Shutdown. The listener is bound
// before Start returns so address errors surface immediately.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "bind API listener").
			WithContext("addr", s.Addr).
			Build()
	}
	s.logger.Info("API server listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorAdapter.WriteErrorResponse(w, r, err)
}
