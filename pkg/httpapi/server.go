// Package httpapi implements the HTTP Surface (spec §4.L): authentication,
// IP allow-listing, rate-limit headers, structured error envelopes, and the
// job/batch/admin routes, wired over chi the way the teacher wires its own
// gateway router.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fluxcode/transcoder/internal/config"
	"github.com/fluxcode/transcoder/pkg/batch"
	"github.com/fluxcode/transcoder/pkg/credential"
	"github.com/fluxcode/transcoder/pkg/job"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
	"github.com/fluxcode/transcoder/pkg/storage"
)

// Server wires the Job Orchestrator, Batch Coordinator, credential
// resolver, rate limiter, and storage registry behind a single chi router.
type Server struct {
	jobs        *job.Service
	batches     *batch.Coordinator
	credentials *credential.Service
	limiter     *ratelimit.Limiter
	storage     *storage.Registry
	logger      logr.Logger

	debug         bool
	rateLimitOn   bool
	maxBodySize   int64
	cleanupWindow time.Duration
	ipAllow       *IPAllowList
	cors          CORSOptions

	router chi.Router
	srv    *http.Server
}

// NewServer builds the router and binds it to cfg.Server.Host:Port.
func NewServer(cfg *config.Config, jobs *job.Service, batches *batch.Coordinator, credentials *credential.Service, limiter *ratelimit.Limiter, registry *storage.Registry, logger logr.Logger) *Server {
	s := &Server{
		jobs:          jobs,
		batches:       batches,
		credentials:   credentials,
		limiter:       limiter,
		storage:       registry,
		logger:        logger,
		debug:         cfg.Debug,
		rateLimitOn:   cfg.RateLimitEnabled,
		maxBodySize:   cfg.MaxBodySize,
		cleanupWindow: time.Duration(cfg.JobRetentionDays) * 24 * time.Hour,
		ipAllow:       NewIPAllowList(cfg.AllowedIPs),
		cors:          corsOptionsFromConfig(cfg.CORSOrigins),
	}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.router,
	}
	return s
}

// Router exposes the underlying handler, primarily for tests.
func (s *Server) Router() http.Handler { return s.router }

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(err, "http server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.request")
	})
	r.Use(securityHeaders)
	r.Use(corsMiddleware(s.cors))
	r.Use(s.ipAllowMiddleware)
	r.Use(s.maxBodySizeMiddleware)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimitMiddleware)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{id}", s.getJob)
			r.Post("/{id}/cancel", s.cancelJob)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.enqueueBatch)
			r.Get("/", s.listBatches)
			r.Get("/{id}", s.getBatch)
			r.Post("/{id}/cancel", s.cancelBatch)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/storage/status", s.storageStatus)
			r.Post("/cleanup", s.cleanupSweep)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
