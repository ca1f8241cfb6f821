// Package api provides the HTTP API server for lifevault.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wesm/lifevault/internal/config"
	"github.com/wesm/lifevault/internal/jobs"
	"github.com/wesm/lifevault/internal/progress"
	"github.com/wesm/lifevault/internal/scheduler"
	"github.com/wesm/lifevault/internal/store"
)

// Store defines the store operations the API needs.
type Store interface {
	GetStats(ctx context.Context) (*store.Stats, error)
	ListRuns(ctx context.Context, limit int) ([]store.ImportRun, error)
	DeleteMediaItem(ctx context.Context, id int64) error
}

// JobRunner starts and cancels import jobs.
type JobRunner interface {
	Start(req jobs.Request) (*progress.Tracker, error)
	Cancel(source string) error
	Registry() *progress.Registry
}

// Scheduler exposes scheduled account state. It may be nil.
type Scheduler interface {
	Status() []scheduler.AccountStatus
	Trigger(email string) error
}

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	store   Store
	jobs    JobRunner
	sched   Scheduler
	logger  *slog.Logger
	router  chi.Router
	limiter *RateLimiter
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, st Store, jr JobRunner, sched Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		store:   st,
		jobs:    jr,
		sched:   sched,
		logger:  logger,
		limiter: NewRateLimiter(10, 20),
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(RateLimitMiddleware(s.limiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Long-lived; kept outside the request timeout.
		r.Get("/imports/{source}/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))

			r.Get("/stats", s.handleStats)
			r.Get("/runs", s.handleListRuns)
			r.Delete("/media/{id}", s.handleDeleteMedia)

			r.Get("/imports", s.handleListImports)
			r.Post("/imports/{source}", s.handleStartImport)
			r.Get("/imports/{source}", s.handleGetImport)
			r.Post("/imports/{source}/cancel", s.handleCancelImport)

			r.Get("/scheduler/status", s.handleSchedulerStatus)
			r.Post("/scheduler/{email}/trigger", s.handleTrigger)
		})
	})
	return r
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddr()
	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// authMiddleware checks the API key from Authorization (optionally
// "Bearer ") or X-API-Key. No key configured means no auth.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.Server.APIKey
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get("Authorization")
		if got == "" {
			got = r.Header.Get("X-API-Key")
		}
		got = strings.TrimPrefix(got, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			s.logger.Warn("unauthorized API request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
