// Package server provides the worker's admin HTTP listener: health, metrics,
// sync state and manual job triggers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/server/middleware"
	"github.com/jonathan/ats-sync/internal/server/ratelimit"
)

// Triggerer queues manual job runs and reports the last one.
type Triggerer interface {
	Trigger(job string) error
	LastRun(job string) *jobs.Report
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	Addr              string
	AdminToken        string
	TriggersPerMinute int
	ShutdownTimeout   time.Duration
}

// Server is the admin HTTP server. It implements suture.Service.
type Server struct {
	cfg       Config
	states    db.SyncStateStore
	triggers  Triggerer
	pinger    Pinger
	router    chi.Router
	limiter   *ratelimit.Limiter
	startedAt time.Time
}

// New creates the server and its routes. pinger may be nil.
func New(cfg Config, states db.SyncStateStore, triggers Triggerer, pinger Pinger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:       cfg,
		states:    states,
		triggers:  triggers,
		pinger:    pinger,
		limiter:   ratelimit.NewLimiter(cfg.TriggersPerMinute, 1),
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/sync-states", s.handleSyncStates)
	r.Get("/sync/{job}", s.handleJobStatus)
	r.With(middleware.BearerToken(cfg.AdminToken), s.limiter.Middleware).
		Post("/sync/{job}", s.handleTrigger)

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Ctx(ctx).Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	logging.Ctx(ctx).Info().Msg("admin server stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "admin-server"
}
