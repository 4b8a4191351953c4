// Package core is the HTTP chassis of the check-in agent: a chi router with
// the cross-cutting middleware (recovery, request IDs, logging, CORS,
// metrics, credential forwarding) applied before requests reach the
// check-in handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"attendance/internal/config"
)

// MetricsCollector records per-request API telemetry.
type MetricsCollector interface {
	RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration)
}

// Server holds the agent's HTTP dependencies.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	// MetricsHandler, when set, is served at GET /metrics.
	MetricsHandler http.Handler

	// V1RouteRegistrars mount domain handlers under /v1. Populated by main
	// so core never imports the handler packages.
	V1RouteRegistrars []func(chi.Router)

	// OnShutdown hooks run in order during Shutdown.
	OnShutdown []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer prepares a server. Call MountRoutes once registrars are set.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for tests and route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs the shutdown hooks. The first error is returned after every
// hook has run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var firstErr error
	for _, hook := range s.OnShutdown {
		if err := hook(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "shutdown hook failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return firstErr
}
