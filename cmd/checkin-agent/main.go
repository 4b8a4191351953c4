// Package main is the entry point for the check-in agent.
//
// Usage:
//
//	checkin-agent [serve]   run the HTTP agent (default)
//	checkin-agent version   print build metadata
//	checkin-agent config    print the resolved configuration, secrets redacted
//
// The agent sits between the employee's page and the attendance API. The page
// opens a session, forwards its geolocation fixes and starts check-in
// attempts; the agent samples, gates and submits on the employee's behalf.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// the listener drains, every open session is closed and in-flight
// submissions are allowed to finish.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"golang.org/x/sync/errgroup"

	"attendance/internal/api/handlers"
	"attendance/internal/checkin"
	"attendance/internal/config"
	"attendance/internal/core"
	"attendance/internal/external"
	"attendance/internal/types"
)

const shutdownTimeout = 15 * time.Second

func main() {
	root := newRootCmd()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration the way every command does. SSM is
// only consulted outside APP_ENV=local; the client is lazy.
func loadConfig() (*config.Config, error) {
	provider := config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("check-in agent starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, scrape, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	a, err := buildApp(cfg, logger, metrics, scrape)
	if err != nil {
		return err
	}
	return a.serve(ctx)
}

// newMetrics builds the enabled sinks. The returned handler is the
// Prometheus scrape endpoint, nil when Prometheus is disabled.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Recorder, http.Handler, error) {
	var sinks core.MultiMetrics
	var scrape http.Handler

	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = &cfg.AWS.EndpointURL
			}
		})
		sinks = append(sinks, core.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger))
	}
	if cfg.Observability.PrometheusEnabled {
		prom := core.NewPrometheusMetrics()
		sinks = append(sinks, prom)
		scrape = prom.Handler()
	}

	switch len(sinks) {
	case 0:
		return core.NoopMetrics{}, nil, nil
	case 1:
		return sinks[0], scrape, nil
	default:
		return sinks, scrape, nil
	}
}

// app is the fully wired agent.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   *core.Server
	registry *checkin.Registry
	metrics  core.Recorder
}

// buildApp wires the attendance client, the session registry and the HTTP
// server.
func buildApp(cfg *config.Config, logger *slog.Logger, metrics core.Recorder, scrape http.Handler) (*app, error) {
	attendance := external.NewAttendanceClient(
		&http.Client{Timeout: cfg.Attendance.Timeout},
		external.AttendanceClientConfig{
			BaseURL:    cfg.Attendance.BaseURL,
			APIKey:     cfg.Attendance.APIKey,
			MaxRetries: cfg.Attendance.MaxRetries,
			Logger:     logger,
		},
	)

	registry := checkin.NewRegistry(attendance, attendance, metrics, cfg.RegistryConfig(), types.RealClock{}, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = metrics
	srv.MetricsHandler = scrape
	srv.HealthProbes = []core.HealthProbe{attendance}

	checkInHandler := handlers.NewCheckInHandler(registry, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, checkInHandler.RegisterRoutes)
	srv.OnShutdown = append(srv.OnShutdown, func(context.Context) error {
		registry.CloseAll()
		return nil
	})

	srv.MountRoutes()

	return &app{cfg: cfg, logger: logger, server: srv, registry: registry, metrics: metrics}, nil
}

// serve runs the HTTP listener and the background loops (session janitor,
// metric flusher) until ctx is cancelled or the listener fails, then shuts
// everything down.
func (a *app) serve(ctx context.Context) error {
	addr := ":" + a.cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.registry.RunJanitor(gctx, a.cfg.Session.SweepInterval)
	})

	if r, ok := a.metrics.(core.Runner); ok {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("check-in agent stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
