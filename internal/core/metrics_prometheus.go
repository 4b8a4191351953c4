package core

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"attendance/internal/types"
)

// PrometheusMetrics exposes the agent metrics for scraping. Each instance
// owns its registry so several can coexist in one process.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	acquisitionLatency *prometheus.HistogramVec
	outcomes           *prometheus.CounterVec
}

// NewPrometheusMetrics registers the agent metrics on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_agent_http_requests_total",
			Help: "HTTP requests served by route pattern and status",
		}, []string{"method", "endpoint", "status"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkin_agent_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "endpoint"}),
		acquisitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkin_agent_acquisition_duration_seconds",
			Help:    "Time spent sampling a position, by result",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"result"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_agent_attempt_outcomes_total",
			Help: "Finished check-in attempts by kind and outcome",
		}, []string{"kind", "result"}),
	}
}

func (m *PrometheusMetrics) RecordRequest(_ context.Context, method, endpoint, status string, duration time.Duration) {
	m.requests.WithLabelValues(method, endpoint, status).Inc()
	m.requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordAcquisition(_ context.Context, elapsed time.Duration, metAccuracy bool, code types.ErrorCode) {
	m.acquisitionLatency.WithLabelValues(acquisitionResult(metAccuracy, code)).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) RecordOutcome(_ context.Context, kind types.CheckInKind, outcome types.OutcomeKind) {
	m.outcomes.WithLabelValues(string(kind), string(outcome)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MultiMetrics fans every record out to several sinks.
type MultiMetrics []Recorder

func (mm MultiMetrics) RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration) {
	for _, m := range mm {
		m.RecordRequest(ctx, method, endpoint, status, duration)
	}
}

func (mm MultiMetrics) RecordAcquisition(ctx context.Context, elapsed time.Duration, metAccuracy bool, code types.ErrorCode) {
	for _, m := range mm {
		m.RecordAcquisition(ctx, elapsed, metAccuracy, code)
	}
}

func (mm MultiMetrics) RecordOutcome(ctx context.Context, kind types.CheckInKind, outcome types.OutcomeKind) {
	for _, m := range mm {
		m.RecordOutcome(ctx, kind, outcome)
	}
}

// Run runs every sink that delivers in the background and returns when all
// of them have stopped.
func (mm MultiMetrics) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range mm {
		if r, ok := m.(Runner); ok {
			g.Go(func() error { return r.Run(gctx) })
		}
	}
	return g.Wait()
}
