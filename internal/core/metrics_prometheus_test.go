package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/types"
)

func TestPrometheusMetrics_Records(t *testing.T) {
	m := NewPrometheusMetrics()
	ctx := context.Background()

	m.RecordRequest(ctx, "POST", "/v1/sessions", "201", 20*time.Millisecond)
	m.RecordRequest(ctx, "POST", "/v1/sessions", "201", 30*time.Millisecond)
	m.RecordOutcome(ctx, types.CheckInKindOffice, types.OutcomeSuccess)
	m.RecordAcquisition(ctx, 3*time.Second, false, types.ErrCodeSensorTimeout)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/v1/sessions", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("office", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.acquisitionLatency))
}

func TestPrometheusMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := NewPrometheusMetrics(), NewPrometheusMetrics()
	a.RecordOutcome(context.Background(), types.CheckInKindMission, types.OutcomeNetworkError)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.outcomes.WithLabelValues("mission", "network_error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.outcomes.WithLabelValues("mission", "network_error")))
}

func TestMountRoutes_ServesMetrics(t *testing.T) {
	prom := NewPrometheusMetrics()
	srv := newTestServer(t)
	srv.Metrics = prom
	srv.MetricsHandler = prom.Handler()
	srv.MountRoutes()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `checkin_agent_http_requests_total{endpoint="/version",method="GET",status="200"} 1`), body)
}

func TestMultiMetrics_FansOut(t *testing.T) {
	a, b := NewPrometheusMetrics(), NewPrometheusMetrics()
	multi := MultiMetrics{a, b, NoopMetrics{}}

	multi.RecordOutcome(context.Background(), types.CheckInKindOffice, types.OutcomeRejectedByGate)
	multi.RecordRequest(context.Background(), "GET", "/health", "200", time.Millisecond)
	multi.RecordAcquisition(context.Background(), time.Second, true, "")

	for _, m := range []*PrometheusMetrics{a, b} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("office", "rejected_by_gate")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/health", "200")))
	}
}
