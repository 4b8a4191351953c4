package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"attendance/internal/types"
)

// Recorder receives both the per-request and the per-attempt telemetry. It
// satisfies MetricsCollector and checkin.Metrics.
type Recorder interface {
	MetricsCollector
	RecordAcquisition(ctx context.Context, elapsed time.Duration, metAccuracy bool, code types.ErrorCode)
	RecordOutcome(ctx context.Context, kind types.CheckInKind, outcome types.OutcomeKind)
}

// CloudWatchClient is the PutMetricData subset of the CloudWatch client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Runner is a sink that delivers in the background until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

const (
	// maxDatumsPerPut stays under the PutMetricData request limit.
	maxDatumsPerPut   = 500
	defaultFlushEvery = 15 * time.Second
	defaultMaxPending = 10000
)

// CloudWatchMetrics emits agent metrics:
//
//	APIRequestCount, APILatency   dims {Method, Endpoint, Status}
//	AcquisitionLatency            dims {Result}
//	CheckInOutcome                dims {Kind, Result}
//
// It satisfies MetricsCollector and checkin.Metrics. Record calls only
// append to an in-memory buffer, which Run ships on a ticker and on
// shutdown. When the buffer is full new datums are dropped and counted.
// Emission failures are logged and otherwise ignored.
type CloudWatchMetrics struct {
	client     CloudWatchClient
	namespace  string
	logger     *slog.Logger
	timeout    time.Duration
	flushEvery time.Duration
	maxPending int

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
	ready   chan struct{}
}

// NewCloudWatchMetrics publishes to namespace (types.MetricNamespace when
// empty). Nothing is sent until Run or Flush is called.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:     client,
		namespace:  namespace,
		logger:     logger,
		timeout:    2 * time.Second,
		flushEvery: defaultFlushEvery,
		maxPending: defaultMaxPending,
		ready:      make(chan struct{}, 1),
	}
}

// Run flushes on every tick and whenever a full batch is buffered. On
// cancellation it makes a final flush, bounded by the put timeout, and
// returns nil.
func (m *CloudWatchMetrics) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-m.ready:
			m.Flush(ctx)
		case <-ctx.Done():
			m.Flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}

// Flush sends everything buffered so far in batches of at most
// maxDatumsPerPut. Each batch gets its own timeout.
func (m *CloudWatchMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	data := m.pending
	dropped := m.dropped
	m.pending = nil
	m.dropped = 0
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.WarnContext(ctx, "metric buffer full, datums dropped", "dropped", dropped)
	}
	for len(data) > 0 {
		n := min(len(data), maxDatumsPerPut)
		m.send(ctx, data[:n])
		data = data[n:]
	}
}

func (m *CloudWatchMetrics) RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	m.enqueue(
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

// RecordAcquisition records how long sampling took. Result is "met",
// "best_effort" or the sensor error code.
func (m *CloudWatchMetrics) RecordAcquisition(ctx context.Context, elapsed time.Duration, metAccuracy bool, code types.ErrorCode) {
	m.enqueue(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricAcquisitionLatency),
		Value:      aws.Float64(float64(elapsed.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(types.DimResult, acquisitionResult(metAccuracy, code))},
	})
}

func acquisitionResult(metAccuracy bool, code types.ErrorCode) string {
	switch {
	case code != "":
		return string(code)
	case metAccuracy:
		return "met"
	default:
		return "best_effort"
	}
}

func (m *CloudWatchMetrics) RecordOutcome(ctx context.Context, kind types.CheckInKind, outcome types.OutcomeKind) {
	m.enqueue(cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricCheckInOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(types.DimKind, string(kind)),
			dim(types.DimResult, string(outcome)),
		},
	})
}

func (m *CloudWatchMetrics) enqueue(data ...cwtypes.MetricDatum) {
	now := aws.Time(time.Now().UTC())
	for i := range data {
		data[i].Timestamp = now
	}

	m.mu.Lock()
	if len(m.pending)+len(data) > m.maxPending {
		m.dropped += len(data)
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, data...)
	full := len(m.pending) >= maxDatumsPerPut
	m.mu.Unlock()

	if full {
		select {
		case m.ready <- struct{}{}:
		default:
		}
	}
}

func (m *CloudWatchMetrics) send(ctx context.Context, data []cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to record metrics", "datums", len(data), "error", err.Error())
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// NoopMetrics discards everything. Used when METRICS_ENABLED is false.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(context.Context, string, string, string, time.Duration) {}
func (NoopMetrics) RecordAcquisition(context.Context, time.Duration, bool, types.ErrorCode) {}
func (NoopMetrics) RecordOutcome(context.Context, types.CheckInKind, types.OutcomeKind) {}
