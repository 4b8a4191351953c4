package location

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"attendance/internal/types"
)

// Sampler defaults used when Options leaves a field unset.
const (
	DefaultDesiredAccuracyMeters = 25.0
	DefaultMaxWait               = 15 * time.Second
)

// Options tune a single acquisition.
type Options struct {
	DesiredAccuracyMeters float64
	MaxWait               time.Duration
}

// withDefaults fills non-positive fields from fallback, then from the
// package defaults.
func (o Options) withDefaults(fallback Options) Options {
	if o.DesiredAccuracyMeters <= 0 {
		o.DesiredAccuracyMeters = fallback.DesiredAccuracyMeters
	}
	if o.DesiredAccuracyMeters <= 0 {
		o.DesiredAccuracyMeters = DefaultDesiredAccuracyMeters
	}
	if o.MaxWait <= 0 {
		o.MaxWait = fallback.MaxWait
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	return o
}

// PositionSampler is a Sampler as seen by its consumers.
type PositionSampler interface {
	Acquire(ctx context.Context, opts Options, onSample func(types.PositionSample)) (types.AcquisitionResult, error)
}

var _ PositionSampler = (*Sampler)(nil)

// Sampler resolves a Sensor's continuous stream into one AcquisitionResult.
type Sampler struct {
	sensor   Sensor
	defaults Options
	clock    types.Clock
	logger   *slog.Logger
}

// NewSampler creates a Sampler over sensor. defaults apply to every Acquire
// call that leaves an option unset.
func NewSampler(sensor Sensor, defaults Options, clock types.Clock, logger *slog.Logger) *Sampler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		sensor:   sensor,
		defaults: defaults.withDefaults(Options{}),
		clock:    clock,
		logger:   logger,
	}
}

type eventKind int

const (
	eventPosition eventKind = iota
	eventFailure
	eventDeadline
)

type event struct {
	kind    eventKind
	sample  types.PositionSample
	failure SensorFailure
}

// acquisition is the state of one Acquire call. Sensor and timer callbacks
// only post events; all state changes happen on the Acquire goroutine, so
// no callback can observe or act on a settled acquisition.
//
// Posting never blocks: a sensor may deliver any number of fixes from
// inside Watch, before the loop is running.
type acquisition struct {
	desired  float64
	onSample func(types.PositionSample)

	mu      sync.Mutex
	queue   []event
	settled bool
	wake    chan struct{}

	best     *types.PositionSample
	accepted int
	dropped  int
}

func newAcquisition(desired float64, onSample func(types.PositionSample)) *acquisition {
	return &acquisition{
		desired:  desired,
		onSample: onSample,
		wake:     make(chan struct{}, 1),
	}
}

// post queues an event for the loop. Events arriving after settlement are
// discarded.
func (a *acquisition) post(ev event) {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, ev)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// drain takes every queued event in arrival order.
func (a *acquisition) drain() []event {
	a.mu.Lock()
	defer a.mu.Unlock()
	evs := a.queue
	a.queue = nil
	return evs
}

// settle stops further events from being queued.
func (a *acquisition) settle() {
	a.mu.Lock()
	a.settled = true
	a.queue = nil
	a.mu.Unlock()
}

func (a *acquisition) onPosition(p types.PositionSample) {
	a.post(event{kind: eventPosition, sample: p})
}

func (a *acquisition) onError(f SensorFailure) {
	a.post(event{kind: eventFailure, failure: f})
}

func (a *acquisition) onDeadline() {
	a.post(event{kind: eventDeadline})
}

// release tears down the subscription and the timer. It runs exactly once
// per successful Watch, on every exit path.
func (a *acquisition) release(sensor Sensor, id WatchID, timer types.Timer) {
	a.settle()
	timer.Stop()
	sensor.ClearWatch(id)
}

// Acquire subscribes to the sensor and resolves with the first fix whose
// accuracy is within opts.DesiredAccuracyMeters, or with the best valid fix
// seen when opts.MaxWait elapses. onSample, if non-nil, observes every
// accepted fix before Acquire returns and never after.
//
// Failures are *types.AppError with a sensor_* code.
func (s *Sampler) Acquire(ctx context.Context, opts Options, onSample func(types.PositionSample)) (types.AcquisitionResult, error) {
	opts = opts.withDefaults(s.defaults)

	if !s.sensor.Supported() {
		return types.AcquisitionResult{}, types.NewAppError(
			types.ErrCodeSensorUnsupported,
			"device location is not supported",
			nil,
		)
	}
	if err := ctx.Err(); err != nil {
		return types.AcquisitionResult{}, types.NewAppError(
			types.ErrCodeSensorCancelled,
			"location acquisition cancelled",
			err,
		)
	}

	a := newAcquisition(opts.DesiredAccuracyMeters, onSample)
	id, err := s.sensor.Watch(a.onPosition, a.onError, WatchOptions{
		EnableHighAccuracy: true,
		Timeout:            opts.MaxWait,
		MaximumAge:         0,
	})
	if err != nil {
		a.settle()
		return types.AcquisitionResult{}, types.NewAppError(
			types.ErrCodeSensorPositionUnavailable,
			"failed to open location subscription",
			err,
		)
	}

	timer := s.clock.AfterFunc(opts.MaxWait, a.onDeadline)
	defer a.release(s.sensor, id, timer)

	started := s.clock.Now()
	res, err := s.run(ctx, a)

	attrs := []any{
		"watch_id", uint64(id),
		"accepted", a.accepted,
		"dropped", a.dropped,
		"elapsed", s.clock.Now().Sub(started),
	}
	if err != nil {
		s.logger.DebugContext(ctx, "location acquisition failed", append(attrs, "code", string(types.CodeOf(err)))...)
	} else {
		s.logger.DebugContext(ctx, "location acquired",
			append(attrs, "accuracy_m", res.Sample.AccuracyMeters, "met_accuracy", res.MetAccuracy)...)
	}
	return res, err
}

// run is the acquisition event loop. Queued events are handled in arrival
// order and the first one that settles the acquisition wins.
func (s *Sampler) run(ctx context.Context, a *acquisition) (types.AcquisitionResult, error) {
	for {
		select {
		case <-ctx.Done():
			return types.AcquisitionResult{}, types.NewAppError(
				types.ErrCodeSensorCancelled,
				"location acquisition cancelled",
				ctx.Err(),
			)

		case <-a.wake:
			for _, ev := range a.drain() {
				if res, done, err := s.handle(ctx, a, ev); done {
					return res, err
				}
			}
		}
	}
}

// handle applies one event and reports whether it settles the acquisition.
func (s *Sampler) handle(ctx context.Context, a *acquisition, ev event) (types.AcquisitionResult, bool, error) {
	switch ev.kind {
	case eventPosition:
		if res, done := s.accept(ctx, a, ev.sample); done {
			return res, true, nil
		}

	case eventFailure:
		switch ev.failure.Code {
		case FailurePermissionDenied:
			return types.AcquisitionResult{}, true, types.NewAppError(
				types.ErrCodeSensorPermissionDenied,
				"location permission denied",
				nil,
			)
		case FailurePositionUnavailable:
			return types.AcquisitionResult{}, true, types.NewAppError(
				types.ErrCodeSensorPositionUnavailable,
				"device position unavailable",
				nil,
			)
		default:
			// The sampler's own deadline is authoritative.
			s.logger.DebugContext(ctx, "ignoring sensor failure",
				"code", string(ev.failure.Code),
				"message", ev.failure.Message,
			)
		}

	case eventDeadline:
		if a.best != nil {
			return types.AcquisitionResult{Sample: *a.best, MetAccuracy: false}, true, nil
		}
		return types.AcquisitionResult{}, true, types.NewAppError(
			types.ErrCodeSensorTimeout,
			"no valid position before the deadline",
			nil,
		)
	}
	return types.AcquisitionResult{}, false, nil
}

// accept validates p, retains it if it beats the current best and reports
// whether it settles the acquisition.
func (s *Sampler) accept(ctx context.Context, a *acquisition, p types.PositionSample) (types.AcquisitionResult, bool) {
	if err := types.ValidateSample(p); err != nil {
		a.dropped++
		s.logger.DebugContext(ctx, "dropping invalid position sample", "error", err.Error())
		return types.AcquisitionResult{}, false
	}
	a.accepted++

	if a.best == nil || p.BetterThan(*a.best) {
		best := p
		a.best = &best
	}
	if a.onSample != nil {
		a.onSample(p)
	}

	if p.AccuracyMeters <= a.desired {
		return types.AcquisitionResult{Sample: p, MetAccuracy: true}, true
	}
	return types.AcquisitionResult{}, false
}
