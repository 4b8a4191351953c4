package location

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"attendance/internal/types"
)

// ErrSensorClosed is returned by Watch after Close.
var ErrSensorClosed = errors.New("location: sensor closed")

// DeviceSensor is a Sensor whose fixes are pushed in by the device bridge:
// the employee's page forwards each watchPosition callback to the agent,
// which calls Publish or Fail.
//
// The device clock and the agent clock are never compared. Freshness against
// a watch's MaximumAge uses the time the agent received the fix; CapturedAt
// is device metadata and only orders fixes from the same device.
type DeviceSensor struct {
	supported atomic.Bool
	clock     types.Clock

	mu       sync.Mutex
	nextID   WatchID
	watchers map[WatchID]*deviceWatcher
	last     *receivedFix
	// lastCaptured is the newest device timestamp published so far.
	lastCaptured time.Time
	closed       bool
}

type receivedFix struct {
	sample     types.PositionSample
	receivedAt time.Time
}

type deviceWatcher struct {
	onPosition func(types.PositionSample)
	onError    func(SensorFailure)
	opts       WatchOptions
	startedAt  time.Time
}

// accepts reports whether a fix the agent received at receivedAt is fresh
// enough for this watcher's MaximumAge. Both times come from the agent clock.
func (w *deviceWatcher) accepts(receivedAt time.Time) bool {
	return !receivedAt.Before(w.startedAt.Add(-w.opts.MaximumAge))
}

var _ Sensor = (*DeviceSensor)(nil)

// NewDeviceSensor creates a DeviceSensor. supported is what the page reported
// about navigator.geolocation.
func NewDeviceSensor(supported bool, clock types.Clock) *DeviceSensor {
	if clock == nil {
		clock = types.RealClock{}
	}
	d := &DeviceSensor{
		clock:    clock,
		watchers: make(map[WatchID]*deviceWatcher),
	}
	d.supported.Store(supported)
	return d
}

// Supported implements Sensor.
func (d *DeviceSensor) Supported() bool {
	return d.supported.Load()
}

// SetSupported updates device capability, e.g. after the page re-detects it.
func (d *DeviceSensor) SetSupported(v bool) {
	d.supported.Store(v)
}

// Watch implements Sensor. The last published fix is replayed to the new
// watcher when it satisfies opts.MaximumAge.
func (d *DeviceSensor) Watch(onPosition func(types.PositionSample), onError func(SensorFailure), opts WatchOptions) (WatchID, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrSensorClosed
	}
	d.nextID++
	id := d.nextID
	w := &deviceWatcher{
		onPosition: onPosition,
		onError:    onError,
		opts:       opts,
		startedAt:  d.clock.Now(),
	}
	d.watchers[id] = w
	var replay *types.PositionSample
	if d.last != nil && opts.MaximumAge > 0 && w.accepts(d.last.receivedAt) {
		cp := d.last.sample
		replay = &cp
	}
	d.mu.Unlock()

	if replay != nil && onPosition != nil {
		onPosition(*replay)
	}
	return id, nil
}

// ClearWatch implements Sensor.
func (d *DeviceSensor) ClearWatch(id WatchID) {
	d.mu.Lock()
	delete(d.watchers, id)
	d.mu.Unlock()
}

// Publish delivers a fix to every active watcher whose MaximumAge it
// satisfies and returns how many received it. A fix the device stamped
// earlier than one it already sent is a cached fix and is not delivered. An
// undated fix is stamped with the receive time and does not move the device
// timeline.
func (d *DeviceSensor) Publish(p types.PositionSample) int {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0
	}
	receivedAt := d.clock.Now()
	if p.CapturedAt.IsZero() {
		p.CapturedAt = receivedAt
	} else {
		if p.CapturedAt.Before(d.lastCaptured) {
			d.mu.Unlock()
			return 0
		}
		d.lastCaptured = p.CapturedAt
	}
	d.last = &receivedFix{sample: p, receivedAt: receivedAt}
	targets := make([]func(types.PositionSample), 0, len(d.watchers))
	for _, w := range d.watchers {
		if w.onPosition != nil && w.accepts(receivedAt) {
			targets = append(targets, w.onPosition)
		}
	}
	d.mu.Unlock()

	for _, fn := range targets {
		fn(p)
	}
	return len(targets)
}

// Fail delivers a sensor failure to every active watcher.
func (d *DeviceSensor) Fail(f SensorFailure) int {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0
	}
	targets := make([]func(SensorFailure), 0, len(d.watchers))
	for _, w := range d.watchers {
		if w.onError != nil {
			targets = append(targets, w.onError)
		}
	}
	d.mu.Unlock()

	for _, fn := range targets {
		fn(f)
	}
	return len(targets)
}

// ActiveWatches returns the number of open subscriptions.
func (d *DeviceSensor) ActiveWatches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers)
}

// Close drops every watcher and rejects future Watch calls.
func (d *DeviceSensor) Close() {
	d.mu.Lock()
	d.closed = true
	d.watchers = make(map[WatchID]*deviceWatcher)
	d.last = nil
	d.lastCaptured = time.Time{}
	d.mu.Unlock()
}
