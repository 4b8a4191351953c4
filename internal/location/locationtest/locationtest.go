// Package locationtest provides a scripted Sensor and a manual Clock for
// tests of code built on the location package.
package locationtest

import (
	"sort"
	"sync"
	"time"

	"attendance/internal/location"
	"attendance/internal/types"
)

// Sensor is a location.Sensor driven by the test. It records every Watch and
// ClearWatch call.
type Sensor struct {
	mu          sync.Mutex
	unsupported bool
	watchErr    error
	nextID      location.WatchID
	active      map[location.WatchID]watcher
	issued      map[location.WatchID]watcher
	watches     []location.WatchOptions
	cleared     []location.WatchID
	onWatch     func(id location.WatchID)
}

type watcher struct {
	onPosition func(types.PositionSample)
	onError    func(location.SensorFailure)
}

var _ location.Sensor = (*Sensor)(nil)

// NewSensor returns a supported sensor with no watchers.
func NewSensor() *Sensor {
	return &Sensor{
		active: make(map[location.WatchID]watcher),
		issued: make(map[location.WatchID]watcher),
	}
}

// SetUnsupported makes Supported report false.
func (s *Sensor) SetUnsupported() {
	s.mu.Lock()
	s.unsupported = true
	s.mu.Unlock()
}

// FailWatch makes the next Watch calls return err.
func (s *Sensor) FailWatch(err error) {
	s.mu.Lock()
	s.watchErr = err
	s.mu.Unlock()
}

// OnWatch registers a hook invoked synchronously inside Watch, after the
// watcher is registered. It lets tests emit callbacks before Watch returns.
func (s *Sensor) OnWatch(fn func(id location.WatchID)) {
	s.mu.Lock()
	s.onWatch = fn
	s.mu.Unlock()
}

// Supported implements location.Sensor.
func (s *Sensor) Supported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unsupported
}

// Watch implements location.Sensor.
func (s *Sensor) Watch(onPosition func(types.PositionSample), onError func(location.SensorFailure), opts location.WatchOptions) (location.WatchID, error) {
	s.mu.Lock()
	if s.watchErr != nil {
		err := s.watchErr
		s.mu.Unlock()
		return 0, err
	}
	s.nextID++
	id := s.nextID
	s.active[id] = watcher{onPosition: onPosition, onError: onError}
	s.issued[id] = s.active[id]
	s.watches = append(s.watches, opts)
	hook := s.onWatch
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return id, nil
}

// ClearWatch implements location.Sensor.
func (s *Sensor) ClearWatch(id location.WatchID) {
	s.mu.Lock()
	delete(s.active, id)
	s.cleared = append(s.cleared, id)
	s.mu.Unlock()
}

// Emit delivers a fix to every active watcher.
func (s *Sensor) Emit(p types.PositionSample) {
	for _, w := range s.snapshot() {
		if w.onPosition != nil {
			w.onPosition(p)
		}
	}
}

// Fail delivers a failure to every active watcher.
func (s *Sensor) Fail(code location.FailureCode) {
	for _, w := range s.snapshot() {
		if w.onError != nil {
			w.onError(location.SensorFailure{Code: code})
		}
	}
}

// PositionCallback returns the onPosition callback registered under id, even
// after it was cleared. ok is false if id was never issued.
func (s *Sensor) PositionCallback(id location.WatchID) (func(types.PositionSample), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.issued[id]
	return w.onPosition, ok
}

func (s *Sensor) snapshot() []watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]location.WatchID, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]watcher, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.active[id])
	}
	return out
}

// WatchCount returns how many Watch calls succeeded.
func (s *Sensor) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Watches returns the options of every successful Watch call.
func (s *Sensor) Watches() []location.WatchOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]location.WatchOptions(nil), s.watches...)
}

// Cleared returns every ClearWatch argument in call order.
func (s *Sensor) Cleared() []location.WatchID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]location.WatchID(nil), s.cleared...)
}

// ActiveCount returns the number of watchers not yet cleared.
func (s *Sensor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Clock is a types.Clock whose time only moves when Advance is called.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

type timer struct {
	clock   *Clock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

var _ types.Clock = (*Clock)(nil)

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements types.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements types.Clock. fn runs synchronously inside the
// Advance call that reaches its deadline.
func (c *Clock) AfterFunc(d time.Duration, fn func()) types.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d and fires every due timer in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*timer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of timers that are neither stopped nor fired.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Stop implements types.Timer.
func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
