package types

import "time"

// Timer is a pending callback scheduled by a Clock.
type Timer interface {
	// Stop prevents the callback from firing. It reports false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
	// AfterFunc calls fn in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// AfterFunc delegates to time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
