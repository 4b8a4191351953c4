// Package location turns a continuous, noisy device position stream into a
// single best fix under a deadline.
//
// A Sensor delivers fixes and failures through callbacks, mirroring the
// browser geolocation watch API. PositionSampler subscribes once per
// acquisition, keeps the most accurate valid fix, and resolves as soon as the
// desired accuracy is met or the deadline passes. DeviceSensor is the Sensor
// implementation fed by the check-in agent's device bridge endpoints.
package location

import (
	"time"

	"attendance/internal/types"
)

// WatchID identifies one sensor subscription.
type WatchID uint64

// FailureCode is the reason a sensor reports when it cannot produce a fix.
type FailureCode string

const (
	FailurePermissionDenied    FailureCode = "permission_denied"
	FailurePositionUnavailable FailureCode = "position_unavailable"
	FailureTimeout             FailureCode = "timeout"
)

// ParseFailureCode accepts both the symbolic names and the numeric codes of
// the W3C GeolocationPositionError (1, 2, 3).
func ParseFailureCode(s string) (FailureCode, bool) {
	switch s {
	case string(FailurePermissionDenied), "1", "PERMISSION_DENIED":
		return FailurePermissionDenied, true
	case string(FailurePositionUnavailable), "2", "POSITION_UNAVAILABLE":
		return FailurePositionUnavailable, true
	case string(FailureTimeout), "3", "TIMEOUT":
		return FailureTimeout, true
	default:
		return "", false
	}
}

// SensorFailure is delivered to a watcher's error callback.
type SensorFailure struct {
	Code    FailureCode
	Message string
}

// WatchOptions mirror the PositionOptions of the geolocation API.
type WatchOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	// MaximumAge bounds how old a cached fix may be. Zero means fresh fixes only.
	MaximumAge time.Duration
}

// Sensor is a source of device positions.
//
// Callbacks may be invoked from any goroutine, including synchronously from
// inside Watch, and a callback already in flight may still land after
// ClearWatch returns. Consumers must treat late callbacks as no-ops.
type Sensor interface {
	// Supported reports whether the device can produce positions at all.
	Supported() bool
	Watch(onPosition func(types.PositionSample), onError func(SensorFailure), opts WatchOptions) (WatchID, error)
	ClearWatch(id WatchID)
}
