package types

import (
	"math"
	"time"
)

// PositionSample is a single fix reported by the device location sensor.
type PositionSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Valid reports whether the sample has finite, in-range coordinates and a
// finite, non-negative accuracy. Invalid samples must never be surfaced.
func (p PositionSample) Valid() bool {
	return ValidateSample(p) == nil
}

// BetterThan reports whether p is strictly more accurate than other.
func (p PositionSample) BetterThan(other PositionSample) bool {
	return p.AccuracyMeters < other.AccuracyMeters
}

// Coordinates returns the submission payload form of the sample.
func (p PositionSample) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.AccuracyMeters,
	}
}

// Coordinates is the wire shape the attendance API expects.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// AcquisitionResult is the terminal sample of one acquisition. MetAccuracy is
// false when the sample is a best effort returned at the deadline.
type AcquisitionResult struct {
	Sample      PositionSample `json:"sample"`
	MetAccuracy bool           `json:"met_accuracy"`
}

// Office is a geofenced workplace.
type Office struct {
	ID           string  `json:"id"`
	Name         string  `json:"name,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Site is the optional location attached to a mission.
type Site struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Mission is an order for off-site work the employee may check in against.
type Mission struct {
	OrderNumber string        `json:"order_number"`
	Status      MissionStatus `json:"status"`
	Site        *Site         `json:"site,omitempty"`
}

// GeofenceContext is the server-supplied data the gate validates against.
// Stale is set when the cache served a last-known-good copy because the
// latest fetch failed.
type GeofenceContext struct {
	Offices   []Office       `json:"offices"`
	Missions  []Mission      `json:"missions"`
	Fallback  FallbackPolicy `json:"fallback"`
	FetchedAt time.Time      `json:"fetched_at"`
	Stale     bool           `json:"stale"`
}

// Clone returns a deep copy so callers can flag or mutate it freely.
func (g *GeofenceContext) Clone() *GeofenceContext {
	if g == nil {
		return nil
	}
	out := *g
	out.Offices = append([]Office(nil), g.Offices...)
	out.Missions = make([]Mission, len(g.Missions))
	for i, m := range g.Missions {
		out.Missions[i] = m
		if m.Site != nil {
			site := *m.Site
			out.Missions[i].Site = &site
		}
	}
	return &out
}

// FindMission returns the mission with the given order number.
func (g *GeofenceContext) FindMission(orderNumber string) (Mission, bool) {
	if g == nil {
		return Mission{}, false
	}
	for _, m := range g.Missions {
		if m.OrderNumber == orderNumber {
			return m, true
		}
	}
	return Mission{}, false
}

// Decision is the output of the check-in gate.
type Decision struct {
	Verdict        Verdict    `json:"verdict"`
	Reason         GateReason `json:"reason,omitempty"`
	OfficeID       string     `json:"office_id,omitempty"`
	DistanceMeters *float64   `json:"distance_meters,omitempty"`
}

// Allowed reports whether the attempt may be submitted.
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllow || d.Verdict == VerdictDeferToServer
}

// CheckInRequest is what the orchestrator submits to the attendance API.
type CheckInRequest struct {
	Kind        CheckInKind
	Target      string
	Coordinates *Coordinates
}

// CheckInReceipt carries the server-computed fields of a successful check-in.
type CheckInReceipt struct {
	Message      string `json:"message,omitempty"`
	Status       string `json:"status,omitempty"`
	DelayMinutes *int   `json:"delay_minutes,omitempty"`
}

// Outcome is the terminal result of an attempt.
type Outcome struct {
	Kind      OutcomeKind     `json:"kind"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	Retryable bool            `json:"retryable"`
	Receipt   *CheckInReceipt `json:"receipt,omitempty"`
}

// CheckInAttempt is the snapshot of one user-initiated attempt.
type CheckInAttempt struct {
	ID          uint64          `json:"attempt_id"`
	Kind        CheckInKind     `json:"kind"`
	Target      string          `json:"target,omitempty"`
	State       AttemptState    `json:"state"`
	Sample      *PositionSample `json:"sample,omitempty"`
	Decision    *Decision       `json:"decision,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	Outcome     *Outcome        `json:"outcome,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// isFinite reports whether f is neither NaN nor ±Inf.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
