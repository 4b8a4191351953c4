package types

import "strings"

// CheckInKind distinguishes the two check-in flows.
type CheckInKind string

const (
	CheckInKindOffice  CheckInKind = "office"
	CheckInKindMission CheckInKind = "mission"
)

// Valid reports whether k is a known check-in kind.
func (k CheckInKind) Valid() bool {
	return k == CheckInKindOffice || k == CheckInKindMission
}

// FallbackPolicy tells the gate what to do with an office check-in that has
// no usable position.
type FallbackPolicy string

const (
	FallbackAllowIfNoGPS       FallbackPolicy = "allow_if_no_gps"
	FallbackDenyIfNoGPS        FallbackPolicy = "deny_if_no_gps"
	FallbackRequireServerCheck FallbackPolicy = "require_server_check"
)

// Valid reports whether p is a known policy.
func (p FallbackPolicy) Valid() bool {
	switch p {
	case FallbackAllowIfNoGPS, FallbackDenyIfNoGPS, FallbackRequireServerCheck:
		return true
	default:
		return false
	}
}

// ParseFallbackPolicy normalizes server and config spellings ("AllowIfNoGPS",
// "allow-if-no-gps", "allow_if_no_gps") into a FallbackPolicy.
// ok is false for unrecognized input.
func ParseFallbackPolicy(s string) (FallbackPolicy, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "allowifnogps":
		return FallbackAllowIfNoGPS, true
	case "denyifnogps":
		return FallbackDenyIfNoGPS, true
	case "requireservercheck":
		return FallbackRequireServerCheck, true
	default:
		return "", false
	}
}

// MissionStatus is the server-side lifecycle status of a mission order.
type MissionStatus string

const (
	MissionStatusPending   MissionStatus = "pending"
	MissionStatusAccepted  MissionStatus = "accepted"
	MissionStatusActive    MissionStatus = "active"
	MissionStatusRejected  MissionStatus = "rejected"
	MissionStatusCompleted MissionStatus = "completed"
	MissionStatusCancelled MissionStatus = "cancelled"
)

// AllowsCheckIn reports whether a mission in this status accepts check-ins.
// The server uses "accepted" and "active" interchangeably for the same state.
func (s MissionStatus) AllowsCheckIn() bool {
	switch MissionStatus(strings.ToLower(strings.TrimSpace(string(s)))) {
	case MissionStatusAccepted, MissionStatusActive:
		return true
	default:
		return false
	}
}

// Verdict is the gate's three-way answer.
type Verdict string

const (
	VerdictAllow         Verdict = "allow"
	VerdictDeny          Verdict = "deny"
	VerdictDeferToServer Verdict = "defer_to_server"
)

// GateReason explains a Deny verdict. Gate rejections are always
// user-correctable before a retry.
type GateReason string

const (
	GateReasonMissionNotFound  GateReason = "mission_not_found"
	GateReasonMissionNotActive GateReason = "mission_not_active"
	GateReasonTooFar           GateReason = "too_far"
	GateReasonNoLocation       GateReason = "no_location"
)

// AttemptState is the UI-visible state of a check-in attempt.
type AttemptState string

const (
	AttemptStateIdle       AttemptState = "idle"
	AttemptStateSampling   AttemptState = "sampling"
	AttemptStateDeciding   AttemptState = "deciding"
	AttemptStateSubmitting AttemptState = "submitting"
	AttemptStateSuccess    AttemptState = "success"
	AttemptStateRejected   AttemptState = "rejected"
	AttemptStateFailed     AttemptState = "failed"
)

// Terminal reports whether no further transition happens without a new Start.
func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptStateSuccess, AttemptStateRejected, AttemptStateFailed:
		return true
	default:
		return false
	}
}

// OutcomeKind classifies how an attempt ended.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeRejectedBySensor OutcomeKind = "rejected_by_sensor"
	OutcomeRejectedByGate   OutcomeKind = "rejected_by_gate"
	OutcomeRejectedByServer OutcomeKind = "rejected_by_server"
	OutcomeNetworkError     OutcomeKind = "network_error"
)

// Outcome reasons that are not gate reasons.
const (
	ReasonMissionOrderRequired = "mission_order_required"
	ReasonAlreadyCheckedIn     = "already_checked_in"
	ReasonInvalidCoordinates   = "invalid_coordinates"
	ReasonMissionUnknown       = "mission_unknown"
	ReasonForbiddenDistance    = "forbidden_distance"
	ReasonUnauthorized         = "unauthorized"
	ReasonServerRejected       = "server_rejected"
	ReasonNetworkError         = "network_error"
)
