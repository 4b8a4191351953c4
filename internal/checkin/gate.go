// Package checkin decides whether a check-in attempt may be submitted and
// drives each attempt from sampling to a terminal outcome.
package checkin

import (
	"strings"

	"attendance/internal/geofence"
	"attendance/internal/types"
)

// Evaluate is the check-in gate. It is pure: the same inputs always yield the
// same Decision, and it performs no I/O.
//
// Mission attempts are judged on the mission's status alone; a sample is
// metadata. Office attempts need a valid sample inside an office radius.
// A stale context never produces a distance-based Deny, the server decides
// instead. A nil context defers every attempt to the server.
func Evaluate(kind types.CheckInKind, target string, sample *types.PositionSample, gctx *types.GeofenceContext) types.Decision {
	if gctx == nil {
		return types.Decision{Verdict: types.VerdictDeferToServer}
	}
	switch kind {
	case types.CheckInKindMission:
		return evaluateMission(strings.TrimSpace(target), gctx)
	case types.CheckInKindOffice:
		return evaluateOffice(sample, gctx)
	default:
		return types.Decision{Verdict: types.VerdictDeferToServer}
	}
}

func evaluateMission(orderNumber string, gctx *types.GeofenceContext) types.Decision {
	m, ok := gctx.FindMission(orderNumber)
	if !ok {
		return deny(types.GateReasonMissionNotFound)
	}
	if !m.Status.AllowsCheckIn() {
		return deny(types.GateReasonMissionNotActive)
	}
	return types.Decision{Verdict: types.VerdictAllow}
}

func evaluateOffice(sample *types.PositionSample, gctx *types.GeofenceContext) types.Decision {
	if sample == nil || !sample.Valid() {
		return applyFallback(gctx.Fallback)
	}

	match, ok := geofence.NearestOffice(sample.Latitude, sample.Longitude, gctx.Offices)
	if !ok {
		// Nothing to compare against locally.
		return types.Decision{Verdict: types.VerdictDeferToServer}
	}
	dist := match.DistanceMeters

	switch {
	case match.Inside:
		return types.Decision{Verdict: types.VerdictAllow, OfficeID: match.Office.ID, DistanceMeters: &dist}
	case gctx.Stale:
		return types.Decision{Verdict: types.VerdictDeferToServer, OfficeID: match.Office.ID, DistanceMeters: &dist}
	default:
		return types.Decision{
			Verdict:        types.VerdictDeny,
			Reason:         types.GateReasonTooFar,
			OfficeID:       match.Office.ID,
			DistanceMeters: &dist,
		}
	}
}

// applyFallback resolves an office attempt that has no usable position.
// An unknown policy is treated as deny_if_no_gps.
func applyFallback(p types.FallbackPolicy) types.Decision {
	switch p {
	case types.FallbackAllowIfNoGPS, types.FallbackRequireServerCheck:
		return types.Decision{Verdict: types.VerdictDeferToServer}
	default:
		return deny(types.GateReasonNoLocation)
	}
}

func deny(reason types.GateReason) types.Decision {
	return types.Decision{Verdict: types.VerdictDeny, Reason: reason}
}
