package checkin

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/types"
)

// hq sits in central Algiers with a 100 m radius; annex is ~1.1 km east.
func gateContext() *types.GeofenceContext {
	return &types.GeofenceContext{
		Offices: []types.Office{
			{ID: "hq", Latitude: 36.7538, Longitude: 3.0588, RadiusMeters: 100},
			{ID: "annex", Latitude: 36.7538, Longitude: 3.0712, RadiusMeters: 150},
		},
		Missions: []types.Mission{
			{OrderNumber: "M1", Status: types.MissionStatusAccepted},
			{OrderNumber: "M2", Status: types.MissionStatusPending},
			{OrderNumber: "M3", Status: "ACTIVE"},
			{OrderNumber: "M4", Status: types.MissionStatusCompleted},
		},
		Fallback: types.FallbackDenyIfNoGPS,
	}
}

func at(lat, lon float64) *types.PositionSample {
	return &types.PositionSample{Latitude: lat, Longitude: lon, AccuracyMeters: 10}
}

func TestEvaluate_Mission(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		sample  *types.PositionSample
		verdict types.Verdict
		reason  types.GateReason
	}{
		{"accepted", "M1", nil, types.VerdictAllow, ""},
		{"accepted with far sample", "M1", at(0, 0), types.VerdictAllow, ""},
		{"active in upper case", "M3", nil, types.VerdictAllow, ""},
		{"pending", "M2", at(36.7538, 3.0588), types.VerdictDeny, types.GateReasonMissionNotActive},
		{"completed", "M4", nil, types.VerdictDeny, types.GateReasonMissionNotActive},
		{"unknown order", "M9", nil, types.VerdictDeny, types.GateReasonMissionNotFound},
		{"padded order", "  M1 ", nil, types.VerdictAllow, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(types.CheckInKindMission, tt.target, tt.sample, gateContext())
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEvaluate_OfficeDistance(t *testing.T) {
	t.Run("inside radius", func(t *testing.T) {
		d := Evaluate(types.CheckInKindOffice, "", at(36.7540, 3.0590), gateContext())
		assert.Equal(t, types.VerdictAllow, d.Verdict)
		assert.Equal(t, "hq", d.OfficeID)
		require.NotNil(t, d.DistanceMeters)
		assert.Less(t, *d.DistanceMeters, 100.0)
	})

	t.Run("inside second office", func(t *testing.T) {
		d := Evaluate(types.CheckInKindOffice, "", at(36.7538, 3.0712), gateContext())
		assert.Equal(t, types.VerdictAllow, d.Verdict)
		assert.Equal(t, "annex", d.OfficeID)
	})

	t.Run("outside all radii with fresh context", func(t *testing.T) {
		d := Evaluate(types.CheckInKindOffice, "", at(36.7700, 3.0588), gateContext())
		assert.Equal(t, types.VerdictDeny, d.Verdict)
		assert.Equal(t, types.GateReasonTooFar, d.Reason)
		assert.Equal(t, "hq", d.OfficeID)
		require.NotNil(t, d.DistanceMeters)
		assert.Greater(t, *d.DistanceMeters, 1000.0)
	})

	t.Run("outside all radii with stale context", func(t *testing.T) {
		gctx := gateContext()
		gctx.Stale = true
		d := Evaluate(types.CheckInKindOffice, "", at(36.7700, 3.0588), gctx)
		assert.Equal(t, types.VerdictDeferToServer, d.Verdict)
		assert.Empty(t, d.Reason)
	})

	t.Run("inside radius with stale context still allows", func(t *testing.T) {
		gctx := gateContext()
		gctx.Stale = true
		d := Evaluate(types.CheckInKindOffice, "", at(36.7538, 3.0588), gctx)
		assert.Equal(t, types.VerdictAllow, d.Verdict)
	})

	t.Run("overlapping radii allow", func(t *testing.T) {
		gctx := gateContext()
		gctx.Offices = append(gctx.Offices, types.Office{ID: "campus", Latitude: 36.7538, Longitude: 3.0650, RadiusMeters: 2000})
		d := Evaluate(types.CheckInKindOffice, "", at(36.7538, 3.0590), gctx)
		assert.Equal(t, types.VerdictAllow, d.Verdict)
		assert.Equal(t, "hq", d.OfficeID)
	})

	t.Run("no offices defers", func(t *testing.T) {
		gctx := gateContext()
		gctx.Offices = nil
		d := Evaluate(types.CheckInKindOffice, "", at(36.7538, 3.0588), gctx)
		assert.Equal(t, types.VerdictDeferToServer, d.Verdict)
	})
}

func TestEvaluate_OfficeFallback(t *testing.T) {
	tests := []struct {
		policy  types.FallbackPolicy
		verdict types.Verdict
		reason  types.GateReason
	}{
		{types.FallbackAllowIfNoGPS, types.VerdictDeferToServer, ""},
		{types.FallbackDenyIfNoGPS, types.VerdictDeny, types.GateReasonNoLocation},
		{types.FallbackRequireServerCheck, types.VerdictDeferToServer, ""},
		{"", types.VerdictDeny, types.GateReasonNoLocation},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			gctx := gateContext()
			gctx.Fallback = tt.policy

			d := Evaluate(types.CheckInKindOffice, "", nil, gctx)
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Equal(t, tt.reason, d.Reason)

			invalid := &types.PositionSample{Latitude: math.NaN(), Longitude: 3, AccuracyMeters: 5}
			assert.Equal(t, d, Evaluate(types.CheckInKindOffice, "", invalid, gctx), "invalid sample counts as none")
		})
	}
}

func TestEvaluate_NilContextDefers(t *testing.T) {
	assert.Equal(t, types.VerdictDeferToServer, Evaluate(types.CheckInKindOffice, "", at(0, 0), nil).Verdict)
	assert.Equal(t, types.VerdictDeferToServer, Evaluate(types.CheckInKindMission, "M1", nil, nil).Verdict)
}

func TestEvaluate_Deterministic(t *testing.T) {
	gctx := gateContext()
	inputs := []struct {
		kind   types.CheckInKind
		target string
		sample *types.PositionSample
	}{
		{types.CheckInKindOffice, "", at(36.7540, 3.0590)},
		{types.CheckInKindOffice, "", at(36.80, 3.10)},
		{types.CheckInKindOffice, "", nil},
		{types.CheckInKindMission, "M1", nil},
		{types.CheckInKindMission, "M2", at(1, 1)},
	}
	for _, in := range inputs {
		first := Evaluate(in.kind, in.target, in.sample, gctx)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Evaluate(in.kind, in.target, in.sample, gctx))
		}
	}
	assert.Equal(t, gateContext(), gctx, "the context is not mutated")
}
