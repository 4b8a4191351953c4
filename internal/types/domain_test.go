package types

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"
)

func TestPositionSampleValid(t *testing.T) {
	tests := []struct {
		name string
		p    PositionSample
		want bool
	}{
		{"typical", PositionSample{Latitude: 36.75, Longitude: 3.06, AccuracyMeters: 12}, true},
		{"bounds inclusive", PositionSample{Latitude: -90, Longitude: 180, AccuracyMeters: 0}, true},
		{"lat too high", PositionSample{Latitude: 90.0001, Longitude: 0, AccuracyMeters: 5}, false},
		{"lon too low", PositionSample{Latitude: 0, Longitude: -180.1, AccuracyMeters: 5}, false},
		{"NaN lat", PositionSample{Latitude: math.NaN(), Longitude: 0, AccuracyMeters: 5}, false},
		{"Inf lon", PositionSample{Latitude: 0, Longitude: math.Inf(1), AccuracyMeters: 5}, false},
		{"negative accuracy", PositionSample{Latitude: 0, Longitude: 0, AccuracyMeters: -1}, false},
		{"NaN accuracy", PositionSample{Latitude: 0, Longitude: 0, AccuracyMeters: math.NaN()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionSampleBetterThanIsStrict(t *testing.T) {
	a := PositionSample{AccuracyMeters: 10}
	b := PositionSample{AccuracyMeters: 10}
	if a.BetterThan(b) {
		t.Error("equal accuracy must not count as better")
	}
	if !(PositionSample{AccuracyMeters: 9}).BetterThan(b) {
		t.Error("smaller accuracy should be better")
	}
}

func TestPositionSampleCoordinates(t *testing.T) {
	c := PositionSample{Latitude: 1, Longitude: 2, AccuracyMeters: 3, CapturedAt: time.Now()}.Coordinates()
	if c != (Coordinates{Latitude: 1, Longitude: 2, Accuracy: 3}) {
		t.Errorf("unexpected coordinates: %+v", c)
	}
}

func TestGeofenceContextCloneIsDeep(t *testing.T) {
	orig := &GeofenceContext{
		Offices:  []Office{{ID: "hq", RadiusMeters: 100}},
		Missions: []Mission{{OrderNumber: "M1", Status: MissionStatusAccepted, Site: &Site{Name: "Plant"}}},
		Fallback: FallbackDenyIfNoGPS,
	}
	clone := orig.Clone()
	clone.Offices[0].RadiusMeters = 1
	clone.Missions[0].Site.Name = "changed"
	clone.Stale = true

	if orig.Offices[0].RadiusMeters != 100 || orig.Missions[0].Site.Name != "Plant" || orig.Stale {
		t.Errorf("clone shares state with original: %+v", orig)
	}
	if (*GeofenceContext)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestGeofenceContextFindMission(t *testing.T) {
	g := &GeofenceContext{Missions: []Mission{{OrderNumber: "M1"}, {OrderNumber: "M2"}}}
	if m, ok := g.FindMission("M2"); !ok || m.OrderNumber != "M2" {
		t.Errorf("FindMission(M2) = %+v, %v", m, ok)
	}
	if _, ok := g.FindMission("m2"); ok {
		t.Error("order numbers are case-sensitive")
	}
	if _, ok := (*GeofenceContext)(nil).FindMission("M1"); ok {
		t.Error("nil context has no missions")
	}
}

func TestDecisionAllowed(t *testing.T) {
	for verdict, want := range map[Verdict]bool{
		VerdictAllow:         true,
		VerdictDeferToServer: true,
		VerdictDeny:          false,
	} {
		if got := (Decision{Verdict: verdict}).Allowed(); got != want {
			t.Errorf("%s: Allowed() = %v, want %v", verdict, got, want)
		}
	}
}

func TestParseFallbackPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want FallbackPolicy
		ok   bool
	}{
		{"AllowIfNoGPS", FallbackAllowIfNoGPS, true},
		{"allow_if_no_gps", FallbackAllowIfNoGPS, true},
		{"deny-if-no-gps", FallbackDenyIfNoGPS, true},
		{" RequireServerCheck ", FallbackRequireServerCheck, true},
		{"", "", false},
		{"allow", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseFallbackPolicy(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseFallbackPolicy(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMissionStatusAllowsCheckIn(t *testing.T) {
	allowed := []MissionStatus{"accepted", "active", "ACTIVE", " Accepted "}
	denied := []MissionStatus{MissionStatusPending, MissionStatusRejected, MissionStatusCompleted, MissionStatusCancelled, ""}
	for _, s := range allowed {
		if !s.AllowsCheckIn() {
			t.Errorf("%q should allow check-in", s)
		}
	}
	for _, s := range denied {
		if s.AllowsCheckIn() {
			t.Errorf("%q should not allow check-in", s)
		}
	}
}

func TestAttemptStateTerminal(t *testing.T) {
	for _, s := range []AttemptState{AttemptStateSuccess, AttemptStateRejected, AttemptStateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []AttemptState{AttemptStateIdle, AttemptStateSampling, AttemptStateDeciding, AttemptStateSubmitting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCheckInKindValid(t *testing.T) {
	if !CheckInKindOffice.Valid() || !CheckInKindMission.Valid() || CheckInKind("remote").Valid() {
		t.Error("CheckInKind.Valid misclassified")
	}
}

func TestSecretStringNeverLeaks(t *testing.T) {
	const raw = "Bearer eyJhbGciOi.secret"
	s := SecretString(raw)

	if got := fmt.Sprintf("%s %v", s, s); strings.Contains(got, raw) {
		t.Errorf("fmt leaked secret: %s", got)
	}
	b, err := json.Marshal(struct {
		Key SecretString `json:"key"`
	}{s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), raw) {
		t.Errorf("json leaked secret: %s", b)
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("call", "auth", s)
	if strings.Contains(buf.String(), raw) {
		t.Errorf("slog leaked secret: %s", buf.String())
	}
	if s.Unmask() != raw {
		t.Error("Unmask must return the raw value")
	}
	if SecretString("").String() != "" {
		t.Error("empty secret should print empty")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetCredentials(ctx); ok {
		t.Error("no credentials expected on a bare context")
	}
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTenantID(ctx, "acme")
	ctx = WithCredentials(ctx, "  Bearer abc  ")

	if GetRequestID(ctx) != "req-1" || GetTenantID(ctx) != "acme" {
		t.Error("request or tenant ID not stored")
	}
	creds, ok := GetCredentials(ctx)
	if !ok || creds.Unmask() != "Bearer abc" {
		t.Errorf("credentials = %q, %v", creds.Unmask(), ok)
	}
	if _, ok := GetCredentials(WithCredentials(context.Background(), "   ")); ok {
		t.Error("blank credentials should be treated as absent")
	}
}
