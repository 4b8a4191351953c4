package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/types"
)

func newTestAttendanceClient(t *testing.T, handler http.HandlerFunc) *AttendanceClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAttendanceClient(
		&http.Client{Timeout: 5 * time.Second},
		AttendanceClientConfig{BaseURL: server.URL + "/", APIKey: "svc-key", MaxRetries: 1},
		WithSleepFunc(noopSleep),
	)
}

func employeeCtx() context.Context {
	return types.WithCredentials(context.Background(), "Bearer employee-jwt")
}

func TestFetchGeofencingContext_Decodes(t *testing.T) {
	var gotAuth, gotKey, gotPath, gotMethod string
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-Api-Key")
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"offices": [
				{"id": 7, "name": "HQ", "latitude": 36.75, "longitude": 3.06, "radius_meters": 120},
				{"id": "annex", "latitude": 36.76, "longitude": 3.07, "radius": 80},
				{"id": "broken", "latitude": 120, "longitude": 3.07, "radius": 80},
				{"id": "no-radius", "latitude": 36.7, "longitude": 3.0}
			],
			"missions": [
				{"order_number": "M1", "status": "Accepted", "site": {"name": "Plant", "latitude": 35.7, "longitude": -0.6}},
				{"mission_order_number": 42, "statut": "pending"},
				{"status": "active"}
			],
			"fallback": "AllowIfNoGPS"
		}`)
	})

	gctx, err := client.FetchGeofencingContext(employeeCtx())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "/attendance/geofencing-context", gotPath)
	assert.Equal(t, "Bearer employee-jwt", gotAuth)
	assert.Equal(t, "svc-key", gotKey)

	require.Len(t, gctx.Offices, 2)
	assert.Equal(t, "7", gctx.Offices[0].ID)
	assert.Equal(t, 120.0, gctx.Offices[0].RadiusMeters)
	assert.Equal(t, "annex", gctx.Offices[1].ID)
	assert.Equal(t, 80.0, gctx.Offices[1].RadiusMeters)

	require.Len(t, gctx.Missions, 2)
	assert.Equal(t, "M1", gctx.Missions[0].OrderNumber)
	assert.Equal(t, types.MissionStatusAccepted, gctx.Missions[0].Status)
	require.NotNil(t, gctx.Missions[0].Site)
	assert.Equal(t, "Plant", gctx.Missions[0].Site.Name)
	assert.Equal(t, "42", gctx.Missions[1].OrderNumber)
	assert.Equal(t, types.MissionStatusPending, gctx.Missions[1].Status)

	assert.Equal(t, types.FallbackAllowIfNoGPS, gctx.Fallback)
}

func TestFetchGeofencingContext_UnknownFallbackLeftEmpty(t *testing.T) {
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"offices": [], "missions": [], "fallback": "whatever"}`)
	})

	gctx, err := client.FetchGeofencingContext(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gctx.Fallback)
}

func TestFetchGeofencingContext_Errors(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"offices": [`)
		})
		_, err := client.FetchGeofencingContext(context.Background())
		assert.Equal(t, types.ErrCodeUpstreamDecode, types.CodeOf(err))
	})

	t.Run("unauthorized", func(t *testing.T) {
		client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"message": "Token expired"}`)
		})
		_, err := client.FetchGeofencingContext(context.Background())
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeServerUnauthorized, appErr.Code)
		assert.Equal(t, "Token expired", appErr.Message)
	})

	t.Run("reads are retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			io.WriteString(w, `{"offices": [], "missions": []}`)
		})
		_, err := client.FetchGeofencingContext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestCheckInMission_SendsPayloadAndDecodesReceipt(t *testing.T) {
	var body map[string]any
	var gotPath, gotContentType string
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"message": "Pointage enregistré", "pointage": {"statut": "retard", "delay_minutes": 12}}`)
	})

	coords := &types.Coordinates{Latitude: 36.75, Longitude: 3.06, Accuracy: 9}
	receipt, err := client.CheckInMission(employeeCtx(), "M1", coords)
	require.NoError(t, err)

	assert.Equal(t, "/attendance/checkin/mission", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "M1", body["mission_order_number"])
	assert.Equal(t, map[string]any{"latitude": 36.75, "longitude": 3.06, "accuracy": 9.0}, body["coordinates"])

	assert.Equal(t, "Pointage enregistré", receipt.Message)
	assert.Equal(t, "retard", receipt.Status)
	require.NotNil(t, receipt.DelayMinutes)
	assert.Equal(t, 12, *receipt.DelayMinutes)
}

func TestCheckInMission_OmitsMissingCoordinates(t *testing.T) {
	var raw []byte
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	receipt, err := client.CheckInMission(context.Background(), "M7", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mission_order_number": "M7"}`, string(raw))
	assert.Nil(t, receipt.DelayMinutes)
}

func TestCheckInOffice_SendsCoordinates(t *testing.T) {
	var raw []byte
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attendance/checkin/office", r.URL.Path)
		raw, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"message": "ok", "pointage": {"statut": "present", "delay_minutes": "0"}}`)
	})

	receipt, err := client.CheckInOffice(context.Background(), &types.Coordinates{Latitude: 1, Longitude: 2, Accuracy: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"coordinates": {"latitude": 1, "longitude": 2, "accuracy": 3}}`, string(raw))
	require.NotNil(t, receipt.DelayMinutes)
	assert.Equal(t, 0, *receipt.DelayMinutes)
}

func TestCheckIn_UndecodableSuccessBodyStillSucceeds(t *testing.T) {
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>ok</html>`)
	})
	receipt, err := client.CheckInOffice(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, receipt)
}

func TestCheckIn_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		kind    types.CheckInKind
		status  int
		body    string
		code    types.ErrorCode
		message string
	}{
		{"409 duplicate", types.CheckInKindOffice, http.StatusConflict, `{"message": "Déjà pointé"}`, types.ErrCodeServerDuplicateCheckIn, "Déjà pointé"},
		{"403 distance", types.CheckInKindOffice, http.StatusForbidden, `{"error": "Vous êtes à 2.3 km du bureau"}`, types.ErrCodeServerForbiddenDistance, "Vous êtes à 2.3 km du bureau"},
		{"400 coordinates", types.CheckInKindOffice, http.StatusBadRequest, `{"detail": "bad lat"}`, types.ErrCodeServerInvalidCoordinates, "bad lat"},
		{"404 mission", types.CheckInKindMission, http.StatusNotFound, `{"error": {"message": "unknown order"}}`, types.ErrCodeServerMissionUnknown, "unknown order"},
		{"404 office", types.CheckInKindOffice, http.StatusNotFound, ``, types.ErrCodeServerRejected, "attendance API returned 404"},
		{"401", types.CheckInKindMission, http.StatusUnauthorized, `{}`, types.ErrCodeServerUnauthorized, "attendance API returned 401"},
		{"422", types.CheckInKindMission, http.StatusUnprocessableEntity, `{"message": "Mission closed"}`, types.ErrCodeServerRejected, "Mission closed"},
		{"500", types.CheckInKindOffice, http.StatusInternalServerError, ``, types.ErrCodeUpstreamUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			var err error
			if tt.kind == types.CheckInKindMission {
				_, err = client.CheckInMission(context.Background(), "M1", nil)
			} else {
				_, err = client.CheckInOffice(context.Background(), nil)
			}

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, appErr.Message)
			}
			assert.Equal(t, int32(1), calls.Load(), "submissions are never retried")
		})
	}
}

func TestCheckIn_ForwardsTenant(t *testing.T) {
	var tenant string
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		tenant = r.Header.Get("X-Tenant-Id")
		w.WriteHeader(http.StatusOK)
	})

	ctx := types.WithTenantID(employeeCtx(), "acme")
	_, err := client.CheckInOffice(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant)
}

func TestAttendanceClient_HealthProbeFollowsBreaker(t *testing.T) {
	client := newTestAttendanceClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	assert.Equal(t, "attendance_api", client.Name())
	require.NoError(t, client.Check(context.Background()))

	for i := 0; i < 20 && client.Check(context.Background()) == nil; i++ {
		_, err := client.CheckInOffice(employeeCtx(), nil)
		require.Error(t, err)
	}
	assert.EqualError(t, client.Check(context.Background()), "circuit breaker open")
}
