package checkin

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"attendance/internal/location"
	"attendance/internal/location/locationtest"
	"attendance/internal/types"
)

// --- Mock Fetcher ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchGeofencingContext(ctx context.Context) (*types.GeofenceContext, error) {
	args := m.Called(ctx)
	if g := args.Get(0); g != nil {
		return g.(*types.GeofenceContext), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestRegistry(clock types.Clock) (*Registry, *mockFetcher, *mockSubmitter) {
	fetcher := new(mockFetcher)
	submitter := new(mockSubmitter)
	r := NewRegistry(fetcher, submitter, nil, RegistryConfig{IdleTTL: time.Minute}, clock, quietLogger())
	return r, fetcher, submitter
}

func TestRegistry_OpenGetClose(t *testing.T) {
	r, _, _ := newTestRegistry(locationtest.NewClock(t0))

	s := r.Open(context.Background(), true)
	require.NotEmpty(t, s.ID)
	assert.True(t, s.Sensor.Supported())
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.Close(s.ID))
	assert.Equal(t, 0, r.Len())

	_, err = r.Get(s.ID)
	assert.Equal(t, types.ErrCodeNotFoundSession, types.CodeOf(err))
	assert.Equal(t, types.ErrCodeNotFoundSession, types.CodeOf(r.Close(s.ID)))
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r, _, _ := newTestRegistry(locationtest.NewClock(t0))

	a := r.Open(context.Background(), true)
	b := r.Open(context.Background(), false)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a.Sensor, b.Sensor)
	assert.NotSame(t, a.Orchestrator, b.Orchestrator)
	assert.False(t, b.Sensor.Supported())
	r.CloseAll()
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_EndToEndThroughDeviceSensor(t *testing.T) {
	clock := locationtest.NewClock(t0)
	r, fetcher, submitter := newTestRegistry(clock)
	fetcher.On("FetchGeofencingContext", mock.Anything).Return(gateContext(), nil)

	var seenCreds types.SecretString
	submitter.On("CheckInOffice", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			seenCreds, _ = types.GetCredentials(args.Get(0).(context.Context))
		}).
		Return(&types.CheckInReceipt{Message: "Welcome"}, nil).Once()

	s := r.Open(types.WithCredentials(context.Background(), "Bearer emp-token"), true)

	_, err := s.Start(context.Background(), types.CheckInKindOffice, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Sensor.ActiveWatches() == 1 }, time.Second, time.Millisecond)

	s.Sensor.Publish(atHQ)
	require.Eventually(t, func() bool {
		return s.Orchestrator.Snapshot().State == types.AttemptStateSuccess
	}, time.Second, time.Millisecond)

	assert.Equal(t, "Bearer emp-token", seenCreds.Unmask())
	assert.Equal(t, 0, s.Sensor.ActiveWatches())
	r.CloseAll()
}

func TestRegistry_SweepClosesIdleSessions(t *testing.T) {
	clock := locationtest.NewClock(t0)
	r, _, _ := newTestRegistry(clock)

	idle := r.Open(context.Background(), true)
	clock.Advance(45 * time.Second)
	active := r.Open(context.Background(), true)

	clock.Advance(30 * time.Second)
	_, err := r.Get(active.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Sweep())
	_, err = r.Get(idle.ID)
	assert.Error(t, err)
	_, err = r.Get(active.ID)
	assert.NoError(t, err)

	_, err = idle.Sensor.Watch(nil, nil, location.WatchOptions{})
	assert.Error(t, err, "swept session releases its sensor")
}

func TestRegistry_SweepKeepsBusySessions(t *testing.T) {
	clock := locationtest.NewClock(t0)
	r, _, _ := newTestRegistry(clock)

	s := r.Open(context.Background(), true)
	_, err := s.Start(context.Background(), types.CheckInKindOffice, "")
	require.NoError(t, err)
	require.Eventually(t, s.Orchestrator.Busy, time.Second, time.Millisecond)

	// The sampler deadline (15 s by default) is still ahead.
	r.cfg.IdleTTL = time.Second
	clock.Advance(2 * time.Second)
	assert.Equal(t, 0, r.Sweep())
	assert.Equal(t, 1, r.Len())

	r.CloseAll()
}

func TestSession_GeofenceContextUsesOpeningCredentials(t *testing.T) {
	r, fetcher, _ := newTestRegistry(locationtest.NewClock(t0))
	gctx := &types.GeofenceContext{Fallback: types.FallbackDenyIfNoGPS}
	fetcher.On("FetchGeofencingContext", mock.MatchedBy(func(ctx context.Context) bool {
		creds, ok := types.GetCredentials(ctx)
		return ok && creds.Unmask() == "Bearer opener"
	})).Return(gctx, nil).Once()

	s := r.Open(types.WithCredentials(context.Background(), "Bearer opener"), true)
	t.Cleanup(func() { _ = r.Close(s.ID) })

	got, err := s.GeofenceContext(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, types.FallbackDenyIfNoGPS, got.Fallback)
	fetcher.AssertExpectations(t)
}

func TestRegistry_OpenAttributesEmployee(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := NewRegistry(new(mockFetcher), new(mockSubmitter), nil, RegistryConfig{IdleTTL: time.Minute}, locationtest.NewClock(t0), logger)
	t.Cleanup(r.CloseAll)

	ctx := types.WithEmployeeID(context.Background(), "E-1042")
	s := r.Open(ctx, true)

	assert.Contains(t, buf.String(), "employee_id=E-1042")
	assert.Contains(t, buf.String(), "session_id="+s.ID)
}
