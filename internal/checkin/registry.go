package checkin

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"attendance/internal/geofence"
	"attendance/internal/location"
	"attendance/internal/types"
)

// DefaultIdleTTL is how long an untouched session survives.
const DefaultIdleTTL = 30 * time.Minute

// RegistryConfig tunes the sessions a Registry creates.
type RegistryConfig struct {
	Sampling location.Options
	Cache    geofence.CacheConfig
	IdleTTL  time.Duration
}

// Session is one employee's check-in screen: a device sensor fed by the
// page, its own context cache and its own orchestrator. Sessions share
// nothing, so two open tabs never interfere.
type Session struct {
	ID           string
	Sensor       *location.DeviceSensor
	Contexts     *geofence.Cache
	Orchestrator *Orchestrator
	CreatedAt    time.Time

	credentials types.SecretString
	lastSeen    atomic.Int64
}

// Start begins an attempt. Credentials captured when the session was opened
// are used unless ctx carries fresher ones.
func (s *Session) Start(ctx context.Context, kind types.CheckInKind, target string) (uint64, error) {
	return s.Orchestrator.Start(s.authorize(ctx), kind, target)
}

// GeofenceContext returns the session's cached geofencing context, fetching
// it on the employee's behalf when needed.
func (s *Session) GeofenceContext(ctx context.Context, forceRefresh bool) (*types.GeofenceContext, error) {
	return s.Contexts.GetContext(s.authorize(ctx), forceRefresh)
}

func (s *Session) authorize(ctx context.Context) context.Context {
	if _, ok := types.GetCredentials(ctx); !ok && s.credentials != "" {
		ctx = types.WithCredentials(ctx, s.credentials.Unmask())
	}
	return ctx
}

// LastSeen returns the last time the session was used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) close() {
	s.Orchestrator.Close()
	s.Sensor.Close()
}

// Registry owns the live sessions of the agent.
type Registry struct {
	fetcher   geofence.Fetcher
	submitter Submitter
	metrics   Metrics
	cfg       RegistryConfig
	clock     types.Clock
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry. fetcher and submitter are shared by
// every session, typically one attendance API client.
func NewRegistry(fetcher geofence.Fetcher, submitter Submitter, metrics Metrics, cfg RegistryConfig, clock types.Clock, logger *slog.Logger) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		fetcher:   fetcher,
		submitter: submitter,
		metrics:   metrics,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Open creates a session. geolocationSupported is what the page detected.
// The Authorization header carried by ctx, if any, is kept for attempts.
func (r *Registry) Open(ctx context.Context, geolocationSupported bool) *Session {
	id := uuid.New().String()
	logger := r.logger.With("session_id", id)
	if employee := types.GetEmployeeID(ctx); employee != "" {
		logger = logger.With("employee_id", employee)
	}

	sensor := location.NewDeviceSensor(geolocationSupported, r.clock)
	cache := geofence.NewCache(r.fetcher, r.cfg.Cache, r.clock, logger)
	orch := NewOrchestrator(Deps{
		Sampler:   location.NewSampler(sensor, r.cfg.Sampling, r.clock, logger),
		Contexts:  cache,
		Submitter: r.submitter,
		Metrics:   r.metrics,
		Clock:     r.clock,
		Logger:    logger,
		Sampling:  r.cfg.Sampling,
	})

	now := r.clock.Now()
	s := &Session{
		ID:           id,
		Sensor:       sensor,
		Contexts:     cache,
		Orchestrator: orch,
		CreatedAt:    now,
	}
	if creds, ok := types.GetCredentials(ctx); ok {
		s.credentials = creds
	}
	s.touch(now)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	logger.InfoContext(ctx, "check-in session opened", "geolocation_supported", geolocationSupported)
	return s
}

// Get returns a live session and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSession, "check-in session not found", nil)
	}
	s.touch(r.clock.Now())
	return s, nil
}

// Close ends a session, cancelling its attempt and releasing its sensor.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundSession, "check-in session not found", nil)
	}
	s.close()
	r.logger.Info("check-in session closed", "session_id", id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL. Sessions
// with an attempt in progress are kept.
func (r *Registry) Sweep() int {
	cutoff := r.clock.Now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) && !s.Orchestrator.Busy() {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	if len(expired) > 0 {
		r.logger.Info("swept idle check-in sessions", "count", len(expired))
	}
	return len(expired)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll ends every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.close()
		}(s)
	}
	wg.Wait()
}
