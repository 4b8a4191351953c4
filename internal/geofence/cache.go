package geofence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"attendance/internal/types"
)

// DefaultFetchTimeout bounds a shared fetch when CacheConfig leaves it unset.
const DefaultFetchTimeout = 10 * time.Second

const flightKey = "geofencing-context"

// Fetcher retrieves the geofencing context from the attendance API.
type Fetcher interface {
	FetchGeofencingContext(ctx context.Context) (*types.GeofenceContext, error)
}

// CacheConfig tunes a Cache.
type CacheConfig struct {
	// MaxAge lets GetContext(false) serve the last good context without a
	// network call while it is younger than MaxAge. Zero always fetches.
	MaxAge time.Duration
	// FetchTimeout bounds each shared fetch, independent of any caller.
	FetchTimeout time.Duration
	// DefaultFallback applies when the server omits the fallback policy.
	DefaultFallback types.FallbackPolicy
}

// ContextProvider is a Cache as seen by its consumers.
type ContextProvider interface {
	GetContext(ctx context.Context, forceRefresh bool) (*types.GeofenceContext, error)
}

var _ ContextProvider = (*Cache)(nil)

// Cache fetches and holds the geofencing context for one check-in session.
//
// Concurrent GetContext calls share a single in-flight fetch. A failed fetch
// falls back to the last good context, flagged Stale, unless the caller
// forced a refresh.
type Cache struct {
	fetcher Fetcher
	cfg     CacheConfig
	clock   types.Clock
	logger  *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	lastGood *types.GeofenceContext
}

// NewCache creates a Cache over fetcher.
func NewCache(fetcher Fetcher, cfg CacheConfig, clock types.Clock, logger *slog.Logger) *Cache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if !cfg.DefaultFallback.Valid() {
		cfg.DefaultFallback = types.FallbackDenyIfNoGPS
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// GetContext returns the geofencing context. The returned value is a copy
// owned by the caller.
//
// ctx only bounds how long this caller waits; abandoning the wait does not
// cancel a fetch other callers are sharing.
func (c *Cache) GetContext(ctx context.Context, forceRefresh bool) (*types.GeofenceContext, error) {
	if !forceRefresh {
		if fresh := c.fresh(); fresh != nil {
			return fresh, nil
		}
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.fetch(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			return res.Val.(*types.GeofenceContext).Clone(), nil
		}
		if forceRefresh {
			return nil, res.Err
		}
		if stale := c.stale(); stale != nil {
			c.logger.WarnContext(ctx, "serving stale geofencing context",
				"fetched_at", stale.FetchedAt,
				"error", res.Err.Error(),
			)
			return stale, nil
		}
		return nil, res.Err
	}
}

// fetch performs the shared network call. It detaches from the caller's
// cancellation so that one impatient caller cannot fail the others.
func (c *Cache) fetch(callerCtx context.Context) (*types.GeofenceContext, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), c.cfg.FetchTimeout)
	defer cancel()

	start := c.clock.Now()
	gctx, err := c.fetcher.FetchGeofencingContext(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "geofencing context fetch failed",
			"elapsed", c.clock.Now().Sub(start),
			"error", err.Error(),
		)
		return nil, err
	}
	if gctx == nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamDecode, "empty geofencing context", errors.New("nil context"))
	}

	stored := gctx.Clone()
	if !stored.Fallback.Valid() {
		stored.Fallback = c.cfg.DefaultFallback
	}
	if stored.FetchedAt.IsZero() {
		stored.FetchedAt = c.clock.Now()
	}
	stored.Stale = false

	c.mu.Lock()
	c.lastGood = stored
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "geofencing context refreshed",
		"offices", len(stored.Offices),
		"missions", len(stored.Missions),
		"fallback", string(stored.Fallback),
	)
	return stored, nil
}

// fresh returns a copy of the last good context if MaxAge still covers it.
func (c *Cache) fresh() *types.GeofenceContext {
	if c.cfg.MaxAge <= 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastGood == nil || c.clock.Now().Sub(c.lastGood.FetchedAt) >= c.cfg.MaxAge {
		return nil
	}
	return c.lastGood.Clone()
}

func (c *Cache) stale() *types.GeofenceContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastGood == nil {
		return nil
	}
	out := c.lastGood.Clone()
	out.Stale = true
	return out
}

// LastGood returns a copy of the most recent successful fetch, or nil.
func (c *Cache) LastGood() *types.GeofenceContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastGood.Clone()
}
