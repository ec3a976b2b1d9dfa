// Package transform maintains the vehicle pose cache. A single refresh
// goroutine polls the external transform service; the control loops read
// whole-value snapshots so position and yaw always come from one sample.
package transform

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/helix-aero/navstack/internal/geom"
)

// DefaultRefreshPeriod keeps the cache at or above the 2 Hz the controllers
// assume.
const DefaultRefreshPeriod = 500 * time.Millisecond

// DefaultLookupTimeout bounds one transform lookup. A lookup that exceeds
// it is a transient failure; the cache keeps the last known pose.
const DefaultLookupTimeout = 200 * time.Millisecond

// PoseSource answers "where is the vehicle now, in the map frame". The
// external transform service sits behind this interface.
type PoseSource interface {
	LookupPose(ctx context.Context) (geom.Pose, error)
}

// Snapshot is one consistent pose sample. Valid is false until the first
// successful lookup; Stale is true when the most recent lookup failed and
// the pose is a retained earlier sample.
type Snapshot struct {
	Pose  geom.Pose
	Yaw   float64
	Time  time.Time
	Valid bool
	Stale bool
}

// Cache is the single-writer pose cache. Run owns all writes; any number
// of readers may call Snapshot concurrently.
type Cache struct {
	source  PoseSource
	period  time.Duration
	timeout time.Duration
	logger  *log.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// CacheConfig contains configuration for a Cache.
type CacheConfig struct {
	// Source is the transform service client.
	Source PoseSource
	// Period is the refresh interval; zero means DefaultRefreshPeriod.
	Period time.Duration
	// Timeout bounds one lookup; zero means DefaultLookupTimeout.
	Timeout time.Duration
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// NewCache creates a pose cache. Call Run to start refreshing.
func NewCache(cfg CacheConfig) *Cache {
	period := cfg.Period
	if period <= 0 {
		period = DefaultRefreshPeriod
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{source: cfg.Source, period: period, timeout: timeout, logger: logger}
}

// Run refreshes the cache until the context is cancelled. It performs one
// immediate lookup so consumers do not start against a zero pose.
func (c *Cache) Run(ctx context.Context) error {
	c.refresh(ctx)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Cache) refresh(ctx context.Context) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pose, err := c.source.LookupPose(lookupCtx)
	if err != nil {
		// Keep the last known pose. Never zero it out.
		c.mu.Lock()
		c.snap.Stale = true
		c.mu.Unlock()
		c.logger.Printf("[transform] pose lookup failed, retaining last pose: %v", err)
		return
	}

	c.mu.Lock()
	c.snap = Snapshot{
		Pose:  pose,
		Yaw:   pose.Yaw(),
		Time:  time.Now(),
		Valid: true,
	}
	c.mu.Unlock()
}

// Snapshot returns the latest consistent pose sample.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
