// Package cache memoizes telemetry snapshots for a refresh window so that
// bursts of protocol requests trigger at most one collection.
package cache

import (
	"context"
	"time"

	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
)

// DefaultInterval is the refresh window used when none is configured.
const DefaultInterval = 2 * time.Second

// Collector produces a fresh snapshot.
type Collector interface {
	Collect(ctx context.Context) (*fields.Snapshot, error)
}

// RefreshFunc is notified after every successful collection.
type RefreshFunc func(capturedAt time.Time, snapshot *fields.Snapshot)

// Cache holds the latest snapshot. It is owned by a single session and is
// not safe for concurrent use.
type Cache struct {
	collector Collector
	interval  time.Duration
	clock     func() time.Time

	snapshot   *fields.Snapshot
	capturedAt time.Time

	attempted   bool
	attemptedAt time.Time
	lastErr     error

	observers []RefreshFunc
}

// Option configures a Cache.
type Option func(*Cache)

// WithInterval sets the refresh window. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// New creates a Cache in front of collector.
func New(collector Collector, opts ...Option) *Cache {
	c := &Cache{
		collector: collector,
		interval:  DefaultInterval,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRefresh registers fn to run after each successful collection.
func (c *Cache) OnRefresh(fn RefreshFunc) {
	c.observers = append(c.observers, fn)
}

// Interval returns the refresh window.
func (c *Cache) Interval() time.Duration {
	return c.interval
}

// CapturedAt returns when the held snapshot was collected, or the zero time.
func (c *Cache) CapturedAt() time.Time {
	return c.capturedAt
}

// Get returns the current snapshot, collecting a new one when the refresh
// window since the last attempt has elapsed. A failed collection is returned
// to the caller; the previous snapshot is kept and served until the window
// elapses again. Without any snapshot the failure itself is repeated.
func (c *Cache) Get(ctx context.Context) (*fields.Snapshot, error) {
	now := c.clock()

	if c.attempted && now.Sub(c.attemptedAt) < c.interval {
		if c.snapshot != nil {
			return c.snapshot, nil
		}
		return nil, c.lastErr
	}

	c.attempted = true
	c.attemptedAt = now

	snapshot, err := c.collector.Collect(ctx)
	if err != nil {
		c.lastErr = err
		logger.Warn("telemetry collection failed: %v", err)
		return nil, err
	}

	c.snapshot = snapshot
	c.capturedAt = now
	c.lastErr = nil

	for _, fn := range c.observers {
		fn(now, snapshot)
	}
	return snapshot, nil
}
