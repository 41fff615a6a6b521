package cache

import (
	"sync"
	"time"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// DefaultTTL is how long a snapshot counts as fresh.
const DefaultTTL = 5 * time.Minute

// snapshot is never mutated after it is stored; Put swaps in a new one.
type snapshot struct {
	records   []types.Record
	fetchedAt time.Time
	expired   bool
}

// Cache is a thread-safe single-snapshot cache with TTL freshness.
type Cache struct {
	mu   sync.RWMutex
	snap *snapshot
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates an empty Cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// WithClock replaces the wall clock. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the snapshot if one exists, now-fetchedAt < TTL and Expire has
// not been called since the last Put. Freshness is therefore not a function of
// the clock alone: a write through the feed ends it early.
// The returned slice is shared; callers must not modify it.
func (c *Cache) Get() ([]types.Record, bool) {
	c.mu.RLock()
	s := c.snap
	c.mu.RUnlock()

	if s == nil || s.expired || c.now().Sub(s.fetchedAt) >= c.ttl {
		return nil, false
	}
	return s.records, true
}

// Stale returns the snapshot regardless of its age.
func (c *Cache) Stale() ([]types.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, false
	}
	return c.snap.records, true
}

// Put replaces the snapshot with records and stamps it with the current time.
// Callers must not modify records after calling Put.
func (c *Cache) Put(records []types.Record) {
	if records == nil {
		records = []types.Record{}
	}
	s := &snapshot{records: records, fetchedAt: c.now()}

	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// Invalidate drops the snapshot. Both Get and Stale miss until the next Put.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// Expire marks the snapshot as no longer fresh while keeping it available
// to Stale. Used after a successful write so the next read goes remote
// without giving up the fallback copy.
func (c *Cache) Expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return
	}
	c.snap = &snapshot{records: c.snap.records, fetchedAt: c.snap.fetchedAt, expired: true}
}

// FetchedAt returns when the current snapshot was stored.
func (c *Cache) FetchedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return time.Time{}, false
	}
	return c.snap.fetchedAt, true
}

// Age returns how old the current snapshot is, or 0 when there is none.
func (c *Cache) Age() time.Duration {
	at, ok := c.FetchedAt()
	if !ok {
		return 0
	}
	return c.now().Sub(at)
}
