package rbac

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/halldesk/halldesk/pkg/observability"
)

// DefaultCacheTTL bounds how long a cached permission set may serve reads
// after the underlying grants change, covering lost invalidation events.
const DefaultCacheTTL = 60 * time.Second

// PermissionCache memoizes resolved permission sets per user. Implementations
// must treat every failure as a miss; the cache is an optimization, never a
// source of truth.
type PermissionCache interface {
	// Get returns the cached set for userID, or ok=false on miss.
	Get(ctx context.Context, userID int64) (PermissionSet, bool)
	// Set stores the set for userID with the given TTL.
	Set(ctx context.Context, userID int64, set PermissionSet, ttl time.Duration)
	// Delete evicts userID's entry if present.
	Delete(ctx context.Context, userID int64)
}

// Clock abstracts time.Now for deterministic expiry tests.
type Clock func() time.Time

type cacheEntry struct {
	set       PermissionSet
	expiresAt time.Time
}

// LocalPermissionCache is an in-process bounded LRU with per-entry TTL.
// Expired entries are dropped lazily on read and swept by PurgeExpired.
type LocalPermissionCache struct {
	entries *lru.Cache[int64, cacheEntry]
	clock   Clock
	metrics *observability.Metrics
}

// LocalCacheOption customizes a LocalPermissionCache.
type LocalCacheOption func(*LocalPermissionCache)

// WithClock substitutes the time source.
func WithClock(clock Clock) LocalCacheOption {
	return func(c *LocalPermissionCache) { c.clock = clock }
}

// WithCacheMetrics wires cache hit/miss/eviction counters.
func WithCacheMetrics(m *observability.Metrics) LocalCacheOption {
	return func(c *LocalPermissionCache) { c.metrics = m }
}

// NewLocalPermissionCache creates a cache holding at most maxEntries users.
func NewLocalPermissionCache(maxEntries int, opts ...LocalCacheOption) (*LocalPermissionCache, error) {
	entries, err := lru.New[int64, cacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &LocalPermissionCache{
		entries: entries,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached set for userID. An expired entry counts as a miss
// and is evicted on the spot.
func (c *LocalPermissionCache) Get(_ context.Context, userID int64) (PermissionSet, bool) {
	entry, ok := c.entries.Get(userID)
	if !ok {
		c.countMiss()
		return nil, false
	}
	if !c.clock().Before(entry.expiresAt) {
		c.entries.Remove(userID)
		c.countEviction("expired")
		c.countMiss()
		return nil, false
	}
	c.countHit()
	return entry.set.Clone(), true
}

// Set stores the set for userID. A non-positive TTL stores nothing.
func (c *LocalPermissionCache) Set(_ context.Context, userID int64, set PermissionSet, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.entries.Add(userID, cacheEntry{
		set:       set.Clone(),
		expiresAt: c.clock().Add(ttl),
	})
	c.countEntries()
}

// Delete evicts userID's entry if present.
func (c *LocalPermissionCache) Delete(_ context.Context, userID int64) {
	if c.entries.Remove(userID) {
		c.countEviction("invalidated")
	}
	c.countEntries()
}

// PurgeExpired sweeps out every expired entry and reports how many were
// removed. Run periodically so idle users do not pin stale sets in the LRU.
func (c *LocalPermissionCache) PurgeExpired() int {
	now := c.clock()
	purged := 0
	for _, userID := range c.entries.Keys() {
		entry, ok := c.entries.Peek(userID)
		if !ok {
			continue
		}
		if !now.Before(entry.expiresAt) {
			c.entries.Remove(userID)
			c.countEviction("expired")
			purged++
		}
	}
	c.countEntries()
	return purged
}

// Len reports the number of entries currently held, expired or not.
func (c *LocalPermissionCache) Len() int {
	return c.entries.Len()
}

func (c *LocalPermissionCache) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("local").Inc()
	}
}

func (c *LocalPermissionCache) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("local").Inc()
	}
}

func (c *LocalPermissionCache) countEviction(reason string) {
	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.WithLabelValues("local", reason).Inc()
	}
}

func (c *LocalPermissionCache) countEntries() {
	if c.metrics != nil {
		c.metrics.CacheEntries.WithLabelValues("local").Set(float64(c.entries.Len()))
	}
}
