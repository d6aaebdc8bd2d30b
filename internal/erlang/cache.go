package erlang

import (
	"sync"
	"time"

	"github.com/shiftarc/shiftarc/api/schemas"
	"github.com/shiftarc/shiftarc/internal/metrics"
)

// cacheKey identifies one staffing calculation: rounded volume, handle time,
// interval length and the service-level target.
type cacheKey struct {
	Volume    int64
	AHT       time.Duration
	Length    time.Duration
	Fraction  float64
	Threshold time.Duration
}

type cacheEntry struct {
	req       schemas.StaffingRequirement
	expiresAt time.Time
}

// Cache is a read-mostly TTL cache for staffing results. It is the only
// shared mutable structure on the hot path: concurrent reads from the
// recompute loop take the read lock, population takes a short exclusive lock.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewCache builds an empty cache. A non-positive ttl disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached requirement if present and fresh.
func (c *Cache) Get(key cacheKey) (schemas.StaffingRequirement, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return schemas.StaffingRequirement{}, false
	}
	if c.now().After(entry.expiresAt) {
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return schemas.StaffingRequirement{}, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return entry.req, true
}

// Put stores a result. No-op when the TTL disables caching.
func (c *Cache) Put(key cacheKey, req schemas.StaffingRequirement) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{req: req, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// InvalidateAll drops every entry. Used when the service-level configuration
// changes, since every cached result embeds the old target.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
