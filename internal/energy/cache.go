package energy

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache holds per-stream scoring results for a TTL. Expired entries are
// purged proactively on writes, not just lazily on reads.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Result

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates a TTL cache for scoring results.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]Result),
	}
}

// Get returns the cached result for a stream if it is still within TTL.
func (c *Cache) Get(streamID string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.entries[streamID]
	if !ok || time.Since(res.ComputedAt) >= c.ttl {
		if ok {
			delete(c.entries, streamID)
		}
		c.misses.Add(1)
		return Result{}, false
	}
	c.hits.Add(1)
	return res, true
}

// Put stores a result and sweeps out expired entries.
func (c *Cache) Put(streamID string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.ComputedAt) >= c.ttl {
			delete(c.entries, id)
		}
	}
	c.entries[streamID] = res
}

// SetTTL updates the expiry window. Existing entries are judged against
// the new TTL on their next read or write.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Invalidate removes the cached result for a stream.
func (c *Cache) Invalidate(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, streamID)
}

// Stats returns aggregate hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of live cache entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
