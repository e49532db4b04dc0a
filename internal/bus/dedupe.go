package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen message keys so webhook retries and
// double-taps don't reach the scheduler twice. Entries expire after a TTL
// and the cache is capped to bound memory. Safe for concurrent use.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
}

// NewDedupeCache creates a cache holding at most max keys for ttl each.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 5000
	}
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
	}
}

// IsDuplicate records the key and reports whether it was already present
// and not expired.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seen, ok := d.entries[key]; ok && now.Sub(seen) < d.ttl {
		return true
	}

	if len(d.entries) >= d.max {
		d.pruneLocked(now)
	}
	d.entries[key] = now
	return false
}

// pruneLocked drops expired entries, then evicts arbitrarily if still at
// capacity. Caller holds d.mu.
func (d *DedupeCache) pruneLocked(now time.Time) {
	for k, seen := range d.entries {
		if now.Sub(seen) >= d.ttl {
			delete(d.entries, k)
		}
	}
	for len(d.entries) >= d.max {
		for k := range d.entries {
			delete(d.entries, k)
			break
		}
	}
}

// Len returns the current number of tracked keys.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
