package energy

import (
	"testing"
	"time"
)

func TestCacheGetPut(t *testing.T) {
	c := NewCache(time.Hour)

	if _, ok := c.Get("s1"); ok {
		t.Fatal("empty cache returned a hit")
	}

	res := Result{Energy: 0.6, Interval: 3 * time.Second, ComputedAt: time.Now()}
	c.Put("s1", res)

	got, ok := c.Get("s1")
	if !ok {
		t.Fatal("cached entry not returned")
	}
	if got != res {
		t.Errorf("got %+v, want %+v", got, res)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", hits, misses)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Put("s1", Result{Energy: 0.5, ComputedAt: time.Now()})

	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("s1"); ok {
		t.Error("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not deleted, len = %d", c.Len())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Hour)
	c.Put("s1", Result{Energy: 0.5, ComputedAt: time.Now()})
	c.Invalidate("s1")

	if _, ok := c.Get("s1"); ok {
		t.Error("invalidated entry still served")
	}
}

func TestCachePutSweepsExpired(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Put("old", Result{Energy: 0.5, ComputedAt: time.Now().Add(-time.Second)})
	c.Put("fresh", Result{Energy: 0.5, ComputedAt: time.Now()})

	if c.Len() != 1 {
		t.Errorf("len = %d after sweep, want 1", c.Len())
	}
}
