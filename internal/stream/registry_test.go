package stream

import (
	"testing"
	"time"
)

func TestGetOrCreateReturnsSameState(t *testing.T) {
	r := NewRegistry(10)
	a := r.GetOrCreate("s1")
	b := r.GetOrCreate("s1")
	if a != b {
		t.Error("GetOrCreate returned different states for the same id")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestGetMissing(t *testing.T) {
	r := NewRegistry(10)
	if _, ok := r.Get("nope"); ok {
		t.Error("Get returned a state for an unknown id")
	}
}

func TestEvictIdleSkipsBusyStreams(t *testing.T) {
	r := NewRegistry(10)

	idle := r.GetOrCreate("idle")
	_ = idle

	busy := r.GetOrCreate("busy")
	busy.Ingest(msg("m1", "u1", "pending work"))

	time.Sleep(5 * time.Millisecond)
	evicted := r.EvictIdle(time.Nanosecond)

	if len(evicted) != 1 || evicted[0] != "idle" {
		t.Fatalf("evicted = %v, want [idle]", evicted)
	}
	if _, ok := r.Get("idle"); ok {
		t.Error("evicted stream still present")
	}
	if _, ok := r.Get("busy"); !ok {
		t.Error("stream with unread messages was evicted")
	}
}

func TestRangeStopsEarly(t *testing.T) {
	r := NewRegistry(10)
	r.GetOrCreate("s1")
	r.GetOrCreate("s2")
	r.GetOrCreate("s3")

	count := 0
	r.Range(func(st *State) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("visited %d states, want 2", count)
	}
}
