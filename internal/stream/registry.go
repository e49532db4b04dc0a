package stream

import (
	"sync"
	"time"
)

// Registry owns the stream id → State mapping. States are created on first
// message and evicted after an inactivity timeout; each State carries its
// own lock, so the registry lock is held only for map access.
type Registry struct {
	mu         sync.RWMutex
	streams    map[string]*State
	historyCap int
}

// NewRegistry creates an empty registry. historyCap bounds each stream's
// processed-message ring.
func NewRegistry(historyCap int) *Registry {
	return &Registry{
		streams:    make(map[string]*State),
		historyCap: historyCap,
	}
}

// GetOrCreate returns the state for a stream, creating it on first use.
func (r *Registry) GetOrCreate(id string) *State {
	r.mu.RLock()
	st, ok := r.streams[id]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.streams[id]; ok {
		return st
	}
	st = NewState(id, r.historyCap)
	r.streams[id] = st
	return st
}

// Get returns the state for a stream if it exists.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.streams[id]
	return st, ok
}

// Range calls fn for every stream until fn returns false.
func (r *Registry) Range(fn func(*State) bool) {
	r.mu.RLock()
	snapshot := make([]*State, 0, len(r.streams))
	for _, st := range r.streams {
		snapshot = append(snapshot, st)
	}
	r.mu.RUnlock()

	for _, st := range snapshot {
		if !fn(st) {
			return
		}
	}
}

// Len returns the number of live streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Remove drops a stream from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// EvictIdle removes streams with no pending work whose last activity is
// older than maxIdle. Returns the evicted stream ids so callers can drop
// per-stream resources (handler instances, timers).
func (r *Registry) EvictIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	var evicted []string
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.streams {
		if st.Idle() && st.LastActivity().Before(cutoff) {
			delete(r.streams, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
