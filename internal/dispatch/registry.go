package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

// ErrNoHandler means no constructor is registered for a stream's
// conversation kind (nor for KindAny). A configuration error: the stream
// stays idle until registration is fixed.
var ErrNoHandler = errors.New("no handler registered for conversation kind")

// Registry maps conversation kinds to handler constructors and owns the
// one-live-instance-per-stream rule.
type Registry struct {
	mu           sync.RWMutex
	constructors map[stream.Kind][]Constructor
	instances    map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[stream.Kind][]Constructor),
		instances:    make(map[string]Handler),
	}
}

// Register appends a constructor for a conversation kind. Use KindAny for
// a catch-all. Registration order is selection order within a kind.
func (r *Registry) Register(kind stream.Kind, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[kind] = append(r.constructors[kind], c)
}

// HandlerFor returns the live handler for a stream, creating it on first
// dispatch. Kind-specific constructors win over KindAny.
func (r *Registry) HandlerFor(streamID string, kind stream.Kind) (Handler, error) {
	r.mu.RLock()
	h, ok := r.instances[streamID]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.instances[streamID]; ok {
		return h, nil
	}

	ctor := r.selectLocked(kind)
	if ctor == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, kind)
	}
	h, err := ctor(streamID, kind)
	if err != nil {
		return nil, fmt.Errorf("construct handler for %s: %w", streamID, err)
	}
	r.instances[streamID] = h
	return h, nil
}

// selectLocked picks the first constructor for the specific kind, falling
// back to KindAny. Caller holds r.mu.
func (r *Registry) selectLocked(kind stream.Kind) Constructor {
	if ctors := r.constructors[kind]; len(ctors) > 0 {
		return ctors[0]
	}
	if ctors := r.constructors[KindAny]; len(ctors) > 0 {
		return ctors[0]
	}
	return nil
}

// ActiveHandlers returns the number of live handler instances.
func (r *Registry) ActiveHandlers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Remove drops the live handler for a stream, used when the stream is
// evicted. The next dispatch recreates it.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, streamID)
}
