package dispatch

import (
	"context"

	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

// Outcome is what a handler reports after one reply-generation run.
type Outcome struct {
	Success      bool
	ActionCount  int
	ErrorMessage string
}

// Handler is the reply-generation pipeline for one stream. One instance is
// created per stream and reused across dispatches; the scheduler
// guarantees it is never invoked concurrently with itself.
type Handler interface {
	Execute(ctx context.Context, st *stream.State) (Outcome, error)
}

// Constructor builds a handler for a stream. Registered per conversation
// kind; KindAny constructors are the fallback when no kind-specific one
// exists.
type Constructor func(streamID string, kind stream.Kind) (Handler, error)

// KindAny registers a constructor for every conversation kind.
const KindAny = stream.Kind("any")
