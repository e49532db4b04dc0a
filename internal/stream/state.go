package stream

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

// Kind is the conversation kind, detected once from the first message and
// frozen thereafter.
type Kind string

const (
	KindUnknown Kind = ""
	KindDirect  Kind = "direct"
	KindGroup   Kind = "group"
)

// DispatchHandle tracks one in-flight dispatch so the health monitor can
// tell a live dispatch from a leaked processing flag.
type DispatchHandle struct {
	RunID string

	once sync.Once
	done chan struct{}
}

// NewDispatchHandle creates a handle for one dispatch run.
func NewDispatchHandle(runID string) *DispatchHandle {
	return &DispatchHandle{RunID: runID, done: make(chan struct{})}
}

// Finish marks the dispatch completed. Idempotent.
func (h *DispatchHandle) Finish() {
	h.once.Do(func() { close(h.done) })
}

// Completed reports whether Finish has been called.
func (h *DispatchHandle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the dispatch completes.
func (h *DispatchHandle) Done() <-chan struct{} { return h.done }

// State is the mutable record for one conversation stream. All methods are
// safe for concurrent use; every mutation happens under the state's own
// mutex, never a global one.
type State struct {
	mu sync.Mutex

	id   string
	kind Kind

	unread     []bus.Message
	history    []bus.Message
	historyCap int

	// buffered holds messages that arrive while a dispatch is running, so
	// the handler sees a stable unread/history snapshot. Flushed into
	// unread when the dispatch completes.
	buffered []bus.Message

	processing      bool
	processingSince time.Time
	handle          *DispatchHandle

	triggeringUser string
	interruptions  int

	lastActivity time.Time
}

// NewState creates the state for one stream.
func NewState(id string, historyCap int) *State {
	if historyCap <= 0 {
		historyCap = 200
	}
	return &State{
		id:           id,
		historyCap:   historyCap,
		lastActivity: time.Now(),
	}
}

// ID returns the stream identifier.
func (s *State) ID() string { return s.id }

// Kind returns the frozen conversation kind.
func (s *State) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

// Ingest records an inbound message. The first message freezes the
// conversation kind. While a dispatch is running the message lands in the
// inbound buffer instead of unread.
func (s *State) Ingest(msg bus.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == KindUnknown {
		if msg.PeerKind == bus.PeerGroup {
			s.kind = KindGroup
		} else {
			s.kind = KindDirect
		}
	}

	if s.processing {
		s.buffered = append(s.buffered, msg)
	} else {
		s.unread = append(s.unread, msg)
	}
	s.lastActivity = time.Now()
}

// UnreadCount returns the number of unread messages.
func (s *State) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unread)
}

// UnreadSnapshot returns a copy of the unread queue in arrival order.
func (s *State) UnreadSnapshot() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.Message, len(s.unread))
	copy(out, s.unread)
	return out
}

// HistorySnapshot returns a copy of the processed-message ring, oldest
// first.
func (s *State) HistorySnapshot() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bus.Message, len(s.history))
	copy(out, s.history)
	return out
}

// NewestUnread returns the most recent unread message.
func (s *State) NewestUnread() (bus.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unread) == 0 {
		return bus.Message{}, false
	}
	return s.unread[len(s.unread)-1], true
}

// RecentForScoring returns up to max messages for activity scoring:
// history tail first, then the unread queue, oldest first.
func (s *State) RecentForScoring(max int) []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]bus.Message, 0, len(s.history)+len(s.unread))
	out = append(out, s.history...)
	out = append(out, s.unread...)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// BeginProcessing marks the stream busy for one dispatch. Returns false if
// a dispatch is already in flight, which callers must treat as a hard stop:
// at most one dispatch runs per stream.
func (s *State) BeginProcessing(triggeringUser string, h *DispatchHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	s.processingSince = time.Now()
	s.handle = h
	s.triggeringUser = triggeringUser
	return true
}

// EndProcessing clears the busy state after a dispatch completes (success,
// failure, or timeout alike): the inbound buffer is flushed into unread in
// arrival order and the interruption counter resets.
func (s *State) EndProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.handle = nil
	if len(s.buffered) > 0 {
		s.unread = append(s.unread, s.buffered...)
		s.buffered = nil
	}
	s.interruptions = 0
	s.lastActivity = time.Now()
}

// Processing reports the busy flag, when it was set, and the dispatch
// handle (nil when idle).
func (s *State) Processing() (bool, time.Time, *DispatchHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing, s.processingSince, s.handle
}

// ForceIdle clears a stuck processing flag without a completing dispatch.
// Used by the health monitor's self-heal path. Returns false if the stream
// was not processing.
func (s *State) ForceIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.processing {
		return false
	}
	s.processing = false
	s.handle = nil
	if len(s.buffered) > 0 {
		s.unread = append(s.unread, s.buffered...)
		s.buffered = nil
	}
	return true
}

// MarkRead moves unread messages with matching ids to the tail of history,
// preserving order and trimming history to capacity (oldest dropped
// first). Returns how many messages moved.
func (s *State) MarkRead(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	var remaining []bus.Message
	moved := 0
	for _, msg := range s.unread {
		if idSet[msg.ID] {
			s.history = append(s.history, msg)
			moved++
		} else {
			remaining = append(remaining, msg)
		}
	}
	s.unread = remaining

	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
	return moved
}

// TriggeringUser returns the user whose message caused the currently
// scheduled or running dispatch.
func (s *State) TriggeringUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggeringUser
}

// SetTriggeringUser records the user whose message caused the pending
// dispatch timer.
func (s *State) SetTriggeringUser(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggeringUser = user
}

// Interruptions returns how many times the pending dispatch was preempted
// since the last completed dispatch.
func (s *State) Interruptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptions
}

// IncInterruptions bumps the interruption counter and returns the new
// value.
func (s *State) IncInterruptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptions++
	return s.interruptions
}

// BufferedCount returns the number of messages held while a dispatch runs.
func (s *State) BufferedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffered)
}

// LastActivity returns the last time a message arrived or a dispatch
// completed.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Idle reports whether the stream has no pending work: nothing unread,
// nothing buffered, no dispatch running.
func (s *State) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.processing && len(s.unread) == 0 && len(s.buffered) == 0
}
