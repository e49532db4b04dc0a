// Package scheduler decides when each stream's reply handler runs. Every
// stream owns at most one pending one-shot timer; new input either creates
// a timer, leaves it alone, or preempts it for a near-immediate retry.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/energy"
	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

// defaultScoreWindow caps how many recent messages feed one scoring call.
const defaultScoreWindow = 50

// IntervalSource computes dispatch delays from recent activity.
// Implemented by energy.Scorer.
type IntervalSource interface {
	Score(ctx context.Context, streamID string, msgs []bus.Message) energy.Result
	Invalidate(streamID string)
}

// Dispatcher runs one reply-generation cycle for a stream.
type Dispatcher interface {
	Dispatch(ctx context.Context, st *stream.State) error
}

// Policy is the tunable knob set, fetched per decision so config reloads
// take effect without a restart.
type Policy struct {
	Enabled         bool // interruption globally enabled
	AllowWhileBusy  bool // permit preemption while a dispatch is running
	Max             int  // interruptions per stream between dispatches
	PreemptDelay    time.Duration
	DispatchTimeout time.Duration
}

// PolicyFunc supplies the current policy.
type PolicyFunc func() Policy

// streamTimer holds a stream's pending schedule entry. The embedded mutex
// is the only way to create or cancel the entry, which structurally
// enforces the one-timer-per-stream invariant.
type streamTimer struct {
	mu        sync.Mutex
	scheduled bool
	fireAt    time.Time
	timer     *time.Timer
}

// Scheduler owns the per-stream timers and the dispatch completion path.
type Scheduler struct {
	streams     *stream.Registry
	scorer      IntervalSource
	dispatcher  Dispatcher
	policy      PolicyFunc
	scoreWindow int

	recs sync.Map // streamID → *streamTimer
	wg   sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a scheduler. seed drives the preemption probability draws;
// 0 means time-based.
func New(streams *stream.Registry, scorer IntervalSource, dispatcher Dispatcher, policy PolicyFunc, seed int64) *Scheduler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scheduler{
		streams:     streams,
		scorer:      scorer,
		dispatcher:  dispatcher,
		policy:      policy,
		scoreWindow: defaultScoreWindow,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// OnMessageArrived is the inbound entry point. Safe to call concurrently
// for different streams and for the same stream.
func (s *Scheduler) OnMessageArrived(ctx context.Context, msg bus.Message) {
	if msg.StreamID == "" {
		return
	}

	st := s.streams.GetOrCreate(msg.StreamID)
	st.Ingest(msg)

	rec := s.rec(msg.StreamID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.scheduled {
		res := s.scorer.Score(ctx, msg.StreamID, st.RecentForScoring(s.scoreWindow))
		st.SetTriggeringUser(msg.SenderID)
		s.scheduleLocked(rec, msg.StreamID, res.Interval)
		slog.Debug("timer created",
			"stream", msg.StreamID, "interval", res.Interval, "energy", res.Energy)
		return
	}

	s.maybePreempt(rec, st, msg)
}

// onTimerFired is the one-shot timer callback: remove the entry, guard
// against empty queues and concurrent dispatches, then run the handler off
// the stream mutex so new arrivals keep flowing.
func (s *Scheduler) onTimerFired(streamID string) {
	rec, ok := s.lookup(streamID)
	if !ok {
		// Forgotten between firing and running.
		return
	}
	rec.mu.Lock()
	rec.scheduled = false
	rec.timer = nil
	rec.mu.Unlock()

	st, ok := s.streams.Get(streamID)
	if !ok {
		return
	}

	newest, ok := st.NewestUnread()
	if !ok {
		// Nothing to process and nothing to reschedule: the next message
		// creates a fresh timer.
		return
	}

	pol := s.policy()
	handle := stream.NewDispatchHandle(uuid.NewString()[:8])
	if !st.BeginProcessing(newest.SenderID, handle) {
		// A dispatch is already in flight; its completion path schedules
		// the next timer.
		slog.Debug("timer fired while dispatching, skipped", "stream", streamID)
		return
	}

	s.wg.Add(1)
	go s.runDispatch(streamID, st, handle, pol.DispatchTimeout)
}

// runDispatch executes one dispatch under the outer timeout and drives the
// shared completion path. A timeout abandons the wait, not the handler:
// the handler run is never hard-killed, it finishes or times out on its
// own.
func (s *Scheduler) runDispatch(streamID string, st *stream.State, handle *stream.DispatchHandle, timeout time.Duration) {
	defer s.wg.Done()

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.dispatcher.Dispatch(ctx, st)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		slog.Warn("dispatch cycle ended with error",
			"stream", streamID, "run", handle.RunID, "error", err)
	}

	handle.Finish()
	st.EndProcessing()
	s.rescheduleAfterDispatch(streamID, st)
}

// rescheduleAfterDispatch creates the next entry with a freshly recomputed
// interval, unless a preemption that happened mid-dispatch already created
// one. Checked under the stream's timer mutex to avoid a duplicate.
func (s *Scheduler) rescheduleAfterDispatch(streamID string, st *stream.State) {
	rec := s.rec(streamID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.scheduled {
		return
	}

	s.scorer.Invalidate(streamID)
	res := s.scorer.Score(context.Background(), streamID, st.RecentForScoring(s.scoreWindow))
	if newest, ok := st.NewestUnread(); ok {
		st.SetTriggeringUser(newest.SenderID)
	}
	s.scheduleLocked(rec, streamID, res.Interval)
	slog.Debug("timer rescheduled after dispatch",
		"stream", streamID, "interval", res.Interval, "energy", res.Energy)
}

// scheduleLocked creates the schedule entry. Caller must hold rec.mu and
// must have cancelled or consumed any previous entry first.
func (s *Scheduler) scheduleLocked(rec *streamTimer, streamID string, delay time.Duration) {
	rec.scheduled = true
	rec.fireAt = time.Now().Add(delay)
	rec.timer = time.AfterFunc(delay, func() { s.onTimerFired(streamID) })
}

// CancelTimer cancels a stream's pending timer, if any. It cancels only
// the wait; a dispatch that already started is unaffected.
func (s *Scheduler) CancelTimer(streamID string) bool {
	rec, ok := s.lookup(streamID)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.scheduled || rec.timer == nil || !rec.timer.Stop() {
		return false
	}
	rec.scheduled = false
	rec.timer = nil
	return true
}

// FireAt returns the pending timer's fire time, if one exists.
func (s *Scheduler) FireAt(streamID string) (time.Time, bool) {
	rec, ok := s.lookup(streamID)
	if !ok {
		return time.Time{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.fireAt, rec.scheduled
}

// Forget cancels any pending timer and drops the stream's timer record.
// Called when a stream is evicted.
func (s *Scheduler) Forget(streamID string) {
	s.CancelTimer(streamID)
	s.recs.Delete(streamID)
}

// Stop cancels all pending timers and waits for in-flight dispatches to
// finish their completion path.
func (s *Scheduler) Stop() {
	s.recs.Range(func(key, value any) bool {
		rec := value.(*streamTimer)
		rec.mu.Lock()
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
			rec.scheduled = false
		}
		rec.mu.Unlock()
		return true
	})
	s.wg.Wait()
}

// rec returns the stream's timer record, creating it on first use. Only
// the arrival and completion paths may create records; read paths use
// lookup so a forgotten stream stays forgotten.
func (s *Scheduler) rec(streamID string) *streamTimer {
	if v, ok := s.recs.Load(streamID); ok {
		return v.(*streamTimer)
	}
	v, _ := s.recs.LoadOrStore(streamID, &streamTimer{})
	return v.(*streamTimer)
}

func (s *Scheduler) lookup(streamID string) (*streamTimer, bool) {
	v, ok := s.recs.Load(streamID)
	if !ok {
		return nil, false
	}
	return v.(*streamTimer), true
}

func (s *Scheduler) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}
