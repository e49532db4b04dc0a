package scheduler

import (
	"log/slog"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

// Preemption probability ramp. The draw gets more permissive as the
// interruption count climbs toward the cap: a user still typing follow-ups
// is increasingly likely to want the pending reply to cover everything.
const (
	preemptProbFloor = 0.5
	preemptProbCeil  = 0.9
)

// maybePreempt evaluates the interruption gates for a newly arrived
// message against the stream's pending timer and, when every gate passes
// and the probability draw fires, cancels the entry and recreates it with
// the fixed preempt delay. Caller holds rec.mu.
//
// Preemption deliberately uses the short fixed delay instead of a
// recomputed energy interval: the goal is responsiveness to fresh input,
// not optimal pacing.
func (s *Scheduler) maybePreempt(rec *streamTimer, st *stream.State, msg bus.Message) {
	pol := s.policy()
	if !pol.Enabled {
		return
	}

	processing, _, _ := st.Processing()
	if processing && !pol.AllowWhileBusy {
		return
	}

	count := st.Interruptions()
	if count >= pol.Max {
		return
	}

	if trigger := st.TriggeringUser(); trigger != "" && trigger != msg.SenderID {
		return
	}

	if !msg.Substantive() {
		return
	}

	if s.randFloat() >= preemptProbability(count, pol.Max) {
		return
	}

	// Stop returning false means the timer already fired and its callback
	// owns the entry now; leave it alone.
	if rec.timer == nil || !rec.timer.Stop() {
		return
	}

	newCount := st.IncInterruptions()
	s.scheduleLocked(rec, st.ID(), pol.PreemptDelay)
	slog.Debug("pending dispatch preempted",
		"stream", st.ID(),
		"interruptions", newCount,
		"delay", pol.PreemptDelay,
	)
}

// preemptProbability ramps linearly from the floor at zero interruptions
// to the ceiling at max-1.
func preemptProbability(count, max int) float64 {
	if max <= 1 {
		return preemptProbFloor
	}
	frac := float64(count) / float64(max-1)
	if frac > 1 {
		frac = 1
	}
	return preemptProbFloor + (preemptProbCeil-preemptProbFloor)*frac
}
