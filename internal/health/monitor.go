// Package health watches for dispatches that never completed and sweeps
// idle streams out of memory.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

// Settings is the monitor's tunable knob set, fetched per scan so config
// reloads take effect live.
type Settings struct {
	Period     time.Duration // scan interval
	StaleAfter time.Duration // processing older than this is suspect
	SweepCron  string        // cron expression for the idle-stream sweep
	IdleEvict  time.Duration // inactivity threshold for eviction
}

// SettingsFunc supplies the current settings.
type SettingsFunc func() Settings

// Monitor periodically scans every stream for a stuck processing flag and
// self-heals the cases it can prove dead. It diagnoses, it does not kill:
// a dispatch with a live handle is only logged, never interrupted.
type Monitor struct {
	streams  *stream.Registry
	settings SettingsFunc
	gron     *gronx.Gronx

	// onEvict releases per-stream resources held elsewhere (handler
	// instance, pending timer) when the sweep removes a stream.
	onEvict func(streamID string)

	healed    int
	swept     int
	lastRun   time.Time
	lastSweep time.Time // minute of the last executed sweep
}

// NewMonitor creates a monitor. onEvict may be nil.
func NewMonitor(streams *stream.Registry, settings SettingsFunc, onEvict func(string)) *Monitor {
	return &Monitor{
		streams:  streams,
		settings: settings,
		gron:     gronx.New(),
		onEvict:  onEvict,
	}
}

// Run scans on the configured period until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	period := m.settings().Period
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	slog.Info("health monitor started", "period", period)
	for {
		select {
		case <-ctx.Done():
			slog.Info("health monitor stopped", "healed", m.healed, "swept", m.swept)
			return ctx.Err()
		case now := <-ticker.C:
			m.checkOnce(now)
			m.maybeSweep(now)
		}
	}
}

// checkOnce scans all streams for processing flags older than the stale
// threshold and clears the ones whose dispatch is provably gone.
func (m *Monitor) checkOnce(now time.Time) {
	set := m.settings()
	staleAfter := set.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 120 * time.Second
	}

	m.streams.Range(func(st *stream.State) bool {
		processing, since, handle := st.Processing()
		if !processing {
			return true
		}
		elapsed := now.Sub(since)
		if elapsed < staleAfter {
			return true
		}

		switch {
		case handle == nil:
			// Flag set with no dispatch attached: nothing will ever clear
			// it, so clear it here.
			if st.ForceIdle() {
				m.healed++
				slog.Warn("healed stream with orphaned processing flag",
					"stream", st.ID(), "stuck_for", elapsed)
			}
		case handle.Completed():
			// The dispatch finished but its completion path never ran.
			if st.ForceIdle() {
				m.healed++
				slog.Warn("healed stream with completed but uncleared dispatch",
					"stream", st.ID(), "run", handle.RunID, "stuck_for", elapsed)
			}
		default:
			// Still running past the stale threshold. Diagnose only; the
			// dispatch timeout is the mechanism that ends it.
			slog.Warn("dispatch running past stale threshold",
				"stream", st.ID(),
				"run", handle.RunID,
				"elapsed", elapsed,
				"unread", st.UnreadCount(),
				"buffered", st.BufferedCount(),
			)
		}
		return true
	})
	m.lastRun = now
}

// maybeSweep evicts idle streams when the sweep cron is due.
func (m *Monitor) maybeSweep(now time.Time) {
	set := m.settings()
	if set.SweepCron == "" || set.IdleEvict <= 0 {
		return
	}
	due, err := m.gron.IsDue(set.SweepCron, now)
	if err != nil {
		slog.Warn("invalid sweep cron expression", "cron", set.SweepCron, "error", err)
		return
	}
	if !due {
		return
	}

	// Cron due-ness has minute granularity while the scan period is
	// usually shorter, so one due minute triggers only one sweep.
	minute := now.Truncate(time.Minute)
	if minute.Equal(m.lastSweep) {
		return
	}
	m.lastSweep = minute

	evicted := m.streams.EvictIdle(set.IdleEvict)
	if len(evicted) == 0 {
		return
	}
	m.swept += len(evicted)
	for _, id := range evicted {
		if m.onEvict != nil {
			m.onEvict(id)
		}
	}
	slog.Info("idle streams evicted", "count", len(evicted))
}
