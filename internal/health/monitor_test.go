package health

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/stream"
)

func fixedSettings(s Settings) SettingsFunc {
	return func() Settings { return s }
}

func TestCheckOnceHealsOrphanedFlag(t *testing.T) {
	streams := stream.NewRegistry(10)
	st := streams.GetOrCreate("s1")
	st.BeginProcessing("u1", nil)

	m := NewMonitor(streams, fixedSettings(Settings{StaleAfter: time.Second}), nil)
	m.checkOnce(time.Now().Add(time.Hour))

	processing, _, _ := st.Processing()
	if processing {
		t.Error("orphaned processing flag not cleared")
	}
	if m.healed != 1 {
		t.Errorf("healed = %d, want 1", m.healed)
	}
}

func TestCheckOnceHealsCompletedDispatch(t *testing.T) {
	streams := stream.NewRegistry(10)
	st := streams.GetOrCreate("s1")
	h := stream.NewDispatchHandle("r1")
	st.BeginProcessing("u1", h)
	h.Finish()

	m := NewMonitor(streams, fixedSettings(Settings{StaleAfter: time.Second}), nil)
	m.checkOnce(time.Now().Add(time.Hour))

	processing, _, _ := st.Processing()
	if processing {
		t.Error("completed-but-uncleared dispatch not healed")
	}
}

func TestCheckOnceLeavesLiveDispatchAlone(t *testing.T) {
	streams := stream.NewRegistry(10)
	st := streams.GetOrCreate("s1")
	st.BeginProcessing("u1", stream.NewDispatchHandle("r1"))

	m := NewMonitor(streams, fixedSettings(Settings{StaleAfter: time.Second}), nil)
	m.checkOnce(time.Now().Add(time.Hour))

	processing, _, _ := st.Processing()
	if !processing {
		t.Error("live dispatch was force-cleared")
	}
	if m.healed != 0 {
		t.Errorf("healed = %d, want 0", m.healed)
	}
}

func TestCheckOnceIgnoresFreshDispatch(t *testing.T) {
	streams := stream.NewRegistry(10)
	st := streams.GetOrCreate("s1")
	st.BeginProcessing("u1", nil)

	m := NewMonitor(streams, fixedSettings(Settings{StaleAfter: time.Hour}), nil)
	m.checkOnce(time.Now())

	processing, _, _ := st.Processing()
	if !processing {
		t.Error("dispatch below the stale threshold was cleared")
	}
}

func TestMaybeSweepEvictsIdleStreams(t *testing.T) {
	streams := stream.NewRegistry(10)
	streams.GetOrCreate("idle")
	busy := streams.GetOrCreate("busy")
	busy.Ingest(bus.Message{ID: "m1", StreamID: "busy", SenderID: "u1", Content: "x", Timestamp: time.Now()})

	var evicted []string
	m := NewMonitor(streams, fixedSettings(Settings{
		SweepCron: "* * * * *",
		IdleEvict: time.Nanosecond,
	}), func(id string) { evicted = append(evicted, id) })

	time.Sleep(5 * time.Millisecond)
	m.maybeSweep(time.Now())

	if len(evicted) != 1 || evicted[0] != "idle" {
		t.Fatalf("evicted = %v, want [idle]", evicted)
	}
	if _, ok := streams.Get("busy"); !ok {
		t.Error("stream with pending work was swept")
	}
}

func TestMaybeSweepOncePerMinute(t *testing.T) {
	streams := stream.NewRegistry(10)
	streams.GetOrCreate("first")

	var evictions int
	m := NewMonitor(streams, fixedSettings(Settings{
		SweepCron: "* * * * *",
		IdleEvict: time.Nanosecond,
	}), func(string) { evictions++ })

	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	time.Sleep(5 * time.Millisecond)
	m.maybeSweep(base)
	if evictions != 1 {
		t.Fatalf("evictions after first sweep = %d, want 1", evictions)
	}

	// A second scan tick lands in the same due minute and must not sweep.
	streams.GetOrCreate("second")
	time.Sleep(5 * time.Millisecond)
	m.maybeSweep(base.Add(30 * time.Second))
	if evictions != 1 {
		t.Errorf("second tick in the same minute swept again, evictions = %d", evictions)
	}

	m.maybeSweep(base.Add(time.Minute))
	if evictions != 2 {
		t.Errorf("evictions after the next minute = %d, want 2", evictions)
	}
}

func TestMaybeSweepInvalidCron(t *testing.T) {
	streams := stream.NewRegistry(10)
	streams.GetOrCreate("idle")

	m := NewMonitor(streams, fixedSettings(Settings{
		SweepCron: "not a cron",
		IdleEvict: time.Nanosecond,
	}), nil)
	m.maybeSweep(time.Now())

	if streams.Len() != 1 {
		t.Error("invalid cron expression still swept streams")
	}
}
