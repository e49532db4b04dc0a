package stream

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

func msg(id, sender, content string) bus.Message {
	return bus.Message{
		ID:        id,
		StreamID:  "s1",
		SenderID:  sender,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestIngestFreezesKind(t *testing.T) {
	st := NewState("s1", 10)

	first := msg("m1", "u1", "hi")
	first.PeerKind = bus.PeerGroup
	st.Ingest(first)

	if st.Kind() != KindGroup {
		t.Fatalf("kind = %q, want %q", st.Kind(), KindGroup)
	}

	second := msg("m2", "u1", "again")
	second.PeerKind = bus.PeerDirect
	st.Ingest(second)

	if st.Kind() != KindGroup {
		t.Errorf("kind changed after first message: %q", st.Kind())
	}
}

func TestIngestDefaultsToDirect(t *testing.T) {
	st := NewState("s1", 10)
	st.Ingest(msg("m1", "u1", "hi"))
	if st.Kind() != KindDirect {
		t.Errorf("kind = %q, want %q", st.Kind(), KindDirect)
	}
}

func TestBufferWhileProcessing(t *testing.T) {
	st := NewState("s1", 10)
	st.Ingest(msg("m1", "u1", "first"))

	h := NewDispatchHandle("run1")
	if !st.BeginProcessing("u1", h) {
		t.Fatal("BeginProcessing returned false on idle stream")
	}

	st.Ingest(msg("m2", "u1", "second"))
	st.Ingest(msg("m3", "u2", "third"))

	if st.UnreadCount() != 1 {
		t.Errorf("unread = %d during dispatch, want 1", st.UnreadCount())
	}
	if st.BufferedCount() != 2 {
		t.Errorf("buffered = %d during dispatch, want 2", st.BufferedCount())
	}

	st.IncInterruptions()
	st.EndProcessing()

	unread := st.UnreadSnapshot()
	if len(unread) != 3 {
		t.Fatalf("unread = %d after flush, want 3", len(unread))
	}
	if unread[0].ID != "m1" || unread[1].ID != "m2" || unread[2].ID != "m3" {
		t.Errorf("flush broke arrival order: %v %v %v", unread[0].ID, unread[1].ID, unread[2].ID)
	}
	if st.BufferedCount() != 0 {
		t.Errorf("buffered = %d after flush, want 0", st.BufferedCount())
	}
	if st.Interruptions() != 0 {
		t.Errorf("interruptions = %d after dispatch, want 0", st.Interruptions())
	}
}

func TestBeginProcessingExclusive(t *testing.T) {
	st := NewState("s1", 10)
	if !st.BeginProcessing("u1", NewDispatchHandle("r1")) {
		t.Fatal("first BeginProcessing failed")
	}
	if st.BeginProcessing("u1", NewDispatchHandle("r2")) {
		t.Error("second BeginProcessing succeeded while busy")
	}
}

func TestMarkReadTrimsHistory(t *testing.T) {
	st := NewState("s1", 3)
	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, id := range ids {
		st.Ingest(msg(id, "u1", "x"))
	}

	moved := st.MarkRead(ids)
	if moved != 5 {
		t.Fatalf("moved = %d, want 5", moved)
	}
	if st.UnreadCount() != 0 {
		t.Errorf("unread = %d after MarkRead, want 0", st.UnreadCount())
	}

	hist := st.HistorySnapshot()
	if len(hist) != 3 {
		t.Fatalf("history = %d, want capacity 3", len(hist))
	}
	if hist[0].ID != "m3" || hist[2].ID != "m5" {
		t.Errorf("history kept wrong tail: %v .. %v", hist[0].ID, hist[2].ID)
	}
}

func TestMarkReadPartial(t *testing.T) {
	st := NewState("s1", 10)
	st.Ingest(msg("m1", "u1", "a"))
	st.Ingest(msg("m2", "u1", "b"))

	moved := st.MarkRead([]string{"m1"})
	if moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	if st.UnreadCount() != 1 {
		t.Errorf("unread = %d, want 1", st.UnreadCount())
	}
	if got, _ := st.NewestUnread(); got.ID != "m2" {
		t.Errorf("remaining unread = %q, want m2", got.ID)
	}
}

func TestForceIdle(t *testing.T) {
	st := NewState("s1", 10)
	if st.ForceIdle() {
		t.Error("ForceIdle on idle stream returned true")
	}

	st.BeginProcessing("u1", nil)
	st.Ingest(msg("m1", "u1", "buffered while stuck"))

	if !st.ForceIdle() {
		t.Fatal("ForceIdle on stuck stream returned false")
	}
	processing, _, _ := st.Processing()
	if processing {
		t.Error("still processing after ForceIdle")
	}
	if st.UnreadCount() != 1 {
		t.Errorf("buffer not flushed by ForceIdle, unread = %d", st.UnreadCount())
	}
}

func TestRecentForScoring(t *testing.T) {
	st := NewState("s1", 10)
	for _, id := range []string{"m1", "m2", "m3"} {
		st.Ingest(msg(id, "u1", "x"))
	}
	st.MarkRead([]string{"m1", "m2"})
	st.Ingest(msg("m4", "u1", "x"))

	got := st.RecentForScoring(3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// History tail then unread, capped to the most recent.
	if got[0].ID != "m2" || got[1].ID != "m3" || got[2].ID != "m4" {
		t.Errorf("order = %v %v %v, want m2 m3 m4", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestDispatchHandle(t *testing.T) {
	h := NewDispatchHandle("r1")
	if h.Completed() {
		t.Error("fresh handle reports completed")
	}
	h.Finish()
	h.Finish() // idempotent
	if !h.Completed() {
		t.Error("finished handle reports not completed")
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done channel not closed after Finish")
	}
}
