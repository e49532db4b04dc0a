package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeOrder(t *testing.T) {
	b := NewMessageBus(8)
	for _, id := range []string{"m1", "m2", "m3"} {
		if !b.PublishInbound(Message{ID: id, StreamID: "s1"}) {
			t.Fatalf("publish %s failed", id)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"m1", "m2", "m3"} {
		msg, ok := b.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("consume returned false with buffered messages")
		}
		if msg.ID != want {
			t.Errorf("got %s, want %s", msg.ID, want)
		}
	}
}

func TestConsumeDrainsAfterClose(t *testing.T) {
	b := NewMessageBus(8)
	b.PublishInbound(Message{ID: "m1", StreamID: "s1"})
	b.Close()

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok || msg.ID != "m1" {
		t.Fatalf("buffered message lost on close: ok=%v msg=%v", ok, msg.ID)
	}
	if _, ok := b.ConsumeInbound(context.Background()); ok {
		t.Error("consume after drain returned true")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := NewMessageBus(8)
	b.Close()
	b.Close() // idempotent
	if b.PublishInbound(Message{ID: "m1"}) {
		t.Error("publish after close returned true")
	}
}

func TestConsumeRespectsContext(t *testing.T) {
	b := NewMessageBus(8)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("consume returned true on context timeout")
	}
}

func TestSubstantive(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"text", Message{Content: "hello"}, true},
		{"blank", Message{Content: "   "}, false},
		{"empty", Message{}, false},
		{"media only", Message{Content: "caption", MediaOnly: true}, false},
	}
	for _, tt := range tests {
		if got := tt.msg.Substantive(); got != tt.want {
			t.Errorf("%s: Substantive() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInterestOrDefault(t *testing.T) {
	v := 0.8
	if got := (Message{Interest: &v}).InterestOrDefault(0.3); got != 0.8 {
		t.Errorf("got %v, want 0.8", got)
	}
	if got := (Message{}).InterestOrDefault(0.3); got != 0.3 {
		t.Errorf("got %v, want default 0.3", got)
	}
}
