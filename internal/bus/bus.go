package bus

import (
	"context"
	"sync"
)

// MessageBus routes normalized inbound messages from transport adapters to
// the dispatch engine. Publishing and consuming are safe from any
// goroutine; ordering is preserved per publisher.
type MessageBus struct {
	inbound chan Message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMessageBus creates a bus with the given inbound buffer size.
func NewMessageBus(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &MessageBus{
		inbound: make(chan Message, buffer),
		closed:  make(chan struct{}),
	}
}

// PublishInbound delivers a message to the consumer. Blocks while the
// buffer is full; returns false after Close.
func (b *MessageBus) PublishInbound(msg Message) bool {
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.inbound <- msg:
		return true
	case <-b.closed:
		return false
	}
}

// ConsumeInbound blocks until a message is available. The second return is
// false when the context is done or the bus is closed.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (Message, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return Message{}, false
	case <-b.closed:
		// Drain what is already buffered before reporting closed.
		select {
		case msg := <-b.inbound:
			return msg, true
		default:
			return Message{}, false
		}
	}
}

// Close stops the bus. Safe to call more than once.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
