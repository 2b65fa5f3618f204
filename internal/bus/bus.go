package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const publishTimeout = 10 * time.Second

// MessageBus is a Go-channel based bus for in-process routing.
// Safe for concurrent use.
type MessageBus struct {
	inbound chan InboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
	closed      bool
}

// New creates a MessageBus with the given inbound buffer size.
func New(bufferSize int) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MessageBus{
		inbound:     make(chan InboundMessage, bufferSize),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound queues an inbound fragment for the pipeline consumer.
// Blocks up to publishTimeout if the bus is full instead of dropping.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	// Hold the read lock for the whole publish so Close cannot close the
	// channel underneath an in-flight send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn("publish to closed bus dropped", "channel", msg.Channel)
		return
	}

	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
		case <-timer.C:
			slog.Error("inbound message dropped: bus full", "channel", msg.Channel, "sender", msg.SenderID)
		}
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
// The second return is false when the consumer should stop.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-b.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Subscribe registers an event handler under id, replacing any previous one.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers the event to every subscriber. Handlers run on the
// caller's goroutine and must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Close stops accepting inbound messages and closes the consumer channel.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.inbound)
}
