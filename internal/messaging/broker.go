package messaging

import (
	"context"
	"sync"
)

// Handler consumes one raw message from a topic.
type Handler func(ctx context.Context, body []byte)

// Broker is the fire-and-forget message transport between services. Publish
// does not wait for consumers; delivery is at-least-once from the consumer's
// point of view, so handlers must tolerate duplicates.
type Broker interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// memoryBroker delivers messages synchronously to in-process subscribers.
// Used for tests and single-process runs.
type memoryBroker struct {
	mu        sync.RWMutex
	listeners map[string][]Handler
	closed    bool
}

// NewMemoryBroker creates an in-process broker instance.
func NewMemoryBroker() Broker {
	return &memoryBroker{listeners: make(map[string][]Handler)}
}

func (b *memoryBroker) Publish(ctx context.Context, topic string, body []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := append([]Handler{}, b.listeners[topic]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, body)
	}
	return nil
}

func (b *memoryBroker) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.listeners[topic] = append(b.listeners[topic], handler)
	return nil
}

func (b *memoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[string][]Handler)
	return nil
}
