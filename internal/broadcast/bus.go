package broadcast

import (
	"context"
	"sync"
)

// LocalBus is a fan-out, best-effort, unordered IPC bus scoped to one
// client identity. It carries no acknowledgment and may silently drop
// messages when no sibling context is listening.
type LocalBus interface {
	// Publish sends one payload to every other listening context.
	Publish(ctx context.Context, data []byte) error

	// Subscribe registers a handler for inbound payloads. The returned
	// cancel function unregisters it.
	Subscribe(handler func(data []byte)) (cancel func(), err error)

	// Close releases the bus handle.
	Close() error
}

// MemBus is an in-process LocalBus for single-context hosts and tests.
// Contexts sharing one MemBus see each other's publishes, including their
// own; the broadcaster filters out self-delivery by origin.
type MemBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func([]byte)
	closed bool
}

// NewMemBus creates an in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[int]func([]byte))}
}

// Publish delivers synchronously to every subscriber.
func (b *MemBus) Publish(_ context.Context, data []byte) error {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe registers a handler.
func (b *MemBus) Subscribe(handler func(data []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}, nil
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = handler

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Close drops all subscribers.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func([]byte))
	return nil
}
