// Package dispatch provides the typed event-emission point consumed by UI
// surfaces. Consumers subscribe by event kind and receive events on a
// buffered channel; delivery is best-effort and never blocks the emitter.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/karavansky/moment-realtime/internal/frame"
)

// DefaultBuffer is the per-subscriber channel buffer size.
const DefaultBuffer = 64

// Dispatcher fans classified events out to registered consumers.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[frame.EventKind]map[int]chan frame.DomainEvent
	closed bool
}

// New creates a Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[frame.EventKind]map[int]chan frame.DomainEvent),
	}
}

// Subscribe registers a consumer for one event kind. The returned cancel
// function unregisters and closes the channel; it is safe to call more
// than once.
func (d *Dispatcher) Subscribe(kind frame.EventKind) (<-chan frame.DomainEvent, func()) {
	ch := make(chan frame.DomainEvent, DefaultBuffer)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	d.nextID++
	id := d.nextID
	if d.subs[kind] == nil {
		d.subs[kind] = make(map[int]chan frame.DomainEvent)
	}
	d.subs[kind][id] = ch
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			if m := d.subs[kind]; m != nil {
				if _, ok := m[id]; ok {
					delete(m, id)
					close(ch)
				}
			}
			d.mu.Unlock()
		})
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber of its kind. Slow consumers
// are skipped, not waited on.
func (d *Dispatcher) Emit(ev frame.DomainEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	for _, ch := range d.subs[ev.Kind] {
		select {
		case ch <- ev:
		default:
			d.logger.Warn("dispatch buffer full, dropping event",
				"kind", ev.Kind,
				"subject", ev.Subject,
			)
		}
	}
}

// Close unregisters all consumers and closes their channels. Emit after
// Close is a no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for _, m := range d.subs {
		for id, ch := range m {
			delete(m, id)
			close(ch)
		}
	}
}
