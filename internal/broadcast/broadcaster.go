package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/karavansky/moment-realtime/internal/frame"
)

// Envelope is the wire shape carried on the bus. MessageID travels with
// chat events so sibling contexts store the identical identity and
// duplicate deliveries de-duplicate naturally.
type Envelope struct {
	Origin    string            `json:"origin"` // publishing context, skipped on receipt
	MessageID string            `json:"messageId,omitempty"`
	Event     frame.DomainEvent `json:"event"`
}

// broadcastable reports whether an event kind is mirrored to siblings.
func broadcastable(kind frame.EventKind) bool {
	switch kind {
	case frame.EventPresenceChanged, frame.EventGaugeChanged, frame.EventMessageReceived:
		return true
	}
	return false
}

// Broadcaster relays classified events to and from sibling contexts. It
// owns no state; only the socket-owning delivery path publishes, and the
// bus-listening path only dispatches locally, so no relay loop can form.
type Broadcaster struct {
	bus       LocalBus
	deliver   func(Envelope)
	contextID string
	logger    *slog.Logger
	cancel    func()
}

// New creates a Broadcaster. deliver is invoked for every envelope
// received from a sibling context; it must be the same local path used
// for directly received frames.
func New(bus LocalBus, deliver func(Envelope), logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		bus:       bus,
		deliver:   deliver,
		contextID: uuid.NewString(),
		logger:    logger,
	}
}

// Start subscribes to the bus.
func (b *Broadcaster) Start() error {
	cancel, err := b.bus.Subscribe(b.onBusMessage)
	if err != nil {
		return err
	}
	b.cancel = cancel
	return nil
}

// Publish mirrors one locally dispatched event to sibling contexts.
// Non-broadcastable kinds and bus failures are silently tolerated; the
// relay is a best-effort optimization, not a correctness requirement.
func (b *Broadcaster) Publish(ev frame.DomainEvent, messageID string) {
	if !broadcastable(ev.Kind) {
		return
	}

	data, err := json.Marshal(Envelope{
		Origin:    b.contextID,
		MessageID: messageID,
		Event:     ev,
	})
	if err != nil {
		b.logger.Error("encode broadcast envelope", "error", err)
		return
	}
	if err := b.bus.Publish(context.Background(), data); err != nil {
		b.logger.Debug("broadcast publish failed", "error", err)
	}
}

// Close detaches from the bus and releases its handle.
func (b *Broadcaster) Close() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if err := b.bus.Close(); err != nil {
		b.logger.Debug("bus close", "error", err)
	}
}

func (b *Broadcaster) onBusMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("dropping malformed broadcast envelope", "error", err)
		return
	}
	if env.Origin == b.contextID {
		return
	}
	if !broadcastable(env.Event.Kind) {
		return
	}
	b.deliver(env)
}
