package subscription

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/karavansky/moment-realtime/internal/frame"
)

// DefaultAckTimeout is how long a subscribe may stay unacknowledged before
// the queue advances past it.
const DefaultAckTimeout = 3 * time.Second

// Sender writes one outbound control frame. Backed by the connection
// manager's send contract; no other path touches the socket.
type Sender func(data []byte) error

// Coordinator owns the desired, pending, and confirmed topic sets.
type Coordinator struct {
	logger     *slog.Logger
	send       Sender
	ackTimeout time.Duration

	mu        sync.Mutex
	desired   map[string]int // topic -> subscriber refcount
	pending   []string
	confirmed map[string]struct{}
	inFlight  string
	timer     *time.Timer
	open      bool
	epoch     int // fences timers from earlier handshakes
}

// New creates a Coordinator. ackTimeout <= 0 selects the default.
func New(send Sender, ackTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Coordinator{
		logger:     logger,
		send:       send,
		ackTimeout: ackTimeout,
		desired:    make(map[string]int),
		confirmed:  make(map[string]struct{}),
	}
}

// Subscribe registers one consumer interest in a topic. The first
// subscriber of a topic triggers a subscribe frame immediately when the
// connection is open; later ones only bump the refcount.
func (c *Coordinator) Subscribe(topic string) {
	c.mu.Lock()
	c.desired[topic]++
	first := c.desired[topic] == 1
	open := c.open
	c.mu.Unlock()

	if !first {
		return
	}
	if !open {
		// Seeded into the queue on the next open.
		return
	}

	// Late ad-hoc subscribe, independent of the initial queue. The ack is
	// matched by topic whenever it arrives.
	c.sendSubscribe(topic)
}

// Unsubscribe drops one consumer interest. When the last subscriber of a
// topic leaves, the topic leaves the desired set, any pending entry is
// withdrawn, and a fire-and-forget unsubscribe frame is sent if the
// connection is open.
func (c *Coordinator) Unsubscribe(topic string) {
	c.mu.Lock()
	n, ok := c.desired[topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	if n > 1 {
		c.desired[topic] = n - 1
		c.mu.Unlock()
		return
	}

	delete(c.desired, topic)
	delete(c.confirmed, topic)
	c.pending = removeTopic(c.pending, topic)
	open := c.open
	c.mu.Unlock()

	if !open {
		// Nothing to unwind from a connection that does not exist.
		return
	}

	data, err := frame.EncodeUnsubscribe(topic)
	if err != nil {
		c.logger.Error("encode unsubscribe", "topic", topic, "error", err)
		return
	}
	if err := c.send(data); err != nil {
		c.logger.Debug("unsubscribe send failed", "topic", topic, "error", err)
	}
}

// OnOpen re-establishes the full desired set from scratch. Called by the
// connection manager after every successful open; acknowledgments never
// survive a reconnect.
func (c *Coordinator) OnOpen() {
	c.mu.Lock()
	c.open = true
	c.epoch++
	c.cancelTimerLocked()
	c.inFlight = ""
	c.confirmed = make(map[string]struct{})

	c.pending = c.pending[:0]
	for topic := range c.desired {
		c.pending = append(c.pending, topic)
	}
	sort.Strings(c.pending)
	c.mu.Unlock()

	c.advance()
}

// OnClose halts the handshake. Pending state is discarded; the next open
// re-seeds from the desired set.
func (c *Coordinator) OnClose() {
	c.mu.Lock()
	c.open = false
	c.epoch++
	c.cancelTimerLocked()
	c.inFlight = ""
	c.pending = nil
	c.mu.Unlock()
}

// HandleControl consumes a subscribe/unsubscribe acknowledgment frame.
func (c *Coordinator) HandleControl(f frame.Frame) {
	switch f.Control {
	case frame.ControlSubscribed:
		c.handleAck(f.Topic)
	case frame.ControlUnsubscribed:
		c.logger.Debug("unsubscribed", "topic", f.Topic)
	}
}

// Stop cancels any outstanding timeout timer. Called on context teardown.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.epoch++
	c.cancelTimerLocked()
	c.open = false
	c.mu.Unlock()
}

// Confirmed returns a snapshot of the confirmed topic set.
func (c *Coordinator) Confirmed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.confirmed))
	for t := range c.confirmed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Desired returns a snapshot of the desired topic set.
func (c *Coordinator) Desired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.desired))
	for t := range c.desired {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PendingCount returns the number of topics still queued, including the
// one in flight.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	if c.inFlight != "" {
		n++
	}
	return n
}

func (c *Coordinator) handleAck(topic string) {
	c.mu.Lock()
	if _, want := c.desired[topic]; !want {
		// Stale ack from a subscribe/unsubscribe race; the most recent
		// desired-state transition wins.
		c.mu.Unlock()
		c.logger.Debug("discarding ack for undesired topic", "topic", topic)
		return
	}

	c.confirmed[topic] = struct{}{}

	if c.inFlight != topic {
		// Ack for a late ad-hoc subscribe; the queue is not involved.
		c.mu.Unlock()
		return
	}

	c.inFlight = ""
	c.epoch++
	c.cancelTimerLocked()
	c.mu.Unlock()

	c.advance()
}

// advance sends the subscribe for the next queued topic and arms the
// timeout. Strictly one in flight.
func (c *Coordinator) advance() {
	c.mu.Lock()
	if !c.open || c.inFlight != "" {
		c.mu.Unlock()
		return
	}

	var topic string
	for len(c.pending) > 0 {
		topic = c.pending[0]
		c.pending = c.pending[1:]
		if _, want := c.desired[topic]; want {
			break
		}
		topic = ""
	}
	if topic == "" {
		c.mu.Unlock()
		return
	}

	c.inFlight = topic
	epoch := c.epoch
	c.timer = time.AfterFunc(c.ackTimeout, func() {
		c.onTimeout(epoch, topic)
	})
	c.mu.Unlock()

	c.sendSubscribe(topic)
}

// onTimeout abandons an unacknowledged subscribe and moves on. The topic
// stays sent-but-unconfirmed; it is not retried.
func (c *Coordinator) onTimeout(epoch int, topic string) {
	c.mu.Lock()
	if epoch != c.epoch || c.inFlight != topic {
		c.mu.Unlock()
		return
	}
	c.inFlight = ""
	c.timer = nil
	c.mu.Unlock()

	c.logger.Warn("subscribe not acknowledged, advancing",
		"topic", topic,
		"timeout", c.ackTimeout,
	)
	c.advance()
}

func (c *Coordinator) sendSubscribe(topic string) {
	data, err := frame.EncodeSubscribe(topic)
	if err != nil {
		c.logger.Error("encode subscribe", "topic", topic, "error", err)
		return
	}
	if err := c.send(data); err != nil {
		c.logger.Debug("subscribe send failed", "topic", topic, "error", err)
	}
}

func (c *Coordinator) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func removeTopic(list []string, topic string) []string {
	out := list[:0]
	for _, t := range list {
		if t != topic {
			out = append(out, t)
		}
	}
	return out
}
