package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karavansky/moment-realtime/internal/frame"
	"github.com/karavansky/moment-realtime/internal/identity"
)

// CredentialSource supplies the current persisted identity. It is read
// once per connection attempt; a false return means no usable credentials
// exist and Connect becomes a logged no-op.
type CredentialSource func() (identity.Credentials, bool)

// URLProvider builds the stream URL for a session token.
type URLProvider func(token string) string

// Handlers are the manager's collaborator callbacks. All of them are
// invoked from the manager's own goroutines, never while its lock is held.
type Handlers struct {
	// OnOpen fires after every successful open. The subscription
	// coordinator re-establishes the desired topic set from scratch here;
	// acks are not assumed to survive a reconnect.
	OnOpen func()

	// OnControl receives subscribe/unsubscribe acknowledgment frames.
	OnControl func(frame.Frame)

	// OnEvent receives classified domain events.
	OnEvent func(frame.DomainEvent)

	// OnStateChange observes lifecycle transitions.
	OnStateChange func(State)

	// OnTerminated fires exactly once when the server closes with the
	// policy violation code, after local identity has been purged.
	OnTerminated func()
}

// Manager owns the socket and the connection state machine. Exactly one
// non-closed socket exists per Manager at any time.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	creds    CredentialSource
	urlFor   URLProvider
	ids      *identity.Store
	handlers Handlers

	// newClient allows tests to substitute the socket.
	newClient func(ClientConfig, *slog.Logger) Client

	// notify carries observer callbacks to a single delivery goroutine so
	// state changes and OnOpen arrive in transition order, one at a time.
	notify chan func()

	mu          sync.Mutex
	state       State
	client      Client
	activeToken string
	attempt     int
	retryTimer  *time.Timer
	tornDown    bool
	gen         int // connection generation, fences stale loops and timers
}

// NewManager creates a Manager. ids may be nil when there is no persisted
// identity file to purge on forced termination.
func NewManager(cfg ManagerConfig, creds CredentialSource, urlFor URLProvider, ids *identity.Store, handlers Handlers, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay == 0 {
		cfg.ReconnectBaseDelay = DefaultManagerConfig().ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = DefaultManagerConfig().ReconnectMaxDelay
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultManagerConfig().BufferSize
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultManagerConfig().PingTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultManagerConfig().WriteTimeout
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		creds:     creds,
		urlFor:    urlFor,
		ids:       ids,
		handlers:  handlers,
		newClient: NewClient,
		notify:    make(chan func(), 64),
	}
	go m.notifyLoop()
	return m
}

// notifyLoop delivers observer callbacks one at a time, in the order the
// transitions happened. It exits when Close drains the queue.
func (m *Manager) notifyLoop() {
	for f := range m.notify {
		f()
	}
}

// enqueueLocked queues one observer callback. Every transition happens
// under m.mu, so queue order matches transition order. Blocking here could
// deadlock against a callback that re-enters the manager, so an
// overflowing callback is dropped with a warning instead.
func (m *Manager) enqueueLocked(f func()) {
	select {
	case m.notify <- f:
	default:
		m.logger.Warn("notification queue full, dropping callback")
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the link is open.
func (m *Manager) Connected() bool {
	return m.State() == Open
}

// ManagerStats provides a snapshot of the manager's retry bookkeeping.
type ManagerStats struct {
	State        State
	Attempt      int
	RetryPending bool
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:        m.state,
		Attempt:      m.attempt,
		RetryPending: m.retryTimer != nil,
	}
}

// Connect opens the socket if it is not already connecting or open. It
// never blocks and never returns an error: missing credentials, teardown,
// and termination are all logged no-ops, and the caller is expected to
// call again when conditions change.
func (m *Manager) Connect() {
	m.mu.Lock()

	if m.tornDown || m.state == Terminated {
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", m.State())
		return
	}
	if m.state == Connecting {
		m.mu.Unlock()
		return
	}

	creds, ok := m.creds()
	if !ok || !creds.Valid(time.Now()) {
		m.mu.Unlock()
		m.logger.Info("connect skipped, no valid credentials")
		return
	}

	if m.state == Open {
		if m.activeToken == creds.Token {
			m.mu.Unlock()
			return
		}
		// Identity changed under an open connection: the old link must
		// not outlive its credentials.
		m.logger.Info("credentials changed, replacing connection")
		old := m.client
		m.client = nil
		m.gen++
		m.mu.Unlock()
		if old != nil {
			old.Close()
		}
		m.mu.Lock()
		if m.tornDown {
			m.mu.Unlock()
			return
		}
	}

	m.cancelRetryLocked()
	m.gen++
	gen := m.gen
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	go m.dial(gen, creds)
}

// Close marks the manager as torn down, cancels any pending reconnect
// timer, and closes the socket. Idempotent; Connect after Close never
// resurrects the connection.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	m.gen++
	m.cancelRetryLocked()
	cl := m.client
	m.client = nil
	if m.state != Terminated {
		m.setStateLocked(Closing)
	}
	m.mu.Unlock()

	if cl != nil {
		cl.Close()
	}

	m.mu.Lock()
	if m.state == Closing {
		m.setStateLocked(Disconnected)
	}
	// No enqueue path survives teardown: Connect, dial, and handleClose
	// all bail on tornDown or a stale generation before transitioning.
	close(m.notify)
	m.mu.Unlock()
}

// Send writes an outbound frame. All non-manager traffic (subscription
// control frames) flows through here; nothing else touches the socket.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	cl := m.client
	st := m.state
	torn := m.tornDown
	m.mu.Unlock()

	if torn {
		return ErrTornDown
	}
	if st != Open || cl == nil {
		return ErrNotConnected
	}
	return cl.Send(data)
}

// dial performs one connection attempt.
func (m *Manager) dial(gen int, creds identity.Credentials) {
	cl := m.newClient(ClientConfig{
		URL:          m.urlFor(creds.Token),
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger)

	if err := cl.Connect(context.Background()); err != nil {
		m.logger.Warn("connection attempt failed", "error", err)
		cl.Close()
		m.handleClose(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.tornDown {
		m.mu.Unlock()
		cl.Close()
		return
	}
	m.client = cl
	m.activeToken = creds.Token
	m.attempt = 0
	m.cancelRetryLocked()
	m.setStateLocked(Open)
	if m.handlers.OnOpen != nil {
		// Queued after the Open notification and after any straggling
		// close notification, so the coordinator can never have its
		// freshly seeded queue discarded by a stale state callback.
		m.enqueueLocked(m.handlers.OnOpen)
	}
	m.mu.Unlock()

	m.frameLoop(gen, cl)
}

// frameLoop consumes inbound frames until the connection dies.
func (m *Manager) frameLoop(gen int, cl Client) {
	for {
		select {
		case err := <-cl.Errors():
			m.handleClose(gen, err)
			return

		case msg, ok := <-cl.Messages():
			if !ok {
				m.handleClose(gen, ErrNotConnected)
				return
			}
			m.handleFrame(msg.Data)
		}
	}
}

// handleFrame classifies one inbound frame and routes it.
func (m *Manager) handleFrame(raw []byte) {
	f := frame.Classify(raw)

	switch f.Class {
	case frame.ClassKeepalive:
		// Normally answered inside the client read loop; answering here
		// too keeps the contract if a probe slips through.
		if err := m.Send(frame.PongPayload); err != nil {
			m.logger.Debug("failed to answer keepalive", "error", err)
		}

	case frame.ClassKeepaliveReply:
		// Reply to our own probe, nothing to do.

	case frame.ClassControl:
		if f.Control == frame.ControlPing {
			if err := m.Send(frame.PongPayload); err != nil {
				m.logger.Debug("failed to answer legacy ping", "error", err)
			}
			return
		}
		if m.handlers.OnControl != nil {
			m.handlers.OnControl(f)
		}

	case frame.ClassDomain:
		if m.handlers.OnEvent != nil && f.Event != nil {
			m.handlers.OnEvent(*f.Event)
		}

	case frame.ClassMalformed:
		// Known server bug, dropped without noise.

	case frame.ClassUnknown:
		m.logger.Warn("unrecognized frame, dropping", "size", len(raw))
	}
}

// handleClose runs the close path for one connection generation: either
// the terminal policy-violation transition or a scheduled backoff retry.
func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.tornDown {
		m.mu.Unlock()
		return
	}

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	if IsPolicyViolation(err) {
		m.gen++
		m.setStateLocked(Terminated)
		m.mu.Unlock()

		m.logger.Warn("server terminated session", "error", err)
		if m.ids != nil {
			if cerr := m.ids.Clear(); cerr != nil {
				m.logger.Error("failed to clear identity", "error", cerr)
			}
		}
		if m.handlers.OnTerminated != nil {
			m.handlers.OnTerminated()
		}
		return
	}

	m.setStateLocked(Disconnected)
	delay := m.backoffDelayLocked()
	m.attempt++
	m.scheduleRetryLocked(delay)
	m.mu.Unlock()

	m.logger.Info("connection closed, retry scheduled",
		"error", err,
		"attempt", m.attempt,
		"delay", delay,
	)
}

// backoffDelayLocked computes min(base * 2^attempt, max).
func (m *Manager) backoffDelayLocked() time.Duration {
	delay := m.cfg.ReconnectBaseDelay << uint(m.attempt)
	if delay > m.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = m.cfg.ReconnectMaxDelay
	}
	return delay
}

// scheduleRetryLocked arms the reconnect timer. An outstanding timer is
// cancelled first so two can never coexist.
func (m *Manager) scheduleRetryLocked(delay time.Duration) {
	m.cancelRetryLocked()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		m.mu.Unlock()
		m.Connect()
	})
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// setStateLocked transitions state and queues the observer notification.
// The callback runs on the delivery goroutine, never under the lock.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.handlers.OnStateChange != nil {
		m.enqueueLocked(func() { m.handlers.OnStateChange(s) })
	}
}
