package realtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karavansky/moment-realtime/internal/api"
	"github.com/karavansky/moment-realtime/internal/broadcast"
	"github.com/karavansky/moment-realtime/internal/config"
	"github.com/karavansky/moment-realtime/internal/connection"
	"github.com/karavansky/moment-realtime/internal/frame"
	"github.com/karavansky/moment-realtime/internal/history"
	"github.com/karavansky/moment-realtime/internal/identity"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.BaseURL = "http://localhost:0"
	cfg.API.WSBaseURL = "ws://localhost:0"
	cfg.API.Timeout = time.Second
	cfg.History.Disabled = true
	cfg.Connection.ReconnectBaseDelay = time.Second
	cfg.Connection.ReconnectMaxDelay = 30 * time.Second
	cfg.Connection.PingTimeout = 60 * time.Second
	cfg.Connection.WriteTimeout = 5 * time.Second
	cfg.Connection.BufferSize = 16
	cfg.Subscription.AckTimeout = time.Second
	return cfg
}

// newTestService builds a Service for one logical browser context. The
// socket is never dialed; tests feed events through the same handlers the
// connection manager invokes.
func newTestService(t *testing.T, bus broadcast.LocalBus, self string) *Service {
	t.Helper()

	ids := identity.NewStore(filepath.Join(t.TempDir(), "identity.json"))
	require.NoError(t, ids.Save(identity.Credentials{Token: "session-token", Identity: self}))

	s := NewService(testConfig(), ids, bus, nil)
	require.NoError(t, s.bcast.Start())
	t.Cleanup(func() {
		s.mgr.Close()
		s.bcast.Close()
		s.disp.Close()
		s.coord.Stop()
	})
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func chatEvent(author, content string) frame.DomainEvent {
	return frame.DomainEvent{
		Kind:      frame.EventMessageReceived,
		Subject:   author,
		Payload:   content,
		ChatKind:  frame.ChatMessage,
		Timestamp: time.Unix(1767000000, 0).UTC(),
	}
}

func TestSocketEventStoredAndRelayedToSibling(t *testing.T) {
	bus := broadcast.NewMemBus()

	// Two contexts of the same logged-in identity.
	a := newTestService(t, bus, "alice")
	b := newTestService(t, bus, "alice")

	a.onSocketEvent(chatEvent("alice", "hello from the other tab"))

	aMsgs := a.Messages()
	bMsgs := b.Messages()
	require.Len(t, aMsgs, 1)
	require.Len(t, bMsgs, 1)

	// The sibling stores the identical message identity, so a duplicate
	// relay de-duplicates instead of doubling.
	assert.Equal(t, aMsgs[0].ID, bMsgs[0].ID)
	assert.Equal(t, "hello from the other tab", bMsgs[0].Content)
	assert.True(t, aMsgs[0].IsOwn)
	assert.True(t, bMsgs[0].IsOwn, "ownership flag must survive the relay")
}

func TestRelayedEventIndistinguishableForConsumers(t *testing.T) {
	bus := broadcast.NewMemBus()

	a := newTestService(t, bus, "alice")
	b := newTestService(t, bus, "alice")

	got, cancel := b.Events(frame.EventMessageReceived)
	defer cancel()

	ev := chatEvent("bob", "direct or relayed, same shape")
	a.onSocketEvent(ev)

	select {
	case relayed := <-got:
		assert.Equal(t, "bob", relayed.Subject)
		assert.Equal(t, ev.Payload, relayed.Payload)
		assert.False(t, relayed.IsOwn)
	default:
		t.Fatal("sibling consumer received nothing")
	}
}

func TestRelayDoesNotRepublish(t *testing.T) {
	bus := broadcast.NewMemBus()

	a := newTestService(t, bus, "alice")
	b := newTestService(t, bus, "alice")
	c := newTestService(t, bus, "alice")

	a.onSocketEvent(chatEvent("alice", "once"))

	// If a receiving context re-published, the MemBus being synchronous
	// would have delivered a second copy before this point.
	assert.Len(t, b.Messages(), 1)
	assert.Len(t, c.Messages(), 1)
}

func TestConnectionStateStaysLocal(t *testing.T) {
	bus := broadcast.NewMemBus()

	a := newTestService(t, bus, "alice")
	b := newTestService(t, bus, "alice")

	local, cancelLocal := a.Events(frame.EventConnectionState)
	defer cancelLocal()
	remote, cancelRemote := b.Events(frame.EventConnectionState)
	defer cancelRemote()

	a.onStateChange(connection.Open)

	select {
	case ev := <-local:
		assert.Equal(t, connection.Open.String(), ev.Payload)
	default:
		t.Fatal("local consumer missed the state change")
	}

	select {
	case ev := <-remote:
		t.Fatalf("connection state leaked across contexts: %+v", ev)
	default:
	}
}

func TestGaugeEventsDispatchedNotStored(t *testing.T) {
	bus := broadcast.NewMemBus()

	a := newTestService(t, bus, "alice")
	b := newTestService(t, bus, "alice")

	gauges, cancel := b.Events(frame.EventGaugeChanged)
	defer cancel()

	a.onSocketEvent(frame.DomainEvent{
		Kind:      frame.EventGaugeChanged,
		Payload:   "42.5",
		Timestamp: time.Now(),
	})

	require.Len(t, gauges, 1, "gauge must relay to the sibling")
	assert.Empty(t, a.Messages(), "gauges are transient, never persisted")
	assert.Empty(t, b.Messages())
}

func TestOwnershipMarkedOnDirectPath(t *testing.T) {
	bus := broadcast.NewMemBus()
	a := newTestService(t, bus, "alice")

	a.onSocketEvent(chatEvent("carol", "not mine"))
	a.onSocketEvent(chatEvent("alice", "mine"))

	msgs := a.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsOwn)
	assert.True(t, msgs[1].IsOwn)
}

func TestConnectDefersUntilHistoryGateResolves(t *testing.T) {
	bus := broadcast.NewMemBus()
	s := newTestService(t, bus, "alice")

	// Replace the disabled gate with one whose backlog fetch is stuck.
	release := make(chan struct{})
	s.gate = history.NewGate(func(ctx context.Context) ([]api.HistoryMessage, error) {
		<-release
		return nil, nil
	}, s.msgs, "alice", true, nil)
	go s.gate.Run(context.Background())

	s.Connect()

	// The dial must not start while the backlog load is in flight.
	time.Sleep(50 * time.Millisecond)
	require.False(t, s.gate.Done())
	assert.Equal(t, connection.Disconnected, s.State(), "socket opened before the backlog gate resolved")

	close(release)

	// Once the gate resolves the deferred connect fires. The dial target
	// is unreachable, so reaching Connecting or a recorded attempt both
	// prove the manager was engaged.
	waitFor(t, func() bool {
		st := s.mgr.Stats()
		return st.State == connection.Connecting || st.Attempt > 0
	}, "deferred connect never fired after gate resolution")
}

func TestHistoryReadyResolvesWhenDisabled(t *testing.T) {
	bus := broadcast.NewMemBus()
	s := newTestService(t, bus, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.gate.Run(ctx)

	select {
	case <-s.HistoryReady():
	case <-time.After(time.Second):
		t.Fatal("disabled history gate never resolved")
	}
}
