// Package history implements the one-shot backlog gate. The gate must
// reach ready before the connection manager is allowed to open the socket,
// so replayed history is never interleaved with live events. It fails
// open: a disabled or broken history endpoint never blocks live
// connectivity.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karavansky/moment-realtime/internal/api"
	"github.com/karavansky/moment-realtime/internal/frame"
	"github.com/karavansky/moment-realtime/internal/store"
)

// Fetch retrieves the ordered backlog.
type Fetch func(ctx context.Context) ([]api.HistoryMessage, error)

// Gate loads the chat backlog exactly once and then stays ready forever.
type Gate struct {
	logger  *slog.Logger
	fetch   Fetch
	msgs    *store.MessageStore
	self    string // local display identity, for ownership flags
	enabled bool

	mu    sync.Mutex
	run   bool
	ready chan struct{}
}

// NewGate creates a Gate. When enabled is false the gate resolves
// immediately on Run without touching the endpoint.
func NewGate(fetch Fetch, msgs *store.MessageStore, self string, enabled bool, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger:  logger,
		fetch:   fetch,
		msgs:    msgs,
		self:    self,
		enabled: enabled,
		ready:   make(chan struct{}),
	}
}

// Run performs the backlog load. Only the first call does work; it
// resolves the gate on success, failure, and disabled alike.
func (g *Gate) Run(ctx context.Context) {
	g.mu.Lock()
	if g.run {
		g.mu.Unlock()
		return
	}
	g.run = true
	g.mu.Unlock()

	defer close(g.ready)

	if !g.enabled {
		g.logger.Debug("history disabled, gate ready")
		return
	}

	backlog, err := g.fetch(ctx)
	if err != nil {
		// Fail open: live connectivity must not depend on a backlog
		// outage. Treat history as loaded-empty.
		g.logger.Warn("backlog fetch failed, proceeding without history", "error", err)
		return
	}

	inserted := 0
	for i, hm := range backlog {
		kind := frame.ChatKind(hm.Kind)
		if !kind.Valid() {
			g.logger.Warn("skipping backlog entry with unknown kind", "kind", hm.Kind)
			continue
		}
		m := store.Message{
			ID:        store.BacklogID(i, hm.ID),
			Kind:      kind,
			Author:    hm.Author,
			Content:   hm.Content,
			Timestamp: time.Unix(hm.Sent, 0),
			IsOwn:     kind == frame.ChatMessage && g.self != "" && hm.Author == g.self,
		}
		if g.msgs.Append(m) {
			inserted++
		}
	}

	g.logger.Info("backlog loaded", "fetched", len(backlog), "inserted", inserted)
}

// Ready is closed once the gate has resolved, in every outcome.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

// Done reports whether the gate has resolved.
func (g *Gate) Done() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate resolves or ctx is cancelled.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
