// Package store implements the ordered, de-duplicated message log backing
// the chat surface. Only chat-display kinds are persisted here; presence
// and gauge events are dispatched but never stored.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karavansky/moment-realtime/internal/frame"
)

// Message is one durable-in-memory chat or system entry.
type Message struct {
	ID        string
	Kind      frame.ChatKind
	Author    string
	Content   string
	Timestamp time.Time
	IsOwn     bool
}

// MessageStore holds messages unique by identity in insertion order.
// Historical and live populations use distinct identity prefixes so they
// can never collide.
type MessageStore struct {
	logger *slog.Logger

	mu   sync.RWMutex
	seen map[string]struct{}
	log  []Message
}

// New creates an empty MessageStore.
func New(logger *slog.Logger) *MessageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageStore{
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// NewLiveID generates an identity for a live message: receive timestamp
// plus a random suffix.
func NewLiveID() string {
	return fmt.Sprintf("live-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// BacklogID derives the identity for a backlog entry from its position and
// server identity. The prefix keeps backlog entries disjoint from live ones.
func BacklogID(seq int, serverID string) string {
	return fmt.Sprintf("hist-%d-%s", seq, serverID)
}

// Append inserts a message if its identity has not been seen. Messages
// whose kind is not a chat-display kind are rejected. Returns true when
// the message was inserted.
func (s *MessageStore) Append(m Message) bool {
	if !m.Kind.Valid() {
		s.logger.Warn("refusing non-chat kind in message store", "kind", m.Kind)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.seen[m.ID] = struct{}{}
	s.log = append(s.log, m)
	return true
}

// Messages returns a snapshot of the log in insertion order.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.log))
	copy(out, s.log)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// Clear empties the store. Used on identity teardown so no messages leak
// across identity boundaries.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]struct{})
	s.log = nil
}
