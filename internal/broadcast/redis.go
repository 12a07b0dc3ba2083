package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus backs LocalBus with Redis pub/sub so independent processes of
// the same client stay in sync. The channel is scoped per client identity.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
	closed  bool
}

// Channel returns the pub/sub channel name for a client identity.
func Channel(identity string) string {
	return fmt.Sprintf("moment:events:%s", identity)
}

// NewRedisBus creates a bus on an existing Redis client.
func NewRedisBus(rdb *redis.Client, identity string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		rdb:     rdb,
		channel: Channel(identity),
		logger:  logger,
	}
}

// Publish sends one payload. Publish failures are the caller's to log;
// the bus is best-effort by contract.
func (b *RedisBus) Publish(ctx context.Context, data []byte) error {
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// Subscribe starts a pub/sub listener delivering payloads to handler on a
// dedicated goroutine.
func (b *RedisBus) Subscribe(handler func(data []byte)) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}, nil
	}
	pubsub := b.rdb.Subscribe(context.Background(), b.channel)
	b.pubsubs = append(b.pubsubs, pubsub)
	b.mu.Unlock()

	// Confirm the subscription so publishes after Subscribe returns are
	// not lost to a late SUBSCRIBE.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug("pubsub close", "error", err)
		}
	}, nil
}

// Close shuts down all listeners. The Redis client itself is owned by the
// caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, ps := range b.pubsubs {
		ps.Close()
	}
	b.pubsubs = nil
	return nil
}
