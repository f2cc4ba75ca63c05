// Package redissignalbus backs the signal bus with Redis Pub/Sub, so the
// same Redis deployment used for the job queue (or a separate one, per
// the "signal" config section) can carry run coordination.
package redissignalbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/signalbus"
)

// Bus is a Redis Pub/Sub backed signalbus.Bus.
type Bus struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ signalbus.Bus = (*Bus)(nil)

// New builds a Bus over an existing redis client.
func New(client redis.UniversalClient, keyPrefix string) *Bus {
	return &Bus{client: client, keyPrefix: keyPrefix}
}

func (b *Bus) channel(runID string) string {
	return fmt.Sprintf("lightflow:%s:signal:%s", b.keyPrefix, runID)
}

// Publish implements signalbus.Bus.
func (b *Bus) Publish(ctx context.Context, signal core.Signal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("redissignalbus: marshal signal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(signal.RunID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalUnavailable, err)
	}
	return nil
}

// Subscribe implements signalbus.Bus. The returned channel is closed when
// ctx is canceled or the underlying Redis subscription errors out.
func (b *Bus) Subscribe(ctx context.Context, runID string) (<-chan core.Signal, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrSignalUnavailable, err)
	}

	out := make(chan core.Signal, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var sig core.Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements signalbus.Bus. Redis Pub/Sub has no durable channel
// state to tear down server-side; subscribers unblock via their own
// context cancellation, so Close is a no-op kept to satisfy the interface
// and to mirror the in-memory backend's lifecycle for callers.
func (b *Bus) Close(_ string) error {
	return nil
}
