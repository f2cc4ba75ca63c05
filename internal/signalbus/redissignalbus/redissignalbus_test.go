package redissignalbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lightflow-run/lightflow/internal/core"
)

// requireRedis skips the test unless LIGHTFLOW_TEST_REDIS_ADDR points at a
// reachable Redis instance, the same opt-in convention internal/queue's
// redisqueue suite uses.
func requireRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("LIGHTFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIGHTFLOW_TEST_REDIS_ADDR not set")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}
	return client
}

func TestRedisSignalBus_PublishSubscribe(t *testing.T) {
	client := requireRedis(t)
	b := New(client, t.Name())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := b.Subscribe(ctx, "run-1")
	require.NoError(t, err)

	// Give the subscription a moment to register before publishing;
	// Redis Pub/Sub drops messages published before a subscriber joins.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, core.Signal{RunID: "run-1", Kind: core.SignalStopRequest}))

	select {
	case sig := <-ch:
		require.Equal(t, "run-1", sig.RunID)
		require.Equal(t, core.SignalStopRequest, sig.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published signal")
	}
}

func TestRedisSignalBus_SubscribeStopsOnContextCancel(t *testing.T) {
	client := requireRedis(t)
	b := New(client, t.Name())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "run-2")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancel")
	}
}
