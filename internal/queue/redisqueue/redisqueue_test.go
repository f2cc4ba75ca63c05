package redisqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/queue"
)

// requireRedis skips the test unless LIGHTFLOW_TEST_REDIS_ADDR points at a
// reachable Redis instance; the queue's wire format otherwise has no
// in-memory fake to exercise it against.
func requireRedis(t *testing.T) redis.Cmdable {
	t.Helper()
	addr := os.Getenv("LIGHTFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIGHTFLOW_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}
	return client
}

func TestRedisQueueSubmitReserveAck(t *testing.T) {
	client := requireRedis(t)
	q := New(client, t.Name())
	ctx := context.Background()

	_, err := q.Submit(ctx, "task", core.JobRecord{Kind: core.JobTask, RunID: "r1"})
	require.NoError(t, err)

	rec, lease, err := q.Reserve(ctx, []string{"task"}, "w1", 0)
	require.NoError(t, err)
	require.Equal(t, "r1", rec.RunID)
	require.NoError(t, q.Ack(ctx, lease))

	_, _, err = q.Reserve(ctx, []string{"task"}, "w1", 0)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestRedisQueueNackRequeue(t *testing.T) {
	client := requireRedis(t)
	q := New(client, t.Name())
	ctx := context.Background()

	_, err := q.Submit(ctx, "task", core.JobRecord{Kind: core.JobTask, RunID: "r1"})
	require.NoError(t, err)

	_, lease, err := q.Reserve(ctx, []string{"task"}, "w1", 0)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, lease, true))

	rec, lease2, err := q.Reserve(ctx, []string{"task"}, "w2", 0)
	require.NoError(t, err)
	require.Equal(t, "r1", rec.RunID)
	require.NoError(t, q.Ack(ctx, lease2))
}
