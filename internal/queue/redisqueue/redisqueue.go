// Package redisqueue backs the job queue abstraction with Redis: each
// logical queue is a list, and reserved-but-unacked jobs sit in a
// processing sorted set keyed by lease expiry until acked, nacked, or
// reclaimed after their lease lapses.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lightflow-run/lightflow/internal/backoff"
	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/queue"
)

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	client       redis.Cmdable
	keyPrefix    string
	leaseTimeout time.Duration
	retryPolicy  backoff.RetryPolicy
}

var _ queue.Queue = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithLeaseTimeout overrides the default lease duration.
func WithLeaseTimeout(d time.Duration) Option {
	return func(q *Queue) { q.leaseTimeout = d }
}

// WithRetryPolicy overrides the backoff policy used for transient Redis
// errors encountered while reserving a job.
func WithRetryPolicy(p backoff.RetryPolicy) Option {
	return func(q *Queue) { q.retryPolicy = p }
}

// New builds a Queue over an existing redis client, namespacing all keys
// under keyPrefix (typically the deployment or environment name).
func New(client redis.Cmdable, keyPrefix string, opts ...Option) *Queue {
	q := &Queue{
		client:       client,
		keyPrefix:    keyPrefix,
		leaseTimeout: queue.DefaultLeaseDuration,
		retryPolicy:  backoff.NewExponentialBackoffPolicy(50 * time.Millisecond),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type envelope struct {
	Lease  string         `json:"lease"`
	Record core.JobRecord `json:"record"`
}

func (q *Queue) laneKey(queueName string) string {
	return fmt.Sprintf("lightflow:{%s}:queue:%s", q.keyPrefix, queueName)
}

func (q *Queue) processingKey(queueName string) string {
	return fmt.Sprintf("lightflow:{%s}:processing:%s", q.keyPrefix, queueName)
}

func (q *Queue) leaseHashKey() string {
	return fmt.Sprintf("lightflow:{%s}:leases", q.keyPrefix)
}

// Submit implements queue.Queue.
func (q *Queue) Submit(ctx context.Context, queueName string, record core.JobRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.Must(uuid.NewRandom()).String()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("redisqueue: marshal record: %w", err)
	}
	if err := q.client.LPush(ctx, q.laneKey(queueName), data).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return record.ID, nil
}

// Reserve implements queue.Queue. It polls the candidate lanes in order,
// within the pollTimeout budget, reclaiming any job whose lease has
// lapsed before attempting a fresh pop.
func (q *Queue) Reserve(ctx context.Context, queueNames []string, workerID string, pollTimeout time.Duration) (core.JobRecord, queue.Lease, error) {
	deadline := time.Now().Add(pollTimeout)
	retrier := backoff.NewRetrier(q.retryPolicy)
	for {
		q.reclaimExpired(ctx, queueNames)
		for _, name := range queueNames {
			data, err := q.client.RPop(ctx, q.laneKey(name)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if rerr := retrier.Next(ctx, err); rerr != nil {
					return core.JobRecord{}, "", fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
				}
				continue
			}
			var rec core.JobRecord
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				return core.JobRecord{}, "", fmt.Errorf("redisqueue: unmarshal record: %w", err)
			}
			lease := queue.Lease(uuid.Must(uuid.NewRandom()).String())
			if err := q.trackLease(ctx, name, lease, rec); err != nil {
				return core.JobRecord{}, "", err
			}
			return rec, lease, nil
		}
		if pollTimeout <= 0 || time.Now().After(deadline) {
			return core.JobRecord{}, "", queue.ErrEmpty
		}
		select {
		case <-ctx.Done():
			return core.JobRecord{}, "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (q *Queue) trackLease(ctx context.Context, queueName string, lease queue.Lease, rec core.JobRecord) error {
	env := envelope{Lease: string(lease), Record: rec}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal envelope: %w", err)
	}
	score := float64(time.Now().Add(q.leaseTimeout).UnixNano())
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.processingKey(queueName), redis.Z{Score: score, Member: string(lease)})
	pipe.HSet(ctx, q.leaseHashKey(), string(lease), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// reclaimExpired moves jobs whose lease has lapsed back onto their lane.
func (q *Queue) reclaimExpired(ctx context.Context, queueNames []string) {
	now := float64(time.Now().UnixNano())
	for _, name := range queueNames {
		expired, err := q.client.ZRangeByScore(ctx, q.processingKey(name), &redis.ZRangeBy{
			Min: "-inf", Max: fmt.Sprintf("%f", now),
		}).Result()
		if err != nil || len(expired) == 0 {
			continue
		}
		for _, lease := range expired {
			data, err := q.client.HGet(ctx, q.leaseHashKey(), lease).Result()
			if err != nil {
				continue
			}
			var env envelope
			if json.Unmarshal([]byte(data), &env) != nil {
				continue
			}
			recData, err := json.Marshal(env.Record)
			if err != nil {
				continue
			}
			pipe := q.client.TxPipeline()
			pipe.LPush(ctx, q.laneKey(name), recData)
			pipe.ZRem(ctx, q.processingKey(name), lease)
			pipe.HDel(ctx, q.leaseHashKey(), lease)
			_, _ = pipe.Exec(ctx)
		}
	}
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, lease queue.Lease) error {
	data, err := q.client.HGet(ctx, q.leaseHashKey(), string(lease)).Result()
	if err == redis.Nil {
		return queue.ErrUnknownLease
	}
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return fmt.Errorf("redisqueue: unmarshal envelope: %w", err)
	}
	queueName := logicalQueueName(env.Record.Kind)
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(queueName), string(lease))
	pipe.HDel(ctx, q.leaseHashKey(), string(lease))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

// Nack implements queue.Queue.
func (q *Queue) Nack(ctx context.Context, lease queue.Lease, requeue bool) error {
	data, err := q.client.HGet(ctx, q.leaseHashKey(), string(lease)).Result()
	if err == redis.Nil {
		return queue.ErrUnknownLease
	}
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return fmt.Errorf("redisqueue: unmarshal envelope: %w", err)
	}
	queueName := logicalQueueName(env.Record.Kind)

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(queueName), string(lease))
	pipe.HDel(ctx, q.leaseHashKey(), string(lease))
	if requeue {
		recData, merr := json.Marshal(env.Record)
		if merr != nil {
			return fmt.Errorf("redisqueue: marshal record: %w", merr)
		}
		pipe.LPush(ctx, q.laneKey(queueName), recData)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

func logicalQueueName(kind core.JobKind) string {
	switch kind {
	case core.JobWorkflow:
		return "workflow"
	case core.JobDag:
		return "dag"
	default:
		return "task"
	}
}
