// Package queue defines the job queue abstraction: named queues carrying
// JobRecords with at-least-once, lease-based delivery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/lightflow-run/lightflow/internal/core"
)

// ErrEmpty is returned by Reserve when no job is available before the
// poll timeout elapses.
var ErrEmpty = errors.New("queue: empty")

// ErrUnknownLease is returned by Ack/Nack when the lease token is not (or
// is no longer) held by the caller, e.g. because it already expired.
var ErrUnknownLease = errors.New("queue: unknown lease")

// Lease identifies one reservation of a job, returned by Reserve and
// consumed by Ack/Nack.
type Lease string

// Queue is the broker-facing job queue abstraction described in
// spec.md §4.A. Implementations must provide at-least-once delivery: a
// reserved-but-unacked job becomes visible again once its lease expires.
type Queue interface {
	// Submit durably appends record to the named queue and returns its
	// assigned job id.
	Submit(ctx context.Context, queueName string, record core.JobRecord) (string, error)
	// Reserve pulls the next record from any of queueNames, blocking up
	// to pollTimeout. Returns ErrEmpty if nothing became available.
	Reserve(ctx context.Context, queueNames []string, workerID string, pollTimeout time.Duration) (core.JobRecord, Lease, error)
	// Ack permanently removes the leased job.
	Ack(ctx context.Context, lease Lease) error
	// Nack releases the leased job. If requeue is true it becomes
	// immediately visible to other consumers; otherwise it is dropped
	// (callers route exhausted jobs to the "dead" queue themselves via
	// Submit before calling Nack(requeue=false)).
	Nack(ctx context.Context, lease Lease, requeue bool) error
}

// DefaultLeaseDuration is used by implementations that don't receive an
// explicit lease duration at construction time.
const DefaultLeaseDuration = 30 * time.Second
