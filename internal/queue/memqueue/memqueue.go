// Package memqueue is an in-process Queue implementation backed by
// mutex-guarded slices, useful for tests and single-process deployments.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/queue"
)

type pending struct {
	queueName string
	record    core.JobRecord
	timer     *time.Timer
}

// Queue is a memqueue.Queue instance. The zero value is not usable; use New.
type Queue struct {
	mu           sync.Mutex
	lanes        map[string][]core.JobRecord
	leases       map[queue.Lease]*pending
	leaseTimeout time.Duration
	notify       chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

// New builds an empty Queue. leaseTimeout governs how long a Reserve'd job
// stays invisible to other consumers before it's automatically requeued.
func New(leaseTimeout time.Duration) *Queue {
	if leaseTimeout <= 0 {
		leaseTimeout = queue.DefaultLeaseDuration
	}
	return &Queue{
		lanes:        make(map[string][]core.JobRecord),
		leases:       make(map[queue.Lease]*pending),
		leaseTimeout: leaseTimeout,
		notify:       make(chan struct{}, 1),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Submit implements queue.Queue.
func (q *Queue) Submit(_ context.Context, queueName string, record core.JobRecord) (string, error) {
	if record.ID == "" {
		record.ID = uuid.Must(uuid.NewRandom()).String()
	}
	q.mu.Lock()
	q.lanes[queueName] = append(q.lanes[queueName], record)
	q.mu.Unlock()
	q.wake()
	return record.ID, nil
}

// Reserve implements queue.Queue. A non-positive pollTimeout performs a
// single non-blocking check.
func (q *Queue) Reserve(ctx context.Context, queueNames []string, _ string, pollTimeout time.Duration) (core.JobRecord, queue.Lease, error) {
	if rec, ok := q.tryReserve(queueNames); ok {
		return rec.record, q.trackLease(rec), nil
	}
	if pollTimeout <= 0 {
		return core.JobRecord{}, "", queue.ErrEmpty
	}

	deadline := time.NewTimer(pollTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return core.JobRecord{}, "", ctx.Err()
		case <-deadline.C:
			return core.JobRecord{}, "", queue.ErrEmpty
		case <-q.notify:
		case <-time.After(50 * time.Millisecond):
		}
		if rec, ok := q.tryReserve(queueNames); ok {
			return rec.record, q.trackLease(rec), nil
		}
	}
}

type reservedRecord struct {
	queueName string
	record    core.JobRecord
}

func (q *Queue) tryReserve(queueNames []string) (reservedRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, name := range queueNames {
		lane := q.lanes[name]
		if len(lane) == 0 {
			continue
		}
		rec := lane[0]
		q.lanes[name] = lane[1:]
		return reservedRecord{queueName: name, record: rec}, true
	}
	return reservedRecord{}, false
}

func (q *Queue) trackLease(rr reservedRecord) queue.Lease {
	lease := queue.Lease(uuid.Must(uuid.NewRandom()).String())
	p := &pending{queueName: rr.queueName, record: rr.record}
	p.timer = time.AfterFunc(q.leaseTimeout, func() { q.expireLease(lease) })

	q.mu.Lock()
	q.leases[lease] = p
	q.mu.Unlock()
	return lease
}

func (q *Queue) expireLease(lease queue.Lease) {
	q.mu.Lock()
	p, ok := q.leases[lease]
	if ok {
		delete(q.leases, lease)
		q.lanes[p.queueName] = append(q.lanes[p.queueName], p.record)
	}
	q.mu.Unlock()
	if ok {
		q.wake()
	}
}

// Ack implements queue.Queue.
func (q *Queue) Ack(_ context.Context, lease queue.Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.leases[lease]
	if !ok {
		return queue.ErrUnknownLease
	}
	p.timer.Stop()
	delete(q.leases, lease)
	return nil
}

// Nack implements queue.Queue.
func (q *Queue) Nack(_ context.Context, lease queue.Lease, requeue bool) error {
	q.mu.Lock()
	p, ok := q.leases[lease]
	if !ok {
		q.mu.Unlock()
		return queue.ErrUnknownLease
	}
	p.timer.Stop()
	delete(q.leases, lease)
	if requeue {
		q.lanes[p.queueName] = append(q.lanes[p.queueName], p.record)
	}
	q.mu.Unlock()
	if requeue {
		q.wake()
	}
	return nil
}
