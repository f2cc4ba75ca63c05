// Package memsignalbus is an in-process signalbus.Bus, suitable for tests
// and single-process deployments.
package memsignalbus

import (
	"context"
	"sync"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/signalbus"
)

const subscriberBuffer = 64

type run struct {
	mu          sync.RWMutex
	subscribers map[int]chan core.Signal
	nextID      int
	closed      bool
}

// Bus is an in-process implementation of signalbus.Bus.
type Bus struct {
	mu   sync.Mutex
	runs map[string]*run
}

var _ signalbus.Bus = (*Bus)(nil)

// New builds an empty Bus.
func New() *Bus {
	return &Bus{runs: make(map[string]*run)}
}

func (b *Bus) runFor(runID string) *run {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.runs[runID]
	if !ok {
		r = &run{subscribers: make(map[int]chan core.Signal)}
		b.runs[runID] = r
	}
	return r
}

// Publish implements signalbus.Bus.
func (b *Bus) Publish(_ context.Context, signal core.Signal) error {
	r := b.runFor(signal.RunID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return signalbus.ErrClosed
	}
	for _, ch := range r.subscribers {
		select {
		case ch <- signal:
		default:
			// Slow subscriber: drop rather than block the publisher,
			// matching the bus's best-effort delivery contract.
		}
	}
	return nil
}

// Subscribe implements signalbus.Bus.
func (b *Bus) Subscribe(ctx context.Context, runID string) (<-chan core.Signal, error) {
	r := b.runFor(runID)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, signalbus.ErrClosed
	}
	id := r.nextID
	r.nextID++
	ch := make(chan core.Signal, subscriberBuffer)
	r.subscribers[id] = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		if sub, ok := r.subscribers[id]; ok {
			delete(r.subscribers, id)
			close(sub)
		}
		r.mu.Unlock()
	}()

	return ch, nil
}

// Close implements signalbus.Bus.
func (b *Bus) Close(runID string) error {
	b.mu.Lock()
	r, ok := b.runs[runID]
	if ok {
		delete(b.runs, runID)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for id, ch := range r.subscribers {
		delete(r.subscribers, id)
		close(ch)
	}
	return nil
}
