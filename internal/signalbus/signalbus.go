// Package signalbus implements the run-scoped pub/sub control channel
// described in spec.md §4.B: publish/subscribe plus a request/reply
// helper built on top of them.
package signalbus

import (
	"context"
	"errors"
	"time"

	"github.com/lightflow-run/lightflow/internal/core"
)

// ErrClosed is returned by Request when its subscription closes before a
// reply arrives, and by memsignalbus's Publish/Subscribe when they race
// with Close on the same run. A Publish or Subscribe issued after Close
// has returned starts a fresh channel for the run.
var ErrClosed = errors.New("signalbus: run channel closed")

// Bus is the signal bus abstraction. Implementations guarantee per-
// publisher-per-subscriber ordering but no cross-publisher ordering.
type Bus interface {
	// Publish delivers signal to current subscribers of signal.RunID.
	// Delivery is best-effort and non-blocking: a slow subscriber never
	// blocks the publisher.
	Publish(ctx context.Context, signal core.Signal) error
	// Subscribe returns a channel of signals for runID. The channel is
	// closed when ctx is done; memsignalbus also closes it on Close(runID).
	Subscribe(ctx context.Context, runID string) (<-chan core.Signal, error)
	// Close tears down runID's channel. memsignalbus unblocks every
	// subscriber; redissignalbus's Close is a no-op, so its subscribers
	// end only when their ctx is done.
	Close(runID string) error
}

// Request publishes signal with the given correlationID and blocks until a
// query-reply signal carrying that id arrives on runID's channel, or
// timeout elapses.
func Request(ctx context.Context, bus Bus, runID string, signal core.Signal, correlationID string, timeout time.Duration) (core.Signal, error) {
	signal.RunID = runID
	signal.CorrelationID = correlationID

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := bus.Subscribe(ctx, runID)
	if err != nil {
		return core.Signal{}, err
	}
	if err := bus.Publish(ctx, signal); err != nil {
		return core.Signal{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return core.Signal{}, core.ErrTimeout
		case reply, ok := <-ch:
			if !ok {
				return core.Signal{}, ErrClosed
			}
			if reply.Kind == core.SignalQueryReply && reply.CorrelationID == correlationID {
				return reply, nil
			}
		}
	}
}
