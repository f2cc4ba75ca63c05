// Package dagrun implements the Workflow Scheduler (component H): it
// owns one WorkflowRun's lifecycle, enqueues one DAG job per autostart
// DAG, tracks the set of live DAGs via the signal bus, and finalizes
// the run once every DAG reaches a terminal state.
package dagrun

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/digraph/scheduler"
	"github.com/lightflow-run/lightflow/internal/envelope"
	"github.com/lightflow-run/lightflow/internal/queue"
	"github.com/lightflow-run/lightflow/internal/signalbus"
	"github.com/lightflow-run/lightflow/internal/store"
)

// StartOptions carries the user-provided launch parameters for a
// workflow start request.
type StartOptions struct {
	Params map[string]string
}

// Outcome is the terminal result of one workflow run.
type Outcome struct {
	State            core.RunState
	FirstFailureDag  string
	FirstFailureKind string
}

// Scheduler runs a WorkflowSpec to completion.
type Scheduler struct {
	Queue queue.Queue
	Bus   signalbus.Bus
	Store store.Factory
}

// New builds a Scheduler.
func New(q queue.Queue, bus signalbus.Bus, stores store.Factory) *Scheduler {
	return &Scheduler{Queue: q, Bus: bus, Store: stores}
}

// Start allocates a fresh run id, creates the StoreDoc, and runs wf to
// completion, blocking until every DAG reaches a terminal state. Callers
// that only want to enqueue the workflow job and return should instead
// call Run from the worker that dequeues it.
func (s *Scheduler) Start(ctx context.Context, wf digraph.WorkflowSpec, opts StartOptions) (string, Outcome, error) {
	runID := uuid.Must(uuid.NewV7()).String()
	outcome, err := s.Run(ctx, runID, wf, opts)
	return runID, outcome, err
}

// Run executes the workflow scheduler's main loop for an already
// allocated runID, per spec.md §4.H.
func (s *Scheduler) Run(ctx context.Context, runID string, wf digraph.WorkflowSpec, opts StartOptions) (Outcome, error) {
	handle, err := s.Store.Create(ctx, runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: create store doc: %v", core.ErrStoreUnavailable, err)
	}
	if err := writeMeta(ctx, handle, wf, opts); err != nil {
		return Outcome{}, err
	}

	run := &workflowRun{
		scheduler: s,
		runID:     runID,
		wf:        wf,
		store:     handle,
		live:      make(map[string]bool),
	}
	return run.loop(ctx)
}

func writeMeta(ctx context.Context, handle store.Handle, wf digraph.WorkflowSpec, opts StartOptions) error {
	if err := handle.Set(ctx, store.Meta(), "workflow", []byte(wf.Name)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	for k, v := range opts.Params {
		if err := handle.Set(ctx, store.Meta(), "param."+k, []byte(v)); err != nil {
			return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
		}
	}
	return nil
}

type workflowRun struct {
	scheduler *Scheduler
	runID     string
	wf        digraph.WorkflowSpec
	store     store.Handle

	mu        sync.Mutex
	live      map[string]bool
	stopping  bool
	aborting  bool
	firstFail struct{ dag, kind string }
}

func (r *workflowRun) loop(ctx context.Context) (Outcome, error) {
	sigCh, err := r.scheduler.Bus.Subscribe(ctx, r.runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", core.ErrSignalUnavailable, err)
	}
	defer r.scheduler.Bus.Close(r.runID)

	for _, dag := range r.wf.Dags {
		if dag.IsAutostart() {
			if err := r.enqueueDag(ctx, dag.Name, nil); err != nil {
				return Outcome{}, err
			}
		}
	}

	if r.done() {
		return r.finalize(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case sig, ok := <-sigCh:
			if !ok {
				return Outcome{}, fmt.Errorf("%w: signal channel closed", core.ErrSignalUnavailable)
			}
			if err := r.handleSignal(ctx, sig); err != nil {
				return Outcome{}, err
			}
			if r.done() {
				return r.finalize(ctx)
			}
		}
	}
}

func (r *workflowRun) done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live) == 0
}

func (r *workflowRun) handleSignal(ctx context.Context, sig core.Signal) error {
	switch sig.Kind {
	case core.SignalDagCompleted:
		r.mu.Lock()
		delete(r.live, sig.DagName)
		r.mu.Unlock()
		return nil
	case core.SignalDagFailed:
		r.mu.Lock()
		delete(r.live, sig.DagName)
		if r.firstFail.dag == "" {
			r.firstFail.dag = sig.DagName
			r.firstFail.kind = "dag-failed"
		}
		strict := !r.stopping
		if strict {
			r.stopping = true
		}
		r.mu.Unlock()
		if strict {
			return r.broadcastStop(ctx)
		}
		return nil
	case core.SignalRunDag:
		r.mu.Lock()
		stopped := r.stopping
		r.mu.Unlock()
		if stopped {
			return nil
		}
		input, err := scheduler.DecodeEnvelope(sig.Payload)
		if err != nil {
			input = nil
		}
		return r.enqueueDag(ctx, sig.DagName, input)
	case core.SignalStopRequest:
		r.mu.Lock()
		r.stopping = true
		r.mu.Unlock()
		return nil
	case core.SignalAbortRequest:
		r.mu.Lock()
		r.stopping = true
		r.aborting = true
		r.mu.Unlock()
		return r.broadcastAbort(ctx)
	default:
		return nil
	}
}

func (r *workflowRun) enqueueDag(ctx context.Context, dagName string, input *envelope.Envelope) error {
	dag, ok := r.wf.Dag(dagName)
	if !ok {
		return fmt.Errorf("%w: %s/%s", core.ErrWorkflowNotFound, r.wf.Name, dagName)
	}
	if _, err := dag.ToGraph(); err != nil {
		return err
	}

	r.mu.Lock()
	r.live[dagName] = true
	r.mu.Unlock()

	var payload []byte
	if input != nil {
		var err error
		payload, err = scheduler.EncodeEnvelope(input)
		if err != nil {
			return fmt.Errorf("%w: encode seed envelope: %v", core.ErrDataRoutingError, err)
		}
	}

	record := core.JobRecord{
		ID:           uuid.Must(uuid.NewRandom()).String(),
		Kind:         core.JobDag,
		RunID:        r.runID,
		WorkflowName: r.wf.Name,
		DagName:      dagName,
		Payload:      payload,
	}
	if _, err := r.scheduler.Queue.Submit(ctx, "dag", record); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

func (r *workflowRun) broadcastStop(ctx context.Context) error {
	return r.scheduler.Bus.Publish(ctx, core.Signal{RunID: r.runID, Kind: core.SignalStopRequest})
}

func (r *workflowRun) broadcastAbort(ctx context.Context) error {
	return r.scheduler.Bus.Publish(ctx, core.Signal{RunID: r.runID, Kind: core.SignalAbortRequest})
}

func (r *workflowRun) finalize(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	outcome := Outcome{FirstFailureDag: r.firstFail.dag, FirstFailureKind: r.firstFail.kind}
	switch {
	case r.aborting:
		outcome.State = core.RunAborted
	case r.firstFail.dag != "":
		outcome.State = core.RunFailed
	case r.stopping:
		outcome.State = core.RunStopped
	default:
		outcome.State = core.RunSucceeded
	}
	r.mu.Unlock()

	if err := r.store.Set(ctx, store.Meta(), "state", []byte(outcome.State)); err != nil {
		return outcome, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	// The StoreDoc is scoped to one run; once its terminal state is
	// durably recorded there is nothing left to read it back for (status
	// queries go over the signal bus, not the store), so the document is
	// torn down per spec.md §3's "removed (or archived) when the run
	// reaches a terminal state" invariant.
	if err := r.scheduler.Store.Remove(ctx, r.runID); err != nil {
		return outcome, fmt.Errorf("%w: remove store doc: %v", core.ErrStoreUnavailable, err)
	}

	kind := core.SignalWorkflowCompleted
	_ = r.scheduler.Bus.Publish(ctx, core.Signal{RunID: r.runID, Kind: kind})
	return outcome, nil
}

// RunDag publishes a run-dag signal, the mechanism a running task body
// uses to invoke a non-autostart DAG dynamically (spec.md §4.G's
// autostart note). input may be nil.
func RunDag(ctx context.Context, bus signalbus.Bus, runID, dagName string, input *envelope.Envelope) error {
	payload, err := scheduler.EncodeEnvelope(input)
	if err != nil {
		return fmt.Errorf("%w: encode run-dag envelope: %v", core.ErrDataRoutingError, err)
	}
	return bus.Publish(ctx, core.Signal{RunID: runID, DagName: dagName, Kind: core.SignalRunDag, Payload: payload})
}
