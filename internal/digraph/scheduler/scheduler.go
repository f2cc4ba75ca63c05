// Package scheduler implements the DAG Scheduler (component G): it
// dispatches ready task nodes onto the task queue, awaits their
// completion via the signal bus, propagates data and skips along edges,
// and terminates the DAG run.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/envelope"
	"github.com/lightflow-run/lightflow/internal/queue"
	"github.com/lightflow-run/lightflow/internal/signalbus"
)

// nodeState tracks one task node's progress through one DAG run.
type nodeState struct {
	status      core.NodeState
	pendingDeps int
	accumulated []envelope.NamedEnvelope
}

// Outcome is the terminal result of one DAG run.
type Outcome struct {
	Succeeded bool
	Stopped   bool
	Aborted   bool
	// FirstFailure names the first (task, kind) pair that failed, per
	// spec.md §7's user-visible failure summary.
	FirstFailureTask string
	FirstFailureKind string
}

// Scheduler runs one DAG to completion.
type Scheduler struct {
	Queue queue.Queue
	Bus   signalbus.Bus
}

// New builds a Scheduler over the given queue and signal bus.
func New(q queue.Queue, bus signalbus.Bus) *Scheduler {
	return &Scheduler{Queue: q, Bus: bus}
}

// Run executes dag to completion for runID, seeding root nodes with
// initial (the envelope the workflow/parent DAG provided). policy
// controls how a task failure propagates to siblings.
func (s *Scheduler) Run(ctx context.Context, runID string, dag digraph.DagSpec, initial *envelope.Envelope, policy core.FailurePolicy) (Outcome, error) {
	graph, err := dag.ToGraph()
	if err != nil {
		return Outcome{}, err
	}

	run := &dagRun{
		scheduler: s,
		runID:     runID,
		dagName:   dag.Name,
		dag:       dag,
		graph:     graph,
		policy:    policy,
		nodes:     make(map[string]*nodeState),
	}
	for _, n := range graph.Nodes() {
		run.nodes[n] = &nodeState{status: core.NodePending, pendingDeps: graph.InDegree(n)}
	}
	for _, root := range graph.Roots() {
		ns := run.nodes[root]
		ns.status = core.NodeReady
		if initial != nil && initial.Len() > 0 {
			ns.accumulated = append(ns.accumulated, envelope.NamedEnvelope{Name: "__workflow__", Envelope: initial})
		}
	}

	return run.loop(ctx)
}

type dagRun struct {
	scheduler *Scheduler
	runID     string
	dagName   string
	dag       digraph.DagSpec
	graph     *digraph.Graph
	policy    core.FailurePolicy

	mu        sync.Mutex
	nodes     map[string]*nodeState
	inFlight  map[string]bool
	stopping  bool
	aborting  bool
	firstFail struct{ task, kind string }
}

func (r *dagRun) loop(ctx context.Context) (Outcome, error) {
	r.inFlight = make(map[string]bool)

	sigCh, err := r.scheduler.Bus.Subscribe(ctx, r.runID)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", core.ErrSignalUnavailable, err)
	}

	if err := r.dispatchReady(ctx); err != nil {
		return Outcome{}, err
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
			if sig.DagName != "" && sig.DagName != r.dagName {
				continue
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

func (r *dagRun) done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.nodes {
		if ns.status == core.NodeRunning {
			return false
		}
		if !r.stopping && (ns.status == core.NodePending || ns.status == core.NodeReady) {
			return false
		}
	}
	return true
}

// settleUndispatchedLocked marks every node that will never be dispatched
// (pending or ready) as skipped, once a stop has been requested. Callers
// must hold r.mu. This keeps every node in a terminal state by the time
// the run finishes draining its in-flight tasks, per the "every node
// reaches succeeded/failed/skipped" invariant.
func (r *dagRun) settleUndispatchedLocked() {
	for _, ns := range r.nodes {
		if ns.status == core.NodePending || ns.status == core.NodeReady {
			ns.status = core.NodeSkipped
		}
	}
}

func (r *dagRun) handleSignal(ctx context.Context, sig core.Signal) error {
	switch sig.Kind {
	case core.SignalTaskCompleted:
		return r.onTaskCompleted(ctx, sig)
	case core.SignalTaskFailed:
		return r.onTaskFailed(ctx, sig)
	case core.SignalTaskSkipped:
		return r.onTaskSkipped(ctx, sig.TaskName)
	case core.SignalStopRequest:
		r.mu.Lock()
		r.stopping = true
		r.settleUndispatchedLocked()
		r.mu.Unlock()
		return nil
	case core.SignalAbortRequest:
		r.mu.Lock()
		r.aborting = true
		r.stopping = true
		for name := range r.inFlight {
			r.nodes[name].status = core.NodeFailed
		}
		r.settleUndispatchedLocked()
		r.mu.Unlock()
		return nil
	default:
		return nil
	}
}

func (r *dagRun) onTaskCompleted(ctx context.Context, sig core.Signal) error {
	r.mu.Lock()
	ns, ok := r.nodes[sig.TaskName]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	ns.status = core.NodeSucceeded
	delete(r.inFlight, sig.TaskName)

	var output *envelope.Envelope
	if len(sig.Payload) > 0 {
		output, _ = decodeEnvelope(sig.Payload)
	}
	routing := decodeRouting(sig.Payload)

	skipNames := routing.Skip
	r.mu.Unlock()

	if len(skipNames) > 0 {
		if err := r.markSkipped(skipNames); err != nil {
			return err
		}
	}

	r.mu.Lock()
	for _, edge := range r.graph.Out(sig.TaskName) {
		child := r.nodes[edge.Child]
		if child.status == core.NodeSkipped {
			continue
		}
		if suppressed(routing.OnlyTo, edge.Child) {
			continue
		}
		if output != nil {
			child.accumulated = append(child.accumulated, envelope.NamedEnvelope{Name: sig.TaskName, Envelope: output})
		}
		child.pendingDeps--
		if child.pendingDeps <= 0 && child.status == core.NodePending {
			child.status = core.NodeReady
		}
	}
	r.mu.Unlock()

	return r.dispatchReady(ctx)
}

func suppressed(onlyTo []string, child string) bool {
	if len(onlyTo) == 0 {
		return false
	}
	for _, n := range onlyTo {
		if n == child {
			return false
		}
	}
	return true
}

func (r *dagRun) onTaskFailed(ctx context.Context, sig core.Signal) error {
	r.mu.Lock()
	ns, ok := r.nodes[sig.TaskName]
	if ok {
		ns.status = core.NodeFailed
	}
	delete(r.inFlight, sig.TaskName)
	if r.firstFail.task == "" {
		r.firstFail.task = sig.TaskName
		r.firstFail.kind = string(sig.Kind)
	}
	strict := r.policy != core.PolicyLenient
	if strict {
		r.stopping = true
		r.settleUndispatchedLocked()
	}
	r.mu.Unlock()

	if strict {
		return r.broadcastStop(ctx)
	}

	children := r.graph.Children(sig.TaskName)
	return r.markSkipped(children)
}

func (r *dagRun) onTaskSkipped(taskName string) error {
	return r.markSkipped([]string{taskName})
}

func (r *dagRun) markSkipped(initial []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	already := func(n string) bool {
		ns, ok := r.nodes[n]
		return ok && ns.status == core.NodeSkipped
	}
	for _, n := range r.graph.SkipDescendants(initial, already) {
		if ns, ok := r.nodes[n]; ok && !ns.status.Terminal() {
			ns.status = core.NodeSkipped
		}
	}
	return nil
}

func (r *dagRun) broadcastStop(ctx context.Context) error {
	return r.scheduler.Bus.Publish(ctx, core.Signal{RunID: r.runID, DagName: r.dagName, Kind: core.SignalStopRequest})
}

func (r *dagRun) dispatchReady(ctx context.Context) error {
	r.mu.Lock()
	stopping := r.stopping
	var ready []string
	if !stopping {
		for name, ns := range r.nodes {
			if ns.status == core.NodeReady {
				ready = append(ready, name)
			}
		}
	}
	r.mu.Unlock()

	for _, name := range ready {
		if err := r.dispatchOne(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *dagRun) dispatchOne(ctx context.Context, name string) error {
	r.mu.Lock()
	ns := r.nodes[name]
	merged, err := envelope.Merge(ns.accumulated)
	if err != nil && err != envelope.ErrEmptyInput {
		r.mu.Unlock()
		return err
	}
	node, _ := r.dag.Node(name)
	payload, err := EncodeDispatch(node, merged)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %v", core.ErrDataRoutingError, err)
	}
	ns.status = core.NodeRunning
	r.inFlight[name] = true
	r.mu.Unlock()

	record := core.JobRecord{
		ID:       uuid.Must(uuid.NewRandom()).String(),
		Kind:     core.JobTask,
		RunID:    r.runID,
		DagName:  r.dagName,
		TaskName: name,
		Payload:  payload,
	}
	if _, err := r.scheduler.Queue.Submit(ctx, "task", record); err != nil {
		return fmt.Errorf("%w: %v", core.ErrQueueUnavailable, err)
	}
	return nil
}

func (r *dagRun) finalize(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	outcome := Outcome{
		Stopped:          r.stopping && !r.hasFailureLocked(),
		Aborted:          r.aborting,
		FirstFailureTask: r.firstFail.task,
		FirstFailureKind: r.firstFail.kind,
	}
	outcome.Succeeded = !r.hasFailureLocked() && !r.aborting
	r.mu.Unlock()

	kind := core.SignalDagCompleted
	if !outcome.Succeeded {
		kind = core.SignalDagFailed
	}
	_ = r.scheduler.Bus.Publish(ctx, core.Signal{RunID: r.runID, DagName: r.dagName, Kind: kind})
	return outcome, nil
}

func (r *dagRun) hasFailureLocked() bool {
	for _, ns := range r.nodes {
		if ns.status == core.NodeFailed {
			return true
		}
	}
	return false
}
