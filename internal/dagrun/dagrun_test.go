package dagrun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/queue/memqueue"
	"github.com/lightflow-run/lightflow/internal/signalbus/memsignalbus"
	"github.com/lightflow-run/lightflow/internal/store/memstore"
)

// runFakeDagWorker drains the dag queue and resolves each dag job
// immediately via resolve, standing in for the DAG Scheduler this
// package doesn't own.
func runFakeDagWorker(ctx context.Context, sched *Scheduler, resolve func(rec core.JobRecord) core.SignalKind) {
	go func() {
		for {
			rec, lease, err := sched.Queue.Reserve(ctx, []string{"dag"}, "fake", 50*time.Millisecond)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			kind := resolve(rec)
			_ = sched.Bus.Publish(ctx, core.Signal{RunID: rec.RunID, DagName: rec.DagName, Kind: kind})
			_ = sched.Queue.Ack(ctx, lease)
		}
	}()
}

func singleDagWorkflow(autostart *bool) digraph.WorkflowSpec {
	return digraph.WorkflowSpec{
		Name: "main",
		Dags: []digraph.DagSpec{
			{
				Name:      "build",
				Nodes:     []digraph.TaskNodeSpec{{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "noop"}},
				Autostart: autostart,
			},
		},
	}
}

func TestWorkflowSucceedsWhenAllDagsComplete(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched := New(q, bus, stores)
	runFakeDagWorker(ctx, sched, func(core.JobRecord) core.SignalKind { return core.SignalDagCompleted })

	_, outcome, err := sched.Start(ctx, singleDagWorkflow(nil), StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.RunSucceeded, outcome.State)
}

func TestWorkflowFailsAndStopsRemainingDagsStrict(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wf := digraph.WorkflowSpec{
		Name: "main",
		Dags: []digraph.DagSpec{
			{Name: "a", Nodes: []digraph.TaskNodeSpec{{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "noop"}}},
			{Name: "b", Nodes: []digraph.TaskNodeSpec{{Name: "B", BodyKind: digraph.BodyScript, BodyRef: "noop"}}},
		},
	}

	sched := New(q, bus, stores)
	runFakeDagWorker(ctx, sched, func(rec core.JobRecord) core.SignalKind {
		if rec.DagName == "a" {
			return core.SignalDagFailed
		}
		return core.SignalDagCompleted
	})

	_, outcome, err := sched.Start(ctx, wf, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, outcome.State)
	assert.Equal(t, "a", outcome.FirstFailureDag)
}

// TestNonAutostartDagRunsOnlyViaRunDagSignal exercises the dynamic
// sub-DAG invocation mechanism from spec.md §4.G's autostart note: a
// running (autostart) DAG emits run-dag to bring up a DAG that was
// declared autostart=false, and the workflow only finalizes once both
// have reported completion.
func TestNonAutostartDagRunsOnlyViaRunDagSignal(t *testing.T) {
	no := false
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wf := digraph.WorkflowSpec{
		Name: "main",
		Dags: []digraph.DagSpec{
			{Name: "trigger", Nodes: []digraph.TaskNodeSpec{{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "noop"}}},
			{Name: "build", Nodes: []digraph.TaskNodeSpec{{Name: "B", BodyKind: digraph.BodyScript, BodyRef: "noop"}}, Autostart: &no},
		},
	}

	sched := New(q, bus, stores)
	var dispatched []string
	go func() {
		for {
			rec, lease, err := sched.Queue.Reserve(ctx, []string{"dag"}, "fake", 50*time.Millisecond)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			dispatched = append(dispatched, rec.DagName)
			if rec.DagName == "trigger" {
				_ = bus.Publish(ctx, core.Signal{RunID: rec.RunID, DagName: "build", Kind: core.SignalRunDag})
			}
			_ = sched.Bus.Publish(ctx, core.Signal{RunID: rec.RunID, DagName: rec.DagName, Kind: core.SignalDagCompleted})
			_ = sched.Queue.Ack(ctx, lease)
		}
	}()

	_, outcome, err := sched.Start(ctx, wf, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.RunSucceeded, outcome.State)
	assert.Contains(t, dispatched, "build")
	assert.Contains(t, dispatched, "trigger")
}

// TestFinalizeRemovesStoreDocOnTerminalState covers spec.md §3's StoreDoc
// invariant that the document is "removed (or archived) when the run
// reaches a terminal state": once the workflow finalizes, its document
// must no longer be Open-able.
func TestFinalizeRemovesStoreDocOnTerminalState(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched := New(q, bus, stores)
	runFakeDagWorker(ctx, sched, func(core.JobRecord) core.SignalKind { return core.SignalDagCompleted })

	runID, outcome, err := sched.Start(ctx, singleDagWorkflow(nil), StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.RunSucceeded, outcome.State)

	_, err = stores.Open(ctx, runID)
	assert.Error(t, err, "store doc should have been removed once the run reached a terminal state")
}
