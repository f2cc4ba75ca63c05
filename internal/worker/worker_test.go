package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/digraph/scheduler"
	"github.com/lightflow-run/lightflow/internal/envelope"
	"github.com/lightflow-run/lightflow/internal/queue"
	"github.com/lightflow-run/lightflow/internal/queue/memqueue"
	"github.com/lightflow-run/lightflow/internal/runtime"
	"github.com/lightflow-run/lightflow/internal/signalbus"
	"github.com/lightflow-run/lightflow/internal/signalbus/memsignalbus"
	"github.com/lightflow-run/lightflow/internal/store"
	"github.com/lightflow-run/lightflow/internal/store/memstore"
	"github.com/lightflow-run/lightflow/internal/worker"
)

// stubLoader resolves a single fixed WorkflowSpec regardless of name,
// enough for tests that only exercise one workflow at a time.
type stubLoader struct {
	wf digraph.WorkflowSpec
}

func (s stubLoader) Load(string) (digraph.WorkflowSpec, error) {
	return s.wf, nil
}

func countingRunner(calls *int32Counter) *runtime.Runner {
	reg := runtime.NewScriptRegistry()
	reg.Register("noop", func(_ context.Context, _ *runtime.TaskContext) runtime.Result {
		calls.incr()
		return runtime.Result{Outcome: core.OutcomeSuccess}
	})
	return runtime.NewRunner(reg)
}

// int32Counter is a tiny mutex-guarded counter, standing in for
// sync/atomic so the test reads as plain arithmetic under the lock.
type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) incr() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestWorkerDispatchesTaskJobAndPublishesCompletion(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	calls := &int32Counter{}
	runner := countingRunner(calls)

	w := worker.NewWorker("w1", []string{"task"}, 1, q, bus, stores, stubLoader{}, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx, "run-1")
	require.NoError(t, err)

	node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "noop"}
	input, err := envelope.New()
	require.NoError(t, err)
	payload, err := scheduler.EncodeDispatch(node, input)
	require.NoError(t, err)

	_, err = q.Submit(ctx, "task", core.JobRecord{
		ID: "job-1", Kind: core.JobTask, RunID: "run-1", TaskName: "A", Payload: payload,
	})
	require.NoError(t, err)

	go func() { _ = w.Start(ctx) }()

	select {
	case sig := <-ch:
		assert.Equal(t, core.SignalTaskCompleted, sig.Kind)
		assert.Equal(t, "A", sig.TaskName)
	case <-ctx.Done():
		t.Fatal("timed out waiting for task-completed signal")
	}
	assert.Equal(t, 1, calls.value())
}

func TestWorkerDispatchesDagJobUsingWorkflowName(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	runner := countingRunner(&int32Counter{})

	wf := digraph.WorkflowSpec{
		Name: "pipeline",
		Dags: []digraph.DagSpec{
			{Name: "build", Nodes: []digraph.TaskNodeSpec{{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "noop"}}},
		},
	}
	w := worker.NewWorker("w1", []string{"dag", "task"}, 2, q, bus, stores, stubLoader{wf: wf}, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx, "run-2")
	require.NoError(t, err)

	_, err = q.Submit(ctx, "dag", core.JobRecord{
		ID: "job-1", Kind: core.JobDag, RunID: "run-2", WorkflowName: "pipeline", DagName: "build",
	})
	require.NoError(t, err)

	go func() { _ = w.Start(ctx) }()

	for {
		select {
		case sig := <-ch:
			if sig.Kind == core.SignalDagCompleted {
				assert.Equal(t, "build", sig.DagName)
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for dag-completed signal")
		}
	}
}

func TestWorkerConcurrencyLimitsInFlightJobs(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()

	var mu sync.Mutex
	var current, maxSeen int
	reg := runtime.NewScriptRegistry()
	reg.Register("slow", func(ctx context.Context, _ *runtime.TaskContext) runtime.Result {
		mu.Lock()
		current++
		if current > maxSeen {
			maxSeen = current
		}
		mu.Unlock()

		select {
		case <-time.After(150 * time.Millisecond):
		case <-ctx.Done():
		}

		mu.Lock()
		current--
		mu.Unlock()
		return runtime.Result{Outcome: core.OutcomeSuccess}
	})
	runner := runtime.NewRunner(reg)

	w := worker.NewWorker("w1", []string{"task"}, 2, q, bus, stores, stubLoader{}, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for i := 0; i < 4; i++ {
		node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "slow"}
		input, err := envelope.New()
		require.NoError(t, err)
		payload, err := scheduler.EncodeDispatch(node, input)
		require.NoError(t, err)
		_, err = q.Submit(ctx, "task", core.JobRecord{
			ID: "job", Kind: core.JobTask, RunID: "run-3", TaskName: "A", Payload: payload,
		})
		require.NoError(t, err)
	}

	go func() { _ = w.Start(ctx) }()
	time.Sleep(1 * time.Second)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxSeen, 2)
}

func TestWorkerRetriesRecoverableFailureThenDeadLetters(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()

	reg := runtime.NewScriptRegistry()
	reg.Register("always-fails", func(_ context.Context, _ *runtime.TaskContext) runtime.Result {
		return runtime.Result{Outcome: core.OutcomeFailure, Recoverable: true, Err: assert.AnError}
	})
	runner := runtime.NewRunner(reg)

	w := worker.NewWorker("w1", []string{"task"}, 1, q, bus, stores, stubLoader{}, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "always-fails"}
	input, err := envelope.New()
	require.NoError(t, err)
	payload, err := scheduler.EncodeDispatch(node, input)
	require.NoError(t, err)

	_, err = q.Submit(ctx, "task", core.JobRecord{
		ID: "job-1", Kind: core.JobTask, RunID: "run-4", TaskName: "A", Payload: payload,
	})
	require.NoError(t, err)

	go func() { _ = w.Start(ctx) }()

	deadCtx, deadCancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer deadCancel()
	for {
		rec, lease, err := q.Reserve(deadCtx, []string{"dead"}, "inspector", 50*time.Millisecond)
		if err == nil {
			assert.Equal(t, worker.MaxAttempts, rec.Attempt)
			_ = q.Ack(deadCtx, lease)
			return
		}
		if deadCtx.Err() != nil {
			t.Fatal("timed out waiting for job to reach the dead queue")
		}
	}
}

func TestWorkerHonorsNodeDeclaredRetryPolicyOverGlobalDefault(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()

	reg := runtime.NewScriptRegistry()
	reg.Register("always-fails", func(_ context.Context, _ *runtime.TaskContext) runtime.Result {
		return runtime.Result{Outcome: core.OutcomeFailure, Recoverable: true, Err: assert.AnError}
	})
	runner := runtime.NewRunner(reg)

	w := worker.NewWorker("w1", []string{"task"}, 1, q, bus, stores, stubLoader{}, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	node := digraph.TaskNodeSpec{
		Name: "A", BodyKind: digraph.BodyScript, BodyRef: "always-fails",
		RetryPolicy: digraph.RetryPolicySpec{MaxAttempts: 2, Backoff: 10 * time.Millisecond},
	}
	require.Less(t, node.RetryPolicy.MaxAttempts, worker.MaxAttempts, "test only proves anything if the node policy differs from the global default")
	input, err := envelope.New()
	require.NoError(t, err)
	payload, err := scheduler.EncodeDispatch(node, input)
	require.NoError(t, err)

	_, err = q.Submit(ctx, "task", core.JobRecord{
		ID: "job-1", Kind: core.JobTask, RunID: "run-7", TaskName: "A", Payload: payload,
	})
	require.NoError(t, err)

	go func() { _ = w.Start(ctx) }()

	deadCtx, deadCancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer deadCancel()
	for {
		rec, lease, err := q.Reserve(deadCtx, []string{"dead"}, "inspector", 50*time.Millisecond)
		if err == nil {
			assert.Equal(t, node.RetryPolicy.MaxAttempts, rec.Attempt)
			_ = q.Ack(deadCtx, lease)
			return
		}
		if deadCtx.Err() != nil {
			t.Fatal("timed out waiting for job to reach the dead queue")
		}
	}
}

func TestServeQueriesAnswersQuerySignal(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	runner := countingRunner(&int32Counter{})

	w := worker.NewWorker("w1", []string{"task"}, 1, q, bus, stores, stubLoader{}, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = w.ServeQueries(ctx, "run-5") }()

	reply, err := signalbus.Request(ctx, bus, "run-5", core.Signal{Kind: core.SignalQuery}, "corr-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", reply.CorrelationID)
	assert.NotEmpty(t, reply.Payload)
}

func TestWorkerWiresStoreHandleAndStopRequestedIntoTaskContext(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handle, err := stores.Create(ctx, "run-6")
	require.NoError(t, err)
	require.NoError(t, handle.Set(ctx, store.Meta(), "workflow", []byte("pipeline")))

	sawStore := make(chan bool, 1)
	sawStopBefore := make(chan bool, 1)
	sawStopAfter := make(chan bool, 1)
	reg := runtime.NewScriptRegistry()
	reg.Register("probe", func(_ context.Context, tctx *runtime.TaskContext) runtime.Result {
		sawStore <- tctx.Store != nil
		sawStopBefore <- tctx.StopRequested()
		time.Sleep(100 * time.Millisecond)
		sawStopAfter <- tctx.StopRequested()
		return runtime.Result{Outcome: core.OutcomeSuccess}
	})
	runner := runtime.NewRunner(reg)

	w := worker.NewWorker("w1", []string{"task"}, 1, q, bus, stores, stubLoader{}, runner)

	node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "probe"}
	input, err := envelope.New()
	require.NoError(t, err)
	payload, err := scheduler.EncodeDispatch(node, input)
	require.NoError(t, err)

	_, err = q.Submit(ctx, "task", core.JobRecord{
		ID: "job-1", Kind: core.JobTask, RunID: "run-6", TaskName: "A", Payload: payload,
	})
	require.NoError(t, err)

	go func() { _ = w.Start(ctx) }()

	select {
	case got := <-sawStore:
		assert.True(t, got, "task body should see a non-nil store handle for a run with a document")
	case <-ctx.Done():
		t.Fatal("timed out waiting for task body to run")
	}
	assert.False(t, <-sawStopBefore, "no stop requested yet")

	require.NoError(t, bus.Publish(ctx, core.Signal{RunID: "run-6", Kind: core.SignalStopRequest}))

	assert.Eventually(t, func() bool {
		select {
		case got := <-sawStopAfter:
			return got
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "StopRequested should observe the published stop-request")
}

var _ queue.Queue = (*memqueue.Queue)(nil)
