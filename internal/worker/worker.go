// Package worker implements the Worker Loop (component I): a process
// parameterized by the queues it services, reserving jobs and
// dispatching them to the Task Runtime, DAG Scheduler, or Workflow
// Scheduler, per spec.md §4.I.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/lightflow-run/lightflow/internal/backoff"
	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/dagrun"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/digraph/scheduler"
	"github.com/lightflow-run/lightflow/internal/envelope"
	"github.com/lightflow-run/lightflow/internal/queue"
	"github.com/lightflow-run/lightflow/internal/runtime"
	"github.com/lightflow-run/lightflow/internal/signalbus"
	"github.com/lightflow-run/lightflow/internal/store"
)

// MaxAttempts bounds how many times a job is attempted before it is
// routed to the dead-letter queue instead of requeued.
const MaxAttempts = 5

// WorkflowLoader resolves a workflow definition by name, the interface
// internal/digraph.Loader satisfies.
type WorkflowLoader interface {
	Load(name string) (digraph.WorkflowSpec, error)
}

// Worker reserves jobs from its configured queue subset and dispatches
// them to the matching component.
type Worker struct {
	ID          string
	Queues      []string
	Concurrency int

	Queue   queue.Queue
	Bus     signalbus.Bus
	Store   store.Factory
	Loader  WorkflowLoader
	Runner  *runtime.Runner

	mu        sync.Mutex
	activeJob string
}

// NewWorker builds a Worker. If id is empty, a uuid is generated.
func NewWorker(id string, queues []string, concurrency int, q queue.Queue, bus signalbus.Bus, stores store.Factory, loader WorkflowLoader, runner *runtime.Runner) *Worker {
	if id == "" {
		id = uuid.Must(uuid.NewRandom()).String()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		ID: id, Queues: queues, Concurrency: concurrency,
		Queue: q, Bus: bus, Store: stores, Loader: loader, Runner: runner,
	}
}

// Start runs the worker loop until ctx is done. It does not answer query
// signals: callers that want introspection must call ServeQueries
// separately per run id, since the worker loop itself is not scoped to
// one run.
func (w *Worker) Start(ctx context.Context) error {
	sem := make(chan struct{}, w.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case sem <- struct{}{}:
		}

		rec, lease, err := w.Queue.Reserve(ctx, w.Queues, w.ID, 2*time.Second)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, rec, lease)
		}()
	}
}

func (w *Worker) process(ctx context.Context, rec core.JobRecord, lease queue.Lease) {
	w.mu.Lock()
	w.activeJob = rec.ID
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.activeJob = ""
		w.mu.Unlock()
	}()

	var outcome error
	var recoverable bool
	var taskRetry *digraph.RetryPolicySpec

	switch rec.Kind {
	case core.JobWorkflow:
		outcome = w.runWorkflow(ctx, rec)
	case core.JobDag:
		outcome, recoverable = w.runDag(ctx, rec)
	case core.JobTask:
		// Task jobs are handed to the task runtime's invoke path. The
		// body needs the DAG's TaskNodeSpec, which the DAG Scheduler
		// embeds in the job payload via wire.go; runTask decodes it.
		var rp digraph.RetryPolicySpec
		outcome, recoverable, rp = w.runTask(ctx, rec)
		taskRetry = &rp
	default:
		outcome = fmt.Errorf("worker: unknown job kind %q", rec.Kind)
	}

	if outcome == nil {
		Metrics.JobsProcessed.WithLabelValues(string(rec.Kind), "ok").Inc()
		_ = w.Queue.Ack(ctx, lease)
		return
	}
	Metrics.JobsProcessed.WithLabelValues(string(rec.Kind), "error").Inc()

	if recoverable {
		// A task node that declared its own retry policy (spec.md §3's
		// "retry policy (max attempts, backoff)" per TaskNode) is
		// retried on that policy instead of the worker-wide default.
		if taskRetry != nil && taskRetry.MaxAttempts > 0 {
			node := digraph.TaskNodeSpec{RetryPolicy: *taskRetry}
			if delay, retry := runtime.NextRetryDelay(node, rec.Attempt+1); retry {
				rec.Attempt++
				if delay > 0 {
					time.Sleep(jitterFunc(delay))
				}
				// Resubmit instead of Nack(requeue=true), which would put
				// back the leased record with its old Attempt.
				_ = w.Queue.Nack(ctx, lease, false)
				_, _ = w.Queue.Submit(ctx, string(rec.Kind), rec)
				return
			}
		} else if rec.Attempt+1 < MaxAttempts {
			rec.Attempt++
			if delay, err := retryPolicy.ComputeNextInterval(rec.Attempt, 0, outcome); err == nil {
				time.Sleep(delay)
			}
			_ = w.Queue.Nack(ctx, lease, false)
			_, _ = w.Queue.Submit(ctx, string(rec.Kind), rec)
			return
		}
	}

	// Exhausted or non-recoverable: drop from the live queue and route
	// to the dead-letter queue for operator inspection, with Attempt
	// counting the attempts made.
	rec.Attempt++
	_ = w.Queue.Nack(ctx, lease, false)
	_, _ = w.Queue.Submit(ctx, "dead", rec)
}

func (w *Worker) runWorkflow(ctx context.Context, rec core.JobRecord) error {
	wf, err := w.Loader.Load(rec.DagName)
	if err != nil {
		return err
	}
	opts, err := dagrun.DecodeStartOptions(rec.Payload)
	if err != nil {
		return fmt.Errorf("%w: decode launch params: %v", core.ErrConfigError, err)
	}
	sched := dagrun.New(w.Queue, w.Bus, w.Store)
	_, err = sched.Run(ctx, rec.RunID, wf, opts)
	return err
}

func (w *Worker) runDag(ctx context.Context, rec core.JobRecord) (error, bool) {
	wf, err := w.Loader.Load(rec.WorkflowName)
	if err != nil {
		return err, false
	}
	dag, ok := wf.Dag(rec.DagName)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, rec.DagName), false
	}

	var initial *envelope.Envelope
	if len(rec.Payload) > 0 {
		initial, _ = scheduler.DecodeEnvelope(rec.Payload)
	}

	policy := core.PolicyStrict
	if dag.FailurePolicy == string(core.PolicyLenient) {
		policy = core.PolicyLenient
	}

	sched := scheduler.New(w.Queue, w.Bus)
	_, err = sched.Run(ctx, rec.RunID, dag, initial, policy)
	return err, true
}

func (w *Worker) runTask(ctx context.Context, rec core.JobRecord) (error, bool, digraph.RetryPolicySpec) {
	node, input, err := scheduler.DecodeDispatch(rec.Payload)
	if err != nil {
		return fmt.Errorf("%w: decode task payload: %v", core.ErrDataRoutingError, err), false, digraph.RetryPolicySpec{}
	}

	// The store document is created by the workflow scheduler before any
	// DAG runs; a task submitted standalone (e.g. in isolation tests)
	// has no document yet, so a body simply sees a nil store handle
	// rather than the job failing.
	handle, err := w.Store.Open(ctx, rec.RunID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err), true, node.RetryPolicy
	}

	stopCtx, cancelStopWatch := context.WithCancel(ctx)
	defer cancelStopWatch()
	tctx := &runtime.TaskContext{
		RunID: rec.RunID, DagName: rec.DagName, TaskName: rec.TaskName,
		Attempt: rec.Attempt, Store: handle,
		StopRequested: watchStopRequested(stopCtx, w.Bus, rec.RunID),
	}
	res := w.Runner.Invoke(ctx, node, tctx, input)
	Metrics.TasksByResult.WithLabelValues(string(res.Outcome)).Inc()

	payload, encErr := scheduler.EncodeCompletion(res.Output, res.Routing)
	if encErr != nil {
		return encErr, false, node.RetryPolicy
	}
	sig := core.Signal{RunID: rec.RunID, DagName: rec.DagName, TaskName: rec.TaskName, Payload: payload}
	sig.Kind = runtime.SignalForResult(res)
	if err := w.Bus.Publish(ctx, sig); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalUnavailable, err), true, node.RetryPolicy
	}

	if res.Outcome == core.OutcomeFailure {
		return res.Err, res.Recoverable, node.RetryPolicy
	}
	return nil, false, node.RetryPolicy
}

// watchStopRequested subscribes to runID's signal channel and returns a
// closure a long-running task body can poll to learn whether a
// cooperative stop or abort has been requested, per spec.md §5's
// "isStopRequested" capability. The subscription is torn down when ctx
// is done.
func watchStopRequested(ctx context.Context, bus signalbus.Bus, runID string) func() bool {
	var flag atomicBool
	ch, err := bus.Subscribe(ctx, runID)
	if err != nil {
		return func() bool { return false }
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Kind == core.SignalStopRequest || sig.Kind == core.SignalAbortRequest {
					flag.set()
				}
			}
		}
	}()
	return flag.get
}

// atomicBool is a minimal latch: set-once, read-many, no reset.
type atomicBool struct {
	mu  sync.Mutex
	val bool
}

func (b *atomicBool) set()      { b.mu.Lock(); b.val = true; b.mu.Unlock() }
func (b *atomicBool) get() bool { b.mu.Lock(); defer b.mu.Unlock(); return b.val }

// QueryReply answers a query signal with this worker's identity,
// current job, queue set, and host load.
func (w *Worker) QueryReply(ctx context.Context, correlationID string) core.WorkerQueryReply {
	w.mu.Lock()
	active := w.activeJob
	w.mu.Unlock()

	reply := core.WorkerQueryReply{WorkerID: w.ID, ActiveJobID: active, Queues: w.Queues}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		reply.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		reply.MemPercent = vm.UsedPercent
	}
	return reply
}

// ServeQueries answers query signals on runID's channel until ctx is
// done, publishing a query-reply carrying this worker's QueryReply.
func (w *Worker) ServeQueries(ctx context.Context, runID string) error {
	ch, err := w.Bus.Subscribe(ctx, runID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if sig.Kind != core.SignalQuery {
				continue
			}
			reply := w.QueryReply(ctx, sig.CorrelationID)
			payload, _ := json.Marshal(reply)
			_ = w.Bus.Publish(ctx, core.Signal{
				RunID: runID, Kind: core.SignalQueryReply,
				CorrelationID: sig.CorrelationID, Payload: payload,
			})
		}
	}
}

// retryPolicy governs the delay before a recoverable job failure is
// requeued when its task node declared no retry policy of its own,
// jittered to avoid every worker retrying in lockstep.
var retryPolicy = backoff.WithJitter(backoff.NewExponentialBackoffPolicy(200*time.Millisecond), backoff.FullJitter)

// jitterFunc applies the same full-jitter spread to a task node's
// declared backoff duration.
var jitterFunc = backoff.NewJitterFunc(backoff.FullJitter)
