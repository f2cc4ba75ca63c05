// Package runtime implements the task runtime (component F): resolving a
// task definition, materializing its input view, invoking its body, and
// classifying the result into the outcomes spec.md §4.F defines.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/envelope"
	"github.com/lightflow-run/lightflow/internal/store"
)

// Result is a task body's classified outcome, per spec.md §4.F step 4.
type Result struct {
	Outcome  core.Outcome
	Output   *envelope.Envelope
	Routing  core.RoutingDecision
	FailKind string
	Err      error
	// Recoverable reports whether a Failure should be retried per the
	// node's retry policy, or surfaced immediately.
	Recoverable bool
}

// TaskContext is the bundle a body is invoked with: data view, store
// handle, signal publisher, and identifiers, per spec.md §9's capability
// framing instead of a single dynamic call signature.
type TaskContext struct {
	RunID    string
	DagName  string
	TaskName string
	Attempt  int

	Input map[string]envelope.Slice
	Store store.Handle

	// StopRequested reports whether a cooperative stop has been
	// requested for this run, so long-running bodies can exit early.
	StopRequested func() bool
}

// ScriptBody is a user-supplied in-process task body.
type ScriptBody func(ctx context.Context, tctx *TaskContext) Result

// ScriptRegistry resolves script body references to their implementation.
// Task bodies are opaque per spec.md scope, but the engine still needs a
// concrete way to turn a bodyRef string into a callable.
type ScriptRegistry struct {
	bodies map[string]ScriptBody
}

// NewScriptRegistry builds an empty registry.
func NewScriptRegistry() *ScriptRegistry {
	return &ScriptRegistry{bodies: make(map[string]ScriptBody)}
}

// Register adds or replaces the body for ref.
func (r *ScriptRegistry) Register(ref string, body ScriptBody) {
	r.bodies[ref] = body
}

// Lookup resolves ref to a body, or reports it is unknown.
func (r *ScriptRegistry) Lookup(ref string) (ScriptBody, bool) {
	b, ok := r.bodies[ref]
	return b, ok
}

// Runner executes a single task node for the task runtime.
type Runner struct {
	scripts *ScriptRegistry
	command *CommandRunner
}

// NewRunner builds a Runner backed by scripts for BodyScript nodes and a
// default CommandRunner for BodyCommand nodes.
func NewRunner(scripts *ScriptRegistry) *Runner {
	return &Runner{scripts: scripts, command: NewCommandRunner()}
}

// Invoke resolves node's body kind, materializes its input view, invokes
// the body, and returns its classified Result. It never panics on user
// error: a script body panic or a non-zero command exit is converted to
// a Failure result, matching spec.md §7's "the worker never crashes on
// user error".
func (r *Runner) Invoke(ctx context.Context, node digraph.TaskNodeSpec, tctx *TaskContext, accumulated *envelope.Envelope) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{
				Outcome:  core.OutcomeFailure,
				FailKind: "panic",
				Err:      fmt.Errorf("task %s/%s panicked: %v", tctx.DagName, tctx.TaskName, rec),
			}
		}
	}()

	aliases := make(map[string]string, len(node.InputSlots))
	for _, slot := range node.InputSlots {
		aliases[slot] = slot
	}
	view, err := envelope.SelectForTask(accumulated, aliases, node.StrictInput)
	if err != nil {
		return Result{
			Outcome:  core.OutcomeFailure,
			FailKind: "data-routing",
			Err:      fmt.Errorf("%w: %v", core.ErrDataRoutingError, err),
		}
	}
	tctx.Input = view

	if node.TimeoutAfter > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, node.TimeoutAfter)
		defer cancel()
	}

	switch node.BodyKind {
	case digraph.BodyScript:
		body, ok := r.scripts.Lookup(node.BodyRef)
		if !ok {
			return Result{
				Outcome:  core.OutcomeFailure,
				FailKind: "unknown-body-ref",
				Err:      fmt.Errorf("%w: script body %q not registered", core.ErrTaskBodyError, node.BodyRef),
			}
		}
		return r.runWithDeadline(ctx, func() (res Result) {
			// The body runs on its own goroutine, out of reach of the
			// recover above.
			defer func() {
				if rec := recover(); rec != nil {
					res = Result{
						Outcome:  core.OutcomeFailure,
						FailKind: "panic",
						Err:      fmt.Errorf("task %s/%s panicked: %v", tctx.DagName, tctx.TaskName, rec),
					}
				}
			}()
			return body(ctx, tctx)
		})
	case digraph.BodyCommand:
		return r.command.Run(ctx, node.BodyRef, tctx)
	default:
		return Result{
			Outcome:  core.OutcomeFailure,
			FailKind: "unknown-body-kind",
			Err:      fmt.Errorf("%w: unknown body kind %q", core.ErrTaskBodyError, node.BodyKind),
		}
	}
}

func (r *Runner) runWithDeadline(ctx context.Context, fn func() Result) Result {
	done := make(chan Result, 1)
	go func() { done <- fn() }()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{
			Outcome:  core.OutcomeFailure,
			FailKind: "timeout",
			Err:      fmt.Errorf("%w", core.ErrTimeout),
		}
	}
}

// SignalForResult maps a classified Result to the signal kind that must
// be published before the owning job is acked, per spec.md §4.F step 5
// and the at-least-once invariant in §8.
func SignalForResult(res Result) core.SignalKind {
	switch res.Outcome {
	case core.OutcomeSuccess, core.OutcomeSuccessStopDag, core.OutcomeSuccessStopWorkflow:
		return core.SignalTaskCompleted
	case core.OutcomeAbortWorkflow:
		return core.SignalAbortRequest
	default:
		return core.SignalTaskFailed
	}
}

// NextRetryDelay applies node's retry policy to decide whether attempt
// should be retried, and if so, after how long.
func NextRetryDelay(node digraph.TaskNodeSpec, attempt int) (delay time.Duration, retry bool) {
	if node.RetryPolicy.MaxAttempts <= 0 || attempt >= node.RetryPolicy.MaxAttempts {
		return 0, false
	}
	if node.RetryPolicy.Backoff <= 0 {
		return 0, true
	}
	return node.RetryPolicy.Backoff, true
}
