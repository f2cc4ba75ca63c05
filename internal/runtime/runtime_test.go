package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/envelope"
)

func emptyEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	e, err := envelope.New()
	require.NoError(t, err)
	return e
}

func TestInvokeScriptSuccess(t *testing.T) {
	registry := NewScriptRegistry()
	registry.Register("print", func(ctx context.Context, tctx *TaskContext) Result {
		out, _ := envelope.New(envelope.Slice{Slot: "x", Payload: []byte("1")})
		return Result{Outcome: core.OutcomeSuccess, Output: out}
	})
	runner := NewRunner(registry)

	node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "print"}
	tctx := &TaskContext{RunID: "r1", DagName: "main", TaskName: "A"}

	res := runner.Invoke(context.Background(), node, tctx, emptyEnvelope(t))
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)
	slot, ok := res.Output.Slot("x")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), slot.Payload)
}

func TestInvokeUnknownBodyRef(t *testing.T) {
	runner := NewRunner(NewScriptRegistry())
	node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "missing"}
	tctx := &TaskContext{RunID: "r1", DagName: "main", TaskName: "A"}

	res := runner.Invoke(context.Background(), node, tctx, emptyEnvelope(t))
	assert.Equal(t, core.OutcomeFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrTaskBodyError)
}

func TestInvokeRecoversFromPanic(t *testing.T) {
	registry := NewScriptRegistry()
	registry.Register("boom", func(ctx context.Context, tctx *TaskContext) Result {
		panic("kaboom")
	})
	runner := NewRunner(registry)
	node := digraph.TaskNodeSpec{Name: "A", BodyKind: digraph.BodyScript, BodyRef: "boom"}
	tctx := &TaskContext{RunID: "r1", DagName: "main", TaskName: "A"}

	res := runner.Invoke(context.Background(), node, tctx, emptyEnvelope(t))
	assert.Equal(t, core.OutcomeFailure, res.Outcome)
	assert.Equal(t, "panic", res.FailKind)
}

func TestInvokeStrictInputRejectsEmpty(t *testing.T) {
	runner := NewRunner(NewScriptRegistry())
	node := digraph.TaskNodeSpec{
		Name: "A", BodyKind: digraph.BodyScript, BodyRef: "print",
		InputSlots:  []string{"x"},
		StrictInput: true,
	}
	tctx := &TaskContext{RunID: "r1", DagName: "main", TaskName: "A"}

	res := runner.Invoke(context.Background(), node, tctx, emptyEnvelope(t))
	assert.Equal(t, core.OutcomeFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrDataRoutingError)
}

func TestSignalForResult(t *testing.T) {
	assert.Equal(t, core.SignalTaskCompleted, SignalForResult(Result{Outcome: core.OutcomeSuccess}))
	assert.Equal(t, core.SignalTaskCompleted, SignalForResult(Result{Outcome: core.OutcomeSuccessStopDag}))
	assert.Equal(t, core.SignalAbortRequest, SignalForResult(Result{Outcome: core.OutcomeAbortWorkflow}))
	assert.Equal(t, core.SignalTaskFailed, SignalForResult(Result{Outcome: core.OutcomeFailure}))
}

func TestCommandRunnerCapturesStdout(t *testing.T) {
	runner := NewCommandRunner()
	tctx := &TaskContext{RunID: "r1", DagName: "main", TaskName: "A"}
	res := runner.Run(context.Background(), "echo -n hello", tctx)
	require.Equal(t, core.OutcomeSuccess, res.Outcome)
	slot, ok := res.Output.Slot("stdout")
	require.True(t, ok)
	assert.Equal(t, "hello", string(slot.Payload))
}

func TestCommandRunnerNonZeroExit(t *testing.T) {
	runner := NewCommandRunner()
	tctx := &TaskContext{RunID: "r1", DagName: "main", TaskName: "A"}
	res := runner.Run(context.Background(), "exit 3", tctx)
	assert.Equal(t, core.OutcomeFailure, res.Outcome)
	assert.True(t, res.Recoverable)
}
