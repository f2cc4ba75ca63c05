package runtime

import (
	"bytes"
	"context"
	"fmt"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/envelope"
)

// CommandRunner executes a BodyCommand task's shell command line through
// an embedded POSIX shell interpreter rather than shelling out to a host
// /bin/sh, so command tasks behave identically regardless of the host.
type CommandRunner struct{}

// NewCommandRunner builds a CommandRunner.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run parses and executes commandLine, feeding the task's input view in
// as environment variables (LIGHTFLOW_INPUT_<ALIAS>) and capturing
// stdout as the single output slot "stdout"; stderr is only used in the
// error of a non-zero exit.
func (c *CommandRunner) Run(ctx context.Context, commandLine string, tctx *TaskContext) Result {
	file, err := syntax.NewParser().Parse(bytesReader(commandLine), "")
	if err != nil {
		return Result{
			Outcome:  core.OutcomeFailure,
			FailKind: "command-parse-error",
			Err:      fmt.Errorf("%w: parse command: %v", core.ErrTaskBodyError, err),
		}
	}

	var stdout, stderr bytes.Buffer
	env := commandEnv(tctx)
	runner, err := interp.New(
		interp.StdIO(nil, &stdout, &stderr),
		interp.Env(env),
	)
	if err != nil {
		return Result{
			Outcome:  core.OutcomeFailure,
			FailKind: "command-setup-error",
			Err:      fmt.Errorf("%w: build interpreter: %v", core.ErrTaskBodyError, err),
		}
	}

	if err := runner.Run(ctx, file); err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return Result{
				Outcome:  core.OutcomeFailure,
				FailKind: "command-exit",
				Err:      fmt.Errorf("%w: command exited with status %d: %s", core.ErrTaskBodyError, status, stderr.String()),
				Recoverable: true,
			}
		}
		return Result{
			Outcome:  core.OutcomeFailure,
			FailKind: "command-error",
			Err:      fmt.Errorf("%w: %v", core.ErrTaskBodyError, err),
			Recoverable: true,
		}
	}

	out, buildErr := envelope.New(envelope.Slice{
		Slot:    "stdout",
		Payload: stdout.Bytes(),
		History: []string{tctx.TaskName},
	})
	if buildErr != nil {
		return Result{Outcome: core.OutcomeFailure, FailKind: "envelope-error", Err: buildErr}
	}
	return Result{Outcome: core.OutcomeSuccess, Output: out}
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

func commandEnv(tctx *TaskContext) expand.Environ {
	vars := []string{
		"LIGHTFLOW_RUN_ID=" + tctx.RunID,
		"LIGHTFLOW_DAG_NAME=" + tctx.DagName,
		"LIGHTFLOW_TASK_NAME=" + tctx.TaskName,
	}
	for alias, slice := range tctx.Input {
		vars = append(vars, fmt.Sprintf("LIGHTFLOW_INPUT_%s=%s", alias, string(slice.Payload)))
	}
	return expand.ListEnviron(vars...)
}
