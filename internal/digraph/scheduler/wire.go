package scheduler

import (
	"encoding/json"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/digraph"
	"github.com/lightflow-run/lightflow/internal/envelope"
)

// taskCompletion is the wire payload carried by a task-completed signal:
// the emitted envelope plus any routing decision. Signal payloads are an
// internal wire format between this scheduler and the task runtime, not
// a user-facing artifact, so plain encoding/json is used rather than the
// YAML config format (no ecosystem serialization library in the pack
// targets small internal control-message envelopes specifically).
type taskCompletion struct {
	Slices  []envelope.Slice    `json:"slices"`
	Routing core.RoutingDecision `json:"routing"`
}

func encodeEnvelope(e *envelope.Envelope) ([]byte, error) {
	return json.Marshal(taskCompletion{Slices: e.Slices()})
}

// EncodeCompletion builds the payload for a task-completed signal, for
// use by the task runtime's worker-side dispatch.
func EncodeCompletion(output *envelope.Envelope, routing core.RoutingDecision) ([]byte, error) {
	tc := taskCompletion{Routing: routing}
	if output != nil {
		tc.Slices = output.Slices()
	}
	return json.Marshal(tc)
}

func decodeEnvelope(payload []byte) (*envelope.Envelope, error) {
	var tc taskCompletion
	if err := json.Unmarshal(payload, &tc); err != nil {
		return nil, err
	}
	return envelope.New(tc.Slices...)
}

// EncodeEnvelope serializes e alone, for callers (such as the workflow
// scheduler enqueueing a dag job) that only need to carry an envelope
// across the job queue, not a routing decision.
func EncodeEnvelope(e *envelope.Envelope) ([]byte, error) {
	return encodeEnvelope(e)
}

// DecodeEnvelope is the counterpart to EncodeEnvelope, used by a DAG
// job's consumer to recover the seed envelope before calling
// Scheduler.Run.
func DecodeEnvelope(payload []byte) (*envelope.Envelope, error) {
	return decodeEnvelope(payload)
}

func decodeRouting(payload []byte) core.RoutingDecision {
	var tc taskCompletion
	if json.Unmarshal(payload, &tc) != nil {
		return core.RoutingDecision{}
	}
	return tc.Routing
}

// taskDispatch is the wire payload a task job carries: the node's full
// declaration plus the merged input envelope, so a task worker needs no
// separate lookup against the workflow loader to invoke the body.
type taskDispatch struct {
	Node  digraph.TaskNodeSpec `json:"node"`
	Input []envelope.Slice     `json:"input"`
}

// EncodeDispatch builds a task job's payload.
func EncodeDispatch(node digraph.TaskNodeSpec, input *envelope.Envelope) ([]byte, error) {
	return json.Marshal(taskDispatch{Node: node, Input: input.Slices()})
}

// DecodeDispatch is the task worker's counterpart to EncodeDispatch.
func DecodeDispatch(payload []byte) (digraph.TaskNodeSpec, *envelope.Envelope, error) {
	var td taskDispatch
	if err := json.Unmarshal(payload, &td); err != nil {
		return digraph.TaskNodeSpec{}, nil, err
	}
	input, err := envelope.New(td.Input...)
	return td.Node, input, err
}
