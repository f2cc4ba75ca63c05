package digraph

import (
	"fmt"
	"time"
)

// BodyKind tags which variant of task body a TaskNode carries, per
// spec.md §9's guidance to model task bodies as a tagged variant rather
// than a single dynamic call signature.
type BodyKind string

const (
	// BodyScript runs in-process user code resolved by name from a
	// registry the caller supplies to the task runtime.
	BodyScript BodyKind = "script"
	// BodyCommand spawns an external process via the shell interpreter.
	BodyCommand BodyKind = "command"
)

// RetryPolicySpec is the declared retry policy for a TaskNode.
type RetryPolicySpec struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// TaskNodeSpec is one task node's declaration within a DagSpec.
type TaskNodeSpec struct {
	Name         string          `yaml:"name"`
	BodyKind     BodyKind        `yaml:"bodyKind"`
	BodyRef      string          `yaml:"bodyRef"`
	InputSlots   []string        `yaml:"inputSlots,omitempty"`
	OutputSlots  []string        `yaml:"outputSlots,omitempty"`
	RetryPolicy  RetryPolicySpec `yaml:"retryPolicy,omitempty"`
	StrictInput  bool            `yaml:"strictInput,omitempty"`
	TimeoutAfter time.Duration   `yaml:"timeoutAfter,omitempty"`
}

// EdgeSpec is one declared parent->child edge within a DagSpec.
type EdgeSpec struct {
	Parent string `yaml:"parent"`
	Child  string `yaml:"child"`
	Slot   string `yaml:"slot,omitempty"`
}

// DagSpec is the declared shape of one DAG, as stored in a workflow file.
type DagSpec struct {
	Name          string         `yaml:"name"`
	Nodes         []TaskNodeSpec `yaml:"nodes"`
	Edges         []EdgeSpec     `yaml:"edges"`
	Autostart     *bool          `yaml:"autostart,omitempty"`
	FailurePolicy string         `yaml:"failurePolicy,omitempty"`
}

// IsAutostart reports whether this DAG is enqueued automatically when its
// workflow starts (the default) or only via an explicit run-dag signal.
func (d DagSpec) IsAutostart() bool {
	return d.Autostart == nil || *d.Autostart
}

// WorkflowSpec is a user-authored bundle of DAGs plus a description, the
// unit returned by `workflow list` and consumed by `workflow start`.
type WorkflowSpec struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Dags        []DagSpec `yaml:"dags"`
}

// Node by looks up one task node by name within a DagSpec.
func (d DagSpec) Node(name string) (TaskNodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return TaskNodeSpec{}, false
}

// ToGraph compiles a DagSpec's nodes/edges into a validated Graph.
func (d DagSpec) ToGraph() (*Graph, error) {
	names := make([]string, len(d.Nodes))
	for i, n := range d.Nodes {
		names[i] = n.Name
	}
	edges := make([]Edge, len(d.Edges))
	for i, e := range d.Edges {
		edges[i] = Edge{Parent: e.Parent, Child: e.Child, Slot: e.Slot}
	}
	g, err := New(d.Name, names, edges)
	if err != nil {
		return nil, fmt.Errorf("dag %q: %w", d.Name, err)
	}
	return g, nil
}

// Dag looks up one DagSpec by name within a WorkflowSpec.
func (w WorkflowSpec) Dag(name string) (DagSpec, bool) {
	for _, d := range w.Dags {
		if d.Name == name {
			return d, true
		}
	}
	return DagSpec{}, false
}
