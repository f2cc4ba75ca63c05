package core

import "time"

// JobRecord is the unit of work carried on a queue, owned by the broker
// until a worker acknowledges it.
type JobRecord struct {
	ID       string
	Kind     JobKind
	RunID    string
	// WorkflowName names the owning workflow, set on JobDag records so a
	// worker can resolve the loader entry without a separate lookup table.
	WorkflowName string
	DagName      string
	TaskName     string
	Payload      []byte
	Attempt      int
}

// Signal is one message on the run-scoped control channel.
type Signal struct {
	RunID         string
	Kind          SignalKind
	DagName       string
	TaskName      string
	CorrelationID string
	Payload       []byte
	PublishedAt   time.Time
}

// RoutingDecision accompanies a Success outcome and restricts/annotates how
// the emitted envelope is propagated to a task's children.
type RoutingDecision struct {
	// OnlyTo, when non-empty, restricts delivery to these child node names.
	OnlyTo []string
	// Skip names descendants to mark skipped instead of dispatched.
	Skip []string
}

// WorkerQueryReply is the payload of a query-reply signal answering an
// introspection query addressed to a specific worker.
type WorkerQueryReply struct {
	WorkerID    string   `json:"workerId"`
	ActiveJobID string   `json:"activeJobId,omitempty"`
	Queues      []string `json:"queues"`
	CPUPercent  float64  `json:"cpuPercent,omitempty"`
	MemPercent  float64  `json:"memPercent,omitempty"`
}
