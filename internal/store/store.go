// Package store defines the persistent store handle abstraction: a
// per-workflow-run keyed document with scoped sub-sections, per spec.md
// §4.D.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("store: key not found")

// Section identifies one of the document's scoped sub-sections, the
// layout prefixes from spec.md §3.
type Section string

// Meta builds the meta/* section.
func Meta() Section { return "meta" }

// Workflow builds the workflow/* section.
func Workflow() Section { return "workflow" }

// Dag builds the dag/<dagName>/* section.
func Dag(dagName string) Section { return Section("dag/" + dagName) }

// Task builds the task/<dagName>/<taskName>/* section.
func Task(dagName, taskName string) Section { return Section("task/" + dagName + "/" + taskName) }

// Handle is the per-run document handle. Writes are keyed; readers across
// tasks see last-writer-wins per key. No cross-key transactions are
// provided.
type Handle interface {
	Get(ctx context.Context, section Section, key string) ([]byte, error)
	Set(ctx context.Context, section Section, key string, value []byte) error
	// Push appends value to a list-valued key, creating it if absent.
	Push(ctx context.Context, section Section, key string, value []byte) error
	Exists(ctx context.Context, section Section, key string) (bool, error)
	Delete(ctx context.Context, section Section, key string) error
}

// Factory creates and tears down per-run Handles.
type Factory interface {
	// Create allocates a new document for runID. It is an error to
	// Create a runID that already exists.
	Create(ctx context.Context, runID string) (Handle, error)
	// Open returns the Handle for an existing runID.
	Open(ctx context.Context, runID string) (Handle, error)
	// Remove deletes runID's document entirely, once the run has
	// reached a terminal state.
	Remove(ctx context.Context, runID string) error
}
