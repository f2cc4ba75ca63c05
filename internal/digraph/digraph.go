// Package digraph implements the DAG model: construction from an
// adjacency mapping, acyclicity/endpoint validation, and the derived
// views (in-degree, roots, leaves, reverse adjacency) the scheduler
// needs, per spec.md §4.E.
package digraph

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/lightflow-run/lightflow/internal/core"
)

// Edge is a parent->child edge, optionally labeled with the slot name it
// carries.
type Edge struct {
	Parent string
	Child  string
	Slot   string
}

// Graph is a validated, acyclic directed graph of task node names.
type Graph struct {
	Name  string
	nodes map[string]bool
	// out[parent] lists outgoing edges in declaration order.
	out map[string][]Edge
	// in[child] lists incoming edges in declaration order.
	in map[string][]Edge
}

// CycleError is returned by New when the adjacency mapping contains a
// cycle; Cycle lists the nodes of one offending cycle, ending with the
// node it started from.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %v", core.ErrDagCycle, e.Cycle)
}

func (e *CycleError) Unwrap() error { return core.ErrDagCycle }

// ValidationError reports a structural problem other than a cycle.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%v: %s", core.ErrDagValidation, e.Reason) }
func (e *ValidationError) Unwrap() error  { return core.ErrDagValidation }

// New constructs a Graph from its declared node names and edges. It
// rejects duplicate node names, edges referencing undeclared nodes, and
// any cycle.
func New(name string, nodeNames []string, edges []Edge) (*Graph, error) {
	nodes := make(map[string]bool, len(nodeNames))
	for _, n := range nodeNames {
		if nodes[n] {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate node name %q", n)}
		}
		nodes[n] = true
	}

	g := &Graph{
		Name:  name,
		nodes: nodes,
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
	for _, e := range edges {
		if !nodes[e.Parent] {
			return nil, &ValidationError{Reason: fmt.Sprintf("edge references undeclared node %q", e.Parent)}
		}
		if !nodes[e.Child] {
			return nil, &ValidationError{Reason: fmt.Sprintf("edge references undeclared node %q", e.Child)}
		}
		g.out[e.Parent] = append(g.out[e.Parent], e)
		g.in[e.Child] = append(g.in[e.Child], e)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}
	return g, nil
}

// Nodes returns the declared node names in no particular order.
func (g *Graph) Nodes() []string { return lo.Keys(g.nodes) }

// HasNode reports whether name is a declared node.
func (g *Graph) HasNode(name string) bool { return g.nodes[name] }

// Out returns the outgoing edges of node, in declaration order.
func (g *Graph) Out(node string) []Edge { return g.out[node] }

// In returns the incoming edges of node, in declaration order.
func (g *Graph) In(node string) []Edge { return g.in[node] }

// InDegree returns the number of incoming edges of node.
func (g *Graph) InDegree(node string) int { return len(g.in[node]) }

// Roots returns every node with in-degree 0.
func (g *Graph) Roots() []string {
	var roots []string
	for n := range g.nodes {
		if g.InDegree(n) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Leaves returns every node with out-degree 0.
func (g *Graph) Leaves() []string {
	var leaves []string
	for n := range g.nodes {
		if len(g.out[n]) == 0 {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// Children returns the distinct child node names reachable from node via
// a single edge.
func (g *Graph) Children(node string) []string {
	return lo.Uniq(lo.Map(g.out[node], func(e Edge, _ int) string { return e.Child }))
}

// Parents returns the distinct parent node names of node.
func (g *Graph) Parents(node string) []string {
	return lo.Uniq(lo.Map(g.in[node], func(e Edge, _ int) string { return e.Parent }))
}

// findCycle runs a DFS over the graph and returns one cycle's node names
// if present, or nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		stack = append(stack, node)
		for _, child := range g.Children(node) {
			switch color[child] {
			case white:
				if visit(child) {
					return true
				}
			case gray:
				// Found the back edge; extract the cycle from stack.
				idx := 0
				for i, n := range stack {
					if n == child {
						idx = i
						break
					}
				}
				cycle = append([]string(nil), stack[idx:]...)
				cycle = append(cycle, child)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return false
	}

	for n := range g.nodes {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// SkipDescendants returns the nodes that must become skipped when skip
// status propagates downstream from initial, given the nodes already
// skipped elsewhere in the run (alreadySkipped). A descendant with at
// least one parent outside the (growing) skipped set still runs, per
// spec.md §4.E's skip propagation rule.
func (g *Graph) SkipDescendants(initial []string, alreadySkipped func(node string) bool) []string {
	skipped := make(map[string]bool, len(initial))
	for _, n := range initial {
		skipped[n] = true
	}
	isSkipped := func(n string) bool { return skipped[n] || alreadySkipped(n) }

	queue := append([]string(nil), initial...)
	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)
		for _, child := range g.Children(node) {
			if isSkipped(child) {
				continue
			}
			if hasLiveParent(g, child, isSkipped) {
				continue
			}
			skipped[child] = true
			queue = append(queue, child)
		}
	}
	return result
}

func hasLiveParent(g *Graph, node string, isSkipped func(string) bool) bool {
	for _, p := range g.Parents(node) {
		if !isSkipped(p) {
			return true
		}
	}
	return false
}
