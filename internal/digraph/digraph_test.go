package digraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLinearDag(t *testing.T) {
	g, err := New("main", []string{"A", "B"}, []Edge{{Parent: "A", Child: "B"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A"}, g.Roots())
	assert.ElementsMatch(t, []string{"B"}, g.Leaves())
	assert.Equal(t, 0, g.InDegree("A"))
	assert.Equal(t, 1, g.InDegree("B"))
}

func TestNewRejectsCycle(t *testing.T) {
	_, err := New("main", []string{"A", "B", "C"}, []Edge{
		{Parent: "A", Child: "B"},
		{Parent: "B", Child: "C"},
		{Parent: "C", Child: "A"},
	})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Cycle)
}

func TestNewRejectsUndeclaredEndpoint(t *testing.T) {
	_, err := New("main", []string{"A"}, []Edge{{Parent: "A", Child: "B"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestNewRejectsDuplicateNodeName(t *testing.T) {
	_, err := New("main", []string{"A", "A"}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFanOutFanIn(t *testing.T) {
	g, err := New("main", []string{"A", "B", "C", "D"}, []Edge{
		{Parent: "A", Child: "B", Slot: "x"},
		{Parent: "A", Child: "C", Slot: "y"},
		{Parent: "B", Child: "D"},
		{Parent: "C", Child: "D"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, g.InDegree("D"))
	assert.ElementsMatch(t, []string{"B", "C"}, g.Parents("D"))
}

func TestSkipDescendantsPropagatesOnlyWithoutLiveParent(t *testing.T) {
	// A -> B -> C, A -> D. Skipping B should skip C (its only parent is
	// skipped) but never touch D (unrelated branch).
	g, err := New("main", []string{"A", "B", "C", "D"}, []Edge{
		{Parent: "A", Child: "B"},
		{Parent: "B", Child: "C"},
		{Parent: "A", Child: "D"},
	})
	require.NoError(t, err)

	skipped := g.SkipDescendants([]string{"B"}, func(string) bool { return false })
	assert.ElementsMatch(t, []string{"B", "C"}, skipped)
}

func TestSkipDescendantsStopsAtLiveParent(t *testing.T) {
	// B -> D, C -> D. Skipping B alone must not skip D because C (live)
	// still feeds it.
	g, err := New("main", []string{"B", "C", "D"}, []Edge{
		{Parent: "B", Child: "D"},
		{Parent: "C", Child: "D"},
	})
	require.NoError(t, err)

	skipped := g.SkipDescendants([]string{"B"}, func(string) bool { return false })
	assert.ElementsMatch(t, []string{"B"}, skipped)
}
