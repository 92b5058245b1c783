package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	id   string
	deps []string
}

func (n testNode) NodeID() string      { return n.id }
func (n testNode) DependsOn() []string { return n.deps }

func TestTopologicalOrder_LinearChain(t *testing.T) {
	nodes := []Node{
		testNode{id: "c", deps: []string{"b"}},
		testNode{id: "a"},
		testNode{id: "b", deps: []string{"a"}},
	}

	ordered, err := TopologicalOrder(nodes)
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	pos := map[string]int{}
	for i, n := range ordered {
		pos[n.NodeID()] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestTopologicalOrder_DetectsCycle(t *testing.T) {
	nodes := []Node{
		testNode{id: "a", deps: []string{"b"}},
		testNode{id: "b", deps: []string{"a"}},
	}

	_, err := TopologicalOrder(nodes)
	assert.Error(t, err)
}

func TestTopologicalOrder_ExternalDependencyIgnored(t *testing.T) {
	nodes := []Node{
		testNode{id: "a", deps: []string{"outside-the-set"}},
	}

	ordered, err := TopologicalOrder(nodes)
	require.NoError(t, err)
	require.Len(t, ordered, 1)
}

func TestTopologicalOrder_EmptySet(t *testing.T) {
	ordered, err := TopologicalOrder(nil)
	require.NoError(t, err)
	assert.Empty(t, ordered)
}

func TestValidateDAG_NoDependenciesAlwaysClean(t *testing.T) {
	err := ValidateDAG(nil, testNode{id: "a"}, nil)
	assert.NoError(t, err)
}

func TestValidateDAG_ManualDetectsCycle(t *testing.T) {
	all := []Node{testNode{id: "a", deps: []string{"b"}}}
	newNode := testNode{id: "b", deps: []string{"a"}}

	err := ValidateDAG(nil, newNode, all)
	assert.Error(t, err)
}

func TestValidateDAG_ManualAllowsAcyclicAddition(t *testing.T) {
	all := []Node{testNode{id: "a"}}
	newNode := testNode{id: "b", deps: []string{"a"}}

	err := ValidateDAG(nil, newNode, all)
	assert.NoError(t, err)
}

type stubCycleChecker struct {
	cyclic bool
	err    error
}

func (s stubCycleChecker) WouldCreateCycle(nodeID, dependencyID string) (bool, error) {
	return s.cyclic, s.err
}

func TestValidateDAG_UsesNativeCheckerWhenClean(t *testing.T) {
	checker := stubCycleChecker{cyclic: true} // would be wrong if the manual fallback ran instead
	newNode := testNode{id: "b", deps: []string{"a"}}

	err := ValidateDAG(checker, newNode, nil)
	assert.Error(t, err, "native checker reporting a cycle must be trusted")
}

func TestValidateDAG_FallsBackToManualOnCheckerError(t *testing.T) {
	checker := stubCycleChecker{err: errors.New("backend unavailable")}
	all := []Node{testNode{id: "a"}}
	newNode := testNode{id: "b", deps: []string{"a"}}

	err := ValidateDAG(checker, newNode, all)
	assert.NoError(t, err, "a healthy manual fallback should still validate a genuinely acyclic addition")
}
