// Package graph provides dependency-graph utilities shared by the ingestion
// batch processor (flush ordering) and the analysis engine (impact
// traversal): cycle detection and topological sorting over anything that
// exposes a stable id and a list of dependency ids.
package graph

import "fmt"

// Node is anything that can participate in a dependency DAG: a pending
// entity/relationship write, an impact-analysis frontier item, and so on.
type Node interface {
	NodeID() string
	DependsOn() []string
}

// CycleChecker lets a backing store short-circuit cycle detection with a
// native graph query (e.g. a Cypher path-exists check) instead of the
// in-memory DFS fallback.
type CycleChecker interface {
	WouldCreateCycle(nodeID, dependencyID string) (bool, error)
}

// ValidateDAG checks whether adding node (with its declared dependencies)
// would introduce a cycle against the given node set. If checker is
// non-nil its native detection is tried first; any error from it falls back
// to the manual DFS check.
func ValidateDAG(checker CycleChecker, node Node, all []Node) error {
	if len(node.DependsOn()) == 0 {
		return nil
	}

	if checker != nil {
		clean := true
		for _, depID := range node.DependsOn() {
			hasCycle, err := checker.WouldCreateCycle(node.NodeID(), depID)
			if err != nil {
				clean = false
				break
			}
			if hasCycle {
				return fmt.Errorf("circular dependency: adding dependency %s to %s would create a cycle", depID, node.NodeID())
			}
		}
		if clean {
			return nil
		}
	}

	return checkCycleManual(node, all)
}

func checkCycleManual(node Node, all []Node) error {
	byID := make(map[string]Node, len(all)+1)
	for _, n := range all {
		byID[n.NodeID()] = n
	}
	byID[node.NodeID()] = node

	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)
	return checkCycleRecursive(node.NodeID(), byID, visited, recursionStack)
}

func checkCycleRecursive(id string, byID map[string]Node, visited, recursionStack map[string]bool) error {
	visited[id] = true
	recursionStack[id] = true

	node, ok := byID[id]
	if !ok {
		recursionStack[id] = false
		return nil
	}

	for _, depID := range node.DependsOn() {
		if !visited[depID] {
			if err := checkCycleRecursive(depID, byID, visited, recursionStack); err != nil {
				return err
			}
		} else if recursionStack[depID] {
			return fmt.Errorf("circular dependency: %s -> %s", id, depID)
		}
	}

	recursionStack[id] = false
	return nil
}

// TopologicalOrder returns nodes ordered so that every dependency precedes
// its dependents, using Kahn's algorithm. Returns an error if the node set
// contains a cycle.
func TopologicalOrder(nodes []Node) ([]Node, error) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]Node)
	byID := make(map[string]Node, len(nodes))

	for _, n := range nodes {
		byID[n.NodeID()] = n
		if _, ok := inDegree[n.NodeID()]; !ok {
			inDegree[n.NodeID()] = 0
		}
	}

	for _, n := range nodes {
		for _, depID := range n.DependsOn() {
			if _, ok := byID[depID]; !ok {
				// Dependency outside this node set; treat as already satisfied.
				continue
			}
			dependents[depID] = append(dependents[depID], n)
			inDegree[n.NodeID()]++
		}
	}

	var queue []Node
	for _, n := range nodes {
		if inDegree[n.NodeID()] == 0 {
			queue = append(queue, n)
		}
	}

	result := make([]Node, 0, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range dependents[current.NodeID()] {
			inDegree[dependent.NodeID()]--
			if inDegree[dependent.NodeID()] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(nodes) {
		return nil, fmt.Errorf("circular dependency detected in node set")
	}

	return result, nil
}
