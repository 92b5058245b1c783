// Package analysis implements AnalysisEngine (C7): impact BFS over
// dependent edge types, dependency set retrieval, shortest-path search,
// and cached fan-in/fan-out edge statistics. Query shapes are grounded on
// db/repository/neo4j.go's GetDependencies/GetAllDependencies/
// WouldCreateCycle/FindPath, generalized from the teacher's fixed
// REQUIRES action-graph edge to the full dependent-edge-type set
// SPEC_FULL.md names; cycle-safety during graph-dag.go's
// dependency-DAG is the same family of problem GetAllDependencies/
// WouldCreateCycle solve for the action graph.
package analysis

import (
	"context"
	"fmt"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/namespace"
)

// dependentEdgeTypes is the BFS frontier's edge set for impact analysis.
var dependentEdgeTypes = []string{"CALLS", "REFERENCES", "USES", "IMPLEMENTS", "EXTENDS", "DEPENDS_ON"}

// Engine implements AnalysisEngine (C7).
type Engine struct {
	graph *graphstore.Store
	scope *namespace.Scope
}

// New creates an analysis engine bound to its graph store.
func New(graph *graphstore.Store, scope *namespace.Scope) *Engine {
	return &Engine{graph: graph, scope: scope}
}

// ImpactOptions configures AnalyzeImpact.
type ImpactOptions struct {
	EntityID string
	MaxDepth int // bounded at 5
	Types    []string
}

// AffectedEntity is one impact-analysis hit, grouped by BFS distance.
type AffectedEntity struct {
	EntityID string
	Distance int
	Type     string
}

// ImpactResult is AnalyzeImpact's return value.
type ImpactResult struct {
	Affected []AffectedEntity
	Severity string // "low" | "medium" | "high", from type distribution
}

// AnalyzeImpact runs a BFS over the dependent edge types (or the caller's
// narrower Types set) and returns affected entities grouped by distance,
// with a coarse severity derived from the type distribution.
func (e *Engine) AnalyzeImpact(ctx context.Context, opts ImpactOptions) (ImpactResult, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 || maxDepth > 5 {
		maxDepth = 5
	}
	types := opts.Types
	if len(types) == 0 {
		types = dependentEdgeTypes
	}
	typeClause := joinWithPipe(types)

	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: fmt.Sprintf(`MATCH path = (dependent)-[:%s*1..%d]->(target:Entity {id: $entityId})
WITH dependent, min(length(path)) AS distance, last(relationships(path)) AS lastRel
RETURN dependent.id AS entityId, distance, type(lastRel) AS relType
ORDER BY distance ASC`, typeClause, maxDepth),
		Params: map[string]interface{}{"entityId": e.scope.RequireEntityID(opts.EntityID)},
	})
	if err != nil {
		return ImpactResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "impact analysis failed", err)
	}

	result := ImpactResult{Affected: make([]AffectedEntity, 0, len(rows))}
	typeCounts := make(map[string]int)
	for _, r := range rows {
		entityID, _ := r.Properties["entityId"].(string)
		distance, _ := r.Properties["distance"].(int64)
		relType, _ := r.Properties["relType"].(string)
		result.Affected = append(result.Affected, AffectedEntity{EntityID: entityID, Distance: int(distance), Type: relType})
		typeCounts[relType]++
	}
	result.Severity = severityFrom(len(result.Affected), typeCounts)
	return result, nil
}

// severityFrom derives a coarse severity label from the affected count and
// how concentrated it is in high-risk edge types (CALLS/DEPENDS_ON).
func severityFrom(total int, typeCounts map[string]int) string {
	if total == 0 {
		return "low"
	}
	highRisk := typeCounts["CALLS"] + typeCounts["DEPENDS_ON"]
	ratio := float64(highRisk) / float64(total)
	switch {
	case total > 50 || ratio > 0.6:
		return "high"
	case total > 10 || ratio > 0.3:
		return "medium"
	default:
		return "low"
	}
}

func joinWithPipe(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += "|"
		}
		out += s
	}
	return out
}

// Direction selects which side of a dependency edge GetEntityDependencies
// reports.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionBoth     Direction = "both"
)

// DependencySet reports one direction's dependency ids and count.
type DependencySet struct {
	EntityIDs []string
	Count     int
}

// DependencyResult is GetEntityDependencies's return value.
type DependencyResult struct {
	Inbound  DependencySet
	Outbound DependencySet
}

// GetEntityDependencies returns inbound and/or outbound dependency sets
// with counts, bounded to depth hops of DEPENDS_ON.
func (e *Engine) GetEntityDependencies(ctx context.Context, entityID string, direction Direction, depth int) (DependencyResult, error) {
	if depth <= 0 {
		depth = 1
	}
	id := e.scope.RequireEntityID(entityID)
	var result DependencyResult

	if direction == DirectionOutbound || direction == DirectionBoth {
		rows, err := e.graph.Run(ctx, graphstore.Query{
			Cypher: fmt.Sprintf(`MATCH (e:Entity {id: $id})-[:DEPENDS_ON*1..%d]->(dep:Entity) RETURN DISTINCT dep.id AS id`, depth),
			Params: map[string]interface{}{"id": id},
		})
		if err != nil {
			return DependencyResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to get outbound dependencies", err)
		}
		result.Outbound = toSet(rows)
	}

	if direction == DirectionInbound || direction == DirectionBoth {
		rows, err := e.graph.Run(ctx, graphstore.Query{
			Cypher: fmt.Sprintf(`MATCH (dep:Entity)-[:DEPENDS_ON*1..%d]->(e:Entity {id: $id}) RETURN DISTINCT dep.id AS id`, depth),
			Params: map[string]interface{}{"id": id},
		})
		if err != nil {
			return DependencyResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to get inbound dependencies", err)
		}
		result.Inbound = toSet(rows)
	}

	return result, nil
}

func toSet(rows []graphstore.Record) DependencySet {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r.Properties["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return DependencySet{EntityIDs: ids, Count: len(ids)}
}

// Path is a single path result from FindPaths.
type Path struct {
	EntityIDs []string
}

// FindPathsOptions configures FindPaths.
type FindPathsOptions struct {
	From, To string
	MaxDepth int
	Types    []string
	MaxPaths int // bounded count, default 5
}

// FindPaths returns shortest paths first, up to a bounded count.
func (e *Engine) FindPaths(ctx context.Context, opts FindPathsOptions) ([]Path, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	maxPaths := opts.MaxPaths
	if maxPaths <= 0 {
		maxPaths = 5
	}
	typeClause := ""
	if len(opts.Types) > 0 {
		typeClause = ":" + joinWithPipe(opts.Types)
	}

	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: fmt.Sprintf(`MATCH p = allShortestPaths((from:Entity {id: $fromId})-[%s*1..%d]->(to:Entity {id: $toId}))
RETURN [n IN nodes(p) | n.id] AS path LIMIT $maxPaths`, typeClause, maxDepth),
		Params: map[string]interface{}{
			"fromId":   e.scope.RequireEntityID(opts.From),
			"toId":     e.scope.RequireEntityID(opts.To),
			"maxPaths": int64(maxPaths),
		},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "path search failed", err)
	}

	paths := make([]Path, 0, len(rows))
	for _, r := range rows {
		if raw, ok := r.Properties["path"].([]interface{}); ok {
			ids := make([]string, 0, len(raw))
			for _, v := range raw {
				if s, ok := v.(string); ok {
					ids = append(ids, s)
				}
			}
			paths = append(paths, Path{EntityIDs: ids})
		}
	}
	return paths, nil
}

// ComputeAndStoreEdgeStats caches fan-in/fan-out counts and top-K
// neighbors on the entity for fast retrieval.
func (e *Engine) ComputeAndStoreEdgeStats(ctx context.Context, entityID string) error {
	id := e.scope.RequireEntityID(entityID)

	rows, err := e.graph.RunTx(ctx, []graphstore.Query{
		{Cypher: `MATCH (e:Entity {id: $id})<-[r]-() RETURN count(r) AS fanIn`, Params: map[string]interface{}{"id": id}},
		{Cypher: `MATCH (e:Entity {id: $id})-[r]->() RETURN count(r) AS fanOut`, Params: map[string]interface{}{"id": id}},
		{Cypher: `MATCH (e:Entity {id: $id})-[r]->(n) RETURN n.id AS id, count(r) AS weight ORDER BY weight DESC LIMIT 10`, Params: map[string]interface{}{"id": id}},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to compute edge stats", err)
	}

	var fanIn, fanOut int64
	if len(rows[0]) > 0 {
		fanIn, _ = rows[0][0].Properties["fanIn"].(int64)
	}
	if len(rows[1]) > 0 {
		fanOut, _ = rows[1][0].Properties["fanOut"].(int64)
	}
	topNeighbors := make([]string, 0, len(rows[2]))
	for _, r := range rows[2] {
		if id, ok := r.Properties["id"].(string); ok {
			topNeighbors = append(topNeighbors, id)
		}
	}

	_, err = e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity {id: $id}) SET e.fanIn = $fanIn, e.fanOut = $fanOut, e.topNeighbors = $topNeighbors`,
		Params: map[string]interface{}{"id": id, "fanIn": fanIn, "fanOut": fanOut, "topNeighbors": topNeighbors},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to store edge stats", err)
	}
	return nil
}
