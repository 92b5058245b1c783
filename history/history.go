// Package history implements HistoryEngine (C5): append-only version
// chains, temporal edge validity, checkpoint materialization and
// time-travel traversal, and retention-based pruning. Checkpoint lifecycle
// is tracked with a phase state machine adapted from the teacher's
// workflow-phase coordinator (coordinator/phases.go).
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/namespace"
)

// sentinelVersionID is returned by every mutating operation when history
// is disabled, so callers never need to special-case a nil id.
const sentinelVersionID = "history-disabled"

// Engine implements HistoryEngine (C5). When Enabled is false, every
// mutation is a no-op returning the sentinel id.
type Engine struct {
	graph   *graphstore.Store
	scope   *namespace.Scope
	enabled bool
	phases  *phaseTracker
}

// Config controls whether history tracking runs at all.
type Config struct {
	Enabled bool
}

// New creates a history engine. When cfg.Enabled is false the returned
// Engine performs no graph writes.
func New(graph *graphstore.Store, scope *namespace.Scope, cfg Config) *Engine {
	return &Engine{graph: graph, scope: scope, enabled: cfg.Enabled, phases: newPhaseTracker()}
}

// AppendVersionOptions carries the optional fields appendVersion accepts.
type AppendVersionOptions struct {
	ChangeSetID string
	Timestamp   time.Time
}

// AppendVersion creates a Version node, links it VERSION_OF the entity,
// and links PREVIOUS_VERSION to the immediately-earlier Version of the
// same entity, if one exists. Returns the sentinel id when history is
// disabled.
func (e *Engine) AppendVersion(ctx context.Context, entityID, hash string, opts AppendVersionOptions) (string, error) {
	if !e.enabled {
		return sentinelVersionID, nil
	}
	entityID = e.scope.RequireEntityID(entityID)
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	versionID := versionIDFor(entityID, hash, ts)

	rows, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity {id: $entityId})
CREATE (v:Version {id: $versionId, entityId: $entityId, hash: $hash, timestamp: $timestamp, changeSetId: $changeSetId})
CREATE (v)-[:VERSION_OF]->(e)
WITH e, v
OPTIONAL MATCH (e)<-[:VERSION_OF]-(prev:Version)
WHERE prev.id <> v.id AND prev.timestamp < v.timestamp
WITH v, prev ORDER BY prev.timestamp DESC LIMIT 1
FOREACH (_ IN CASE WHEN prev IS NOT NULL THEN [1] ELSE [] END |
  CREATE (v)-[:PREVIOUS_VERSION]->(prev)
)
RETURN v.id AS id`,
		Params: map[string]interface{}{
			"entityId":    entityID,
			"versionId":   versionID,
			"hash":        hash,
			"timestamp":   ts.Format(time.RFC3339Nano),
			"changeSetId": opts.ChangeSetID,
		},
	})
	if err != nil {
		return "", cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to append version", err)
	}
	if len(rows) == 0 {
		return "", cgerrors.New(cgerrors.CodeNotFound, fmt.Sprintf("entity %s not found", entityID))
	}
	return versionID, nil
}

func versionIDFor(entityID, hash string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write([]byte(hash))
	h.Write([]byte{0})
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// OpenEdge sets validFrom/validTo/active on a canonical edge, marking it
// active as of ts (or now, if ts is zero).
func (e *Engine) OpenEdge(ctx context.Context, canonicalID string, ts time.Time) error {
	if !e.enabled {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH ()-[r {id: $id}]->() SET r.validFrom = $ts, r.validTo = null, r.active = true`,
		Params: map[string]interface{}{"id": canonicalID, "ts": ts.Format(time.RFC3339Nano)},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to open edge", err)
	}
	return nil
}

// CloseEdge sets validTo=coalesce(validTo,ts), active=false on an edge.
func (e *Engine) CloseEdge(ctx context.Context, canonicalID string, ts time.Time) error {
	if !e.enabled {
		return nil
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH ()-[r {id: $id}]->() SET r.validTo = coalesce(r.validTo, $ts), r.active = false`,
		Params: map[string]interface{}{"id": canonicalID, "ts": ts.Format(time.RFC3339Nano)},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to close edge", err)
	}
	return nil
}

// CreateCheckpointOptions carries createCheckpoint's optional fields.
type CreateCheckpointOptions struct {
	Reason      string
	Hops        int // bounded at 5
	Description string
}

// CreateCheckpointResult is createCheckpoint's return value.
type CreateCheckpointResult struct {
	CheckpointID string
	MemberCount  int
}

// CreateCheckpoint expands the union of hops-bounded neighborhoods from
// every seed id and links each distinct member via CHECKPOINT_INCLUDES.
// Materialization runs through pending -> materializing -> frozen, the way
// the teacher's workflow phases gate execution stages.
func (e *Engine) CreateCheckpoint(ctx context.Context, seedIDs []string, opts CreateCheckpointOptions) (CreateCheckpointResult, error) {
	if !e.enabled {
		return CreateCheckpointResult{CheckpointID: sentinelVersionID}, nil
	}
	hops := opts.Hops
	if hops <= 0 || hops > 5 {
		hops = 5
	}

	checkpointID := checkpointIDFor(seedIDs, time.Now().UTC())
	state := e.phases.register(checkpointID, opts.Reason)
	_ = state

	if !e.phases.transition(checkpointID, PhaseMaterializing) {
		return CreateCheckpointResult{}, cgerrors.New(cgerrors.CodeValidation, "invalid checkpoint phase transition to materializing")
	}

	scopedSeeds := e.scope.EntityIDArray(seedIDs)
	rows, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: fmt.Sprintf(`UNWIND $seeds AS seedId
MATCH (seed:Entity {id: seedId})
CALL apoc.path.subgraphNodes(seed, {maxLevel: %d}) YIELD node
WITH collect(DISTINCT node) AS members
CREATE (c:Checkpoint {id: $checkpointId, reason: $reason, description: $description, createdAt: $createdAt})
WITH c, members
UNWIND members AS m
MERGE (c)-[:CHECKPOINT_INCLUDES]->(m)
RETURN count(DISTINCT m) AS memberCount`, hops),
		Params: map[string]interface{}{
			"seeds":       scopedSeeds,
			"checkpointId": checkpointID,
			"reason":      opts.Reason,
			"description": opts.Description,
			"createdAt":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		e.phases.transition(checkpointID, PhaseFailed)
		return CreateCheckpointResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to materialize checkpoint", err)
	}

	var memberCount int
	if len(rows) > 0 {
		if c, ok := rows[0].Properties["memberCount"].(int64); ok {
			memberCount = int(c)
		}
	}

	e.phases.transition(checkpointID, PhaseFrozen)
	return CreateCheckpointResult{CheckpointID: checkpointID, MemberCount: memberCount}, nil
}

func checkpointIDFor(seedIDs []string, ts time.Time) string {
	h := sha256.New()
	for _, id := range seedIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte(ts.Format(time.RFC3339Nano)))
	return "cp_" + hex.EncodeToString(h.Sum(nil))[:24]
}

// TimeTravelOptions configures timeTravelTraversal.
type TimeTravelOptions struct {
	StartID            string
	RelationshipTypes  []string
	NodeLabels         []string
	MaxDepth           int
	Until              time.Time
}

// TimeTravelTraversal walks outward from StartID, admitting an edge only
// if it was valid at Until: validFrom <= until AND (validTo IS NULL OR
// validTo >= until).
func (e *Engine) TimeTravelTraversal(ctx context.Context, opts TimeTravelOptions) ([]graphstore.Record, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	typeClause := ""
	if len(opts.RelationshipTypes) > 0 {
		typeClause = ":" + joinWithPipe(opts.RelationshipTypes)
	}

	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: fmt.Sprintf(`MATCH path = (start:Entity {id: $startId})-[r%s*1..%d]->(target)
WHERE ALL(rel IN relationships(path) WHERE rel.validFrom <= $until AND (rel.validTo IS NULL OR rel.validTo >= $until))
RETURN target`, typeClause, maxDepth),
		Params: map[string]interface{}{
			"startId": e.scope.RequireEntityID(opts.StartID),
			"until":   opts.Until.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "time travel traversal failed", err)
	}
	return rows, nil
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

// PruneResult reports pruneHistory's outcome.
type PruneResult struct {
	VersionsDeleted   int64
	EdgesClosed       int64
	CheckpointsDeleted int64
}

// PruneHistory deletes data older than retentionDays, in order: Checkpoints
// first, then closes stale edges (sets active=false; edges are not
// deleted), then deletes Versions older than
// the cutoff that aren't referenced by any surviving Checkpoint. DryRun
// computes counts without writing.
func (e *Engine) PruneHistory(ctx context.Context, retentionDays int, dryRun bool) (PruneResult, error) {
	if retentionDays <= 0 {
		return PruneResult{}, cgerrors.New(cgerrors.CodeValidation, "retentionDays must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339Nano)
	var result PruneResult

	if dryRun {
		rows, err := e.graph.RunTx(ctx, []graphstore.Query{
			{Cypher: `MATCH (c:Checkpoint) WHERE c.createdAt < $cutoff RETURN count(c) AS n`, Params: map[string]interface{}{"cutoff": cutoff}},
			{Cypher: `MATCH ()-[r]->() WHERE r.validTo IS NOT NULL AND r.validTo < $cutoff RETURN count(r) AS n`, Params: map[string]interface{}{"cutoff": cutoff}},
			{Cypher: `MATCH (v:Version) WHERE v.timestamp < $cutoff AND NOT (v)<-[:CHECKPOINT_INCLUDES]-(:Checkpoint) RETURN count(v) AS n`, Params: map[string]interface{}{"cutoff": cutoff}},
		})
		if err != nil {
			return PruneResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to dry-run prune", err)
		}
		result.CheckpointsDeleted = countOf(rows[0])
		result.EdgesClosed = countOf(rows[1])
		result.VersionsDeleted = countOf(rows[2])
		return result, nil
	}

	cpRows, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (c:Checkpoint) WHERE c.createdAt < $cutoff
DETACH DELETE c
RETURN count(c) AS n`,
		Params: map[string]interface{}{"cutoff": cutoff},
	})
	if err != nil {
		return PruneResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to prune checkpoints", err)
	}
	result.CheckpointsDeleted = countOf(cpRows)

	edgeRows, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH ()-[r]->() WHERE r.validTo IS NOT NULL AND r.validTo < $cutoff AND r.active = true
SET r.active = false
RETURN count(r) AS n`,
		Params: map[string]interface{}{"cutoff": cutoff},
	})
	if err != nil {
		return PruneResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to close stale edges", err)
	}
	result.EdgesClosed = countOf(edgeRows)

	verRows, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (v:Version) WHERE v.timestamp < $cutoff AND NOT (v)<-[:CHECKPOINT_INCLUDES]-(:Checkpoint)
DETACH DELETE v
RETURN count(v) AS n`,
		Params: map[string]interface{}{"cutoff": cutoff},
	})
	if err != nil {
		return PruneResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to prune versions", err)
	}
	result.VersionsDeleted = countOf(verRows)

	return result, nil
}

func countOf(rows []graphstore.Record) int64 {
	if len(rows) == 0 {
		return 0
	}
	n, _ := rows[0].Properties["n"].(int64)
	return n
}

// ListCheckpoints returns every checkpoint, most recent first.
func (e *Engine) ListCheckpoints(ctx context.Context) ([]graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (c:Checkpoint) RETURN c ORDER BY c.createdAt DESC`,
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to list checkpoints", err)
	}
	return rows, nil
}

// GetCheckpoint fetches a single checkpoint by id.
func (e *Engine) GetCheckpoint(ctx context.Context, checkpointID string) (*graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (c:Checkpoint {id: $id}) RETURN c`,
		Params: map[string]interface{}{"id": checkpointID},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to get checkpoint", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetCheckpointMembers returns every entity a checkpoint includes.
func (e *Engine) GetCheckpointMembers(ctx context.Context, checkpointID string) ([]graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (c:Checkpoint {id: $id})-[:CHECKPOINT_INCLUDES]->(m) RETURN m`,
		Params: map[string]interface{}{"id": checkpointID},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to get checkpoint members", err)
	}
	return rows, nil
}

// GetCheckpointSummary returns the checkpoint plus its member count.
func (e *Engine) GetCheckpointSummary(ctx context.Context, checkpointID string) (graphstore.Record, int64, error) {
	cp, err := e.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return graphstore.Record{}, 0, err
	}
	if cp == nil {
		return graphstore.Record{}, 0, cgerrors.New(cgerrors.CodeNotFound, fmt.Sprintf("checkpoint %s not found", checkpointID))
	}
	members, err := e.GetCheckpointMembers(ctx, checkpointID)
	if err != nil {
		return graphstore.Record{}, 0, err
	}
	return *cp, int64(len(members)), nil
}

// DeleteCheckpoint removes a checkpoint and its CHECKPOINT_INCLUDES edges,
// never its member entities.
func (e *Engine) DeleteCheckpoint(ctx context.Context, checkpointID string) error {
	_, err := e.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (c:Checkpoint {id: $id}) DETACH DELETE c`,
		Params: map[string]interface{}{"id": checkpointID},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to delete checkpoint", err)
	}
	return nil
}

// EntityTimeline returns every Version of an entity, oldest first.
func (e *Engine) EntityTimeline(ctx context.Context, entityID string) ([]graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (v:Version {entityId: $entityId}) RETURN v ORDER BY v.timestamp ASC`,
		Params: map[string]interface{}{"entityId": e.scope.RequireEntityID(entityID)},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fetch entity timeline", err)
	}
	return rows, nil
}

// RelationshipTimeline returns the temporal validity windows a canonical
// edge has passed through, inferred from its current validFrom/validTo.
func (e *Engine) RelationshipTimeline(ctx context.Context, canonicalID string) ([]graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH ()-[r {id: $id}]->() RETURN r.validFrom AS validFrom, r.validTo AS validTo, r.active AS active`,
		Params: map[string]interface{}{"id": canonicalID},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fetch relationship timeline", err)
	}
	return rows, nil
}

// SessionTimeline returns every change linked to a session via
// SESSION_MODIFIED/SESSION_IMPACTED/SESSION_CHECKPOINT, ordered by time.
func (e *Engine) SessionTimeline(ctx context.Context, sessionID string) ([]graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (s:Entity {id: $sessionId, type: 'session'})-[r:SESSION_MODIFIED|SESSION_IMPACTED|SESSION_CHECKPOINT]->(target)
RETURN target, type(r) AS relType, r.created AS created ORDER BY r.created ASC`,
		Params: map[string]interface{}{"sessionId": e.scope.RequireEntityID(sessionID)},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fetch session timeline", err)
	}
	return rows, nil
}
