package relstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/namespace"
	"codegraphix.dev/engine/telemetry"
)

// Store implements RelationshipStore (C4) over the graph store.
type Store struct {
	graph *graphstore.Store
	scope *namespace.Scope
	bus   *telemetry.Bus
}

// New binds a relationship store to its graph store, namespace scope, and
// event bus.
func New(graph *graphstore.Store, scope *namespace.Scope, bus *telemetry.Bus) *Store {
	return &Store{graph: graph, scope: scope, bus: bus}
}

// Upsert opens or refreshes a relationship: MERGE on canonical id, re-open
// temporal validity if the prior edge was closed, bump version, merge
// evidence/locations by the rules in relationship.go, and refresh
// lastSeenAt. Fails ForeignKeyMissing if either endpoint doesn't exist.
func (s *Store) Upsert(ctx context.Context, rel Relationship, ref TargetRef) (Relationship, error) {
	rel, query, err := s.prepareUpsert(ctx, rel, ref)
	if err != nil {
		return Relationship{}, err
	}

	if _, err := s.graph.RunWrite(ctx, query); err != nil {
		return Relationship{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to upsert relationship", err)
	}

	s.emit("relationship:upserted", rel)
	return rel, nil
}

// prepareUpsert validates endpoints, applies Upsert's evidence-merge rule
// against whatever edge currently exists at the canonical id, and builds
// the MERGE query that commits it, without running the write itself. This
// lets UpsertEvidenceBulk stage every update's write and commit them all in
// one transaction.
func (s *Store) prepareUpsert(ctx context.Context, rel Relationship, ref TargetRef) (Relationship, graphstore.Query, error) {
	rel.FromEntityID = s.scope.RequireEntityID(rel.FromEntityID)
	rel.ToEntityID = s.scope.OptionalEntityID(rel.ToEntityID)
	rel.ID = CanonicalID(rel.FromEntityID, rel.Type, rel.ToEntityID, ref)

	if err := s.checkEndpoints(ctx, rel); err != nil {
		return Relationship{}, graphstore.Query{}, err
	}

	existing, err := s.getByID(ctx, rel.ID)
	if err != nil {
		return Relationship{}, graphstore.Query{}, err
	}

	now := time.Now().UTC()
	if existing != nil {
		if existing.Type != rel.Type {
			return Relationship{}, graphstore.Query{}, cgerrors.New(cgerrors.CodeTypeConflict,
				fmt.Sprintf("canonical id %s already bound to type %s, got %s", rel.ID, existing.Type, rel.Type))
		}
		rel.Created = existing.Created
		rel.Version = existing.Version + 1
		rel.Evidence = mergeEvidence(existing.Evidence, rel.Evidence)
		rel.Locations = mergeEvidence(existing.Locations, rel.Locations)
		rel.OccurrencesTotal = existing.OccurrencesTotal + rel.OccurrencesTotal
		if rel.OccurrencesTotal == 0 {
			rel.OccurrencesTotal = existing.OccurrencesTotal + 1
		}
		if existing.Confidence > rel.Confidence {
			rel.Confidence = existing.Confidence
		}
		if existing.ValidTo != nil {
			rel.ValidFrom = now
			rel.ValidTo = nil
		} else {
			rel.ValidFrom = existing.ValidFrom
			rel.ValidTo = nil
		}
	} else {
		rel.Created = now
		rel.Version = 1
		rel.ValidFrom = now
		rel.ValidTo = nil
		if rel.OccurrencesTotal == 0 {
			rel.OccurrencesTotal = 1
		}
		rel.Evidence = mergeEvidence(nil, rel.Evidence)
		rel.Locations = mergeEvidence(nil, rel.Locations)
	}
	rel.LastModified = now
	rel.LastSeenAt = now
	rel.Active = true

	params, err := toParams(rel)
	if err != nil {
		return Relationship{}, graphstore.Query{}, cgerrors.Wrap(cgerrors.CodeValidation, "failed to serialize relationship", err)
	}

	query := graphstore.Query{
		Cypher: `MATCH (a:Entity {id: $fromId}), (b:Entity {id: $toId})
MERGE (a)-[r:` + string(rel.Type) + ` {id: $id}]->(b)
SET r += $props`,
		Params: map[string]interface{}{
			"fromId": rel.FromEntityID,
			"toId":   rel.ToEntityID,
			"id":     rel.ID,
			"props":  params,
		},
	}
	return rel, query, nil
}

// UpsertEvidenceBulk applies Upsert's evidence-merge rule to every update
// and commits all of the resulting writes in a single transaction: either
// every edge in the batch is upserted, or none are. Used by the ingestion
// pipeline's batch flush.
func (s *Store) UpsertEvidenceBulk(ctx context.Context, updates []Relationship, refs []TargetRef) ([]Relationship, error) {
	if len(updates) != len(refs) {
		return nil, cgerrors.New(cgerrors.CodeValidation, "updates and refs must be the same length")
	}
	if len(updates) == 0 {
		return nil, nil
	}

	out := make([]Relationship, 0, len(updates))
	queries := make([]graphstore.Query, 0, len(updates))
	for i, u := range updates {
		rel, query, err := s.prepareUpsert(ctx, u, refs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
		queries = append(queries, query)
	}

	if _, err := s.graph.RunTx(ctx, queries); err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to upsert relationship batch", err)
	}

	for _, rel := range out {
		s.emit("relationship:upserted", rel)
	}
	return out, nil
}

func (s *Store) checkEndpoints(ctx context.Context, rel Relationship) error {
	rows, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: `OPTIONAL MATCH (a:Entity {id: $fromId})
OPTIONAL MATCH (b:Entity {id: $toId})
RETURN a IS NOT NULL AS fromExists, b IS NOT NULL AS toExists`,
		Params: map[string]interface{}{"fromId": rel.FromEntityID, "toId": rel.ToEntityID},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to check endpoints", err)
	}
	if len(rows) == 0 {
		return cgerrors.New(cgerrors.CodeForeignKeyMissing, "endpoint check returned no rows")
	}
	fromExists, _ := rows[0].Properties["fromExists"].(bool)
	toExists, _ := rows[0].Properties["toExists"].(bool)
	if !fromExists {
		return cgerrors.New(cgerrors.CodeForeignKeyMissing, fmt.Sprintf("fromEntityId %s does not exist", rel.FromEntityID))
	}
	if rel.ToEntityID != "" && !toExists {
		return cgerrors.New(cgerrors.CodeForeignKeyMissing, fmt.Sprintf("toEntityId %s does not exist", rel.ToEntityID))
	}
	return nil
}

func (s *Store) getByID(ctx context.Context, id string) (*Relationship, error) {
	rows, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH ()-[r {id: $id}]->() RETURN r, type(r) AS relType`,
		Params: map[string]interface{}{"id": id},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fetch relationship", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rel, err := fromRecord(rows[0])
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeValidation, "failed to deserialize relationship", err)
	}
	return &rel, nil
}

// ListFilter narrows Store.List.
type ListFilter struct {
	From          string
	To            string
	Types         []Type
	Active        *bool
	MinConfidence float64
	Limit         int
	Offset        int
}

// List returns edges matching filter with endpoints resolved.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Relationship, error) {
	where := "1=1"
	params := map[string]interface{}{}
	if filter.From != "" {
		where += " AND a.id = $from"
		params["from"] = s.scope.RequireEntityID(filter.From)
	}
	if filter.To != "" {
		where += " AND b.id = $to"
		params["to"] = s.scope.RequireEntityID(filter.To)
	}
	if filter.Active != nil {
		where += " AND r.active = $active"
		params["active"] = *filter.Active
	}
	if filter.MinConfidence > 0 {
		where += " AND r.confidence >= $minConfidence"
		params["minConfidence"] = filter.MinConfidence
	}

	typeClause := ""
	if len(filter.Types) > 0 {
		names := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			names[i] = string(t)
		}
		typeClause = ":" + joinTypes(names)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	params["limit"] = int64(limit)
	params["offset"] = int64(filter.Offset)

	rows, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: fmt.Sprintf(`MATCH (a:Entity)-[r%s]->(b:Entity) WHERE %s
RETURN r, type(r) AS relType SKIP $offset LIMIT $limit`, typeClause, where),
		Params: params,
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to list relationships", err)
	}

	out := make([]Relationship, 0, len(rows))
	for _, r := range rows {
		rel, err := fromRecord(r)
		if err != nil {
			return nil, cgerrors.Wrap(cgerrors.CodeValidation, "failed to deserialize relationship", err)
		}
		out = append(out, rel)
	}
	return out, nil
}

func joinTypes(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "|"
		}
		out += n
	}
	return out
}

// Delete removes the specific typed edge between two entities.
func (s *Store) Delete(ctx context.Context, from, to string, relType Type) error {
	_, err := s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (a:Entity {id: $from})-[r:` + string(relType) + `]->(b:Entity {id: $to}) DELETE r`,
		Params: map[string]interface{}{
			"from": s.scope.RequireEntityID(from),
			"to":   s.scope.RequireEntityID(to),
		},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to delete relationship", err)
	}
	return nil
}

// MarkInactiveNotSeenSince closes every edge whose lastSeenAt predates t:
// active=false, validTo=coalesce(validTo, now). Used by the ingestion
// pipeline's absence sweep.
func (s *Store) MarkInactiveNotSeenSince(ctx context.Context, t time.Time) (int64, error) {
	rows, err := s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH ()-[r]->() WHERE r.lastSeenAt < $t AND r.active = true
SET r.active = false, r.validTo = coalesce(r.validTo, $now)
RETURN count(r) AS closed`,
		Params: map[string]interface{}{
			"t":   t.UTC().Format(time.RFC3339Nano),
			"now": time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return 0, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to mark edges inactive", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	closed, _ := rows[0].Properties["closed"].(int64)
	return closed, nil
}

// MergeNormalizedDuplicates folds parallel edges sharing endpoints and
// type, combining properties by Upsert's evidence-merge rule, and returns
// the number of duplicate edges actually removed. Pre-resolution edges
// (hashed on symbol reference) and post-resolution edges (hashed on
// toEntityId) can momentarily diverge during ingestion; this sweep
// reconciles them by keeping the oldest edge in each group as the
// survivor, folding every newer duplicate's evidence/locations/
// occurrences/confidence into it, and deleting the duplicates.
func (s *Store) MergeNormalizedDuplicates(ctx context.Context) (int64, error) {
	groups, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (a:Entity)-[r]->(b:Entity)
WITH a.id AS fromId, b.id AS toId, type(r) AS relType, count(r) AS c
WHERE c > 1
RETURN fromId, toId, relType`,
	})
	if err != nil {
		return 0, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to scan duplicate edges", err)
	}

	var merged int64
	for _, g := range groups {
		fromID, _ := g.Properties["fromId"].(string)
		toID, _ := g.Properties["toId"].(string)
		relType, _ := g.Properties["relType"].(string)
		if fromID == "" || toID == "" || relType == "" {
			continue
		}

		n, err := s.foldDuplicateGroup(ctx, fromID, toID, Type(relType))
		if err != nil {
			return merged, err
		}
		merged += n
	}
	return merged, nil
}

// foldDuplicateGroup merges every parallel edge between from and to of
// relType into the oldest one (by Created) and deletes the rest within a
// single transaction, returning the count removed.
func (s *Store) foldDuplicateGroup(ctx context.Context, from, to string, relType Type) (int64, error) {
	rows, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (a:Entity {id: $from})-[r:` + string(relType) + `]->(b:Entity {id: $to})
RETURN r, type(r) AS relType`,
		Params: map[string]interface{}{"from": from, "to": to},
	})
	if err != nil {
		return 0, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fetch duplicate edges", err)
	}
	if len(rows) < 2 {
		return 0, nil
	}

	edges := make([]Relationship, 0, len(rows))
	for _, r := range rows {
		rel, err := fromRecord(r)
		if err != nil {
			return 0, cgerrors.Wrap(cgerrors.CodeValidation, "failed to deserialize duplicate edge", err)
		}
		edges = append(edges, rel)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Created.Before(edges[j].Created) })

	survivor := edges[0]
	deleteIDs := make([]string, 0, len(edges)-1)
	for _, dup := range edges[1:] {
		survivor.Evidence = mergeEvidence(survivor.Evidence, dup.Evidence)
		survivor.Locations = mergeEvidence(survivor.Locations, dup.Locations)
		survivor.OccurrencesTotal += dup.OccurrencesTotal
		if dup.Confidence > survivor.Confidence {
			survivor.Confidence = dup.Confidence
		}
		if dup.LastSeenAt.After(survivor.LastSeenAt) {
			survivor.LastSeenAt = dup.LastSeenAt
		}
		if dup.Active {
			survivor.Active = true
		}
		deleteIDs = append(deleteIDs, dup.ID)
	}
	survivor.Version++
	survivor.LastModified = time.Now().UTC()

	params, err := toParams(survivor)
	if err != nil {
		return 0, cgerrors.Wrap(cgerrors.CodeValidation, "failed to serialize merged relationship", err)
	}

	_, err = s.graph.RunTx(ctx, []graphstore.Query{
		{
			Cypher: `MATCH (a:Entity {id: $from})-[r:` + string(relType) + ` {id: $survivorId}]->(b:Entity {id: $to})
SET r += $props`,
			Params: map[string]interface{}{"from": from, "to": to, "survivorId": survivor.ID, "props": params},
		},
		{
			Cypher: `MATCH ()-[dup:` + string(relType) + `]->() WHERE dup.id IN $deleteIds DELETE dup`,
			Params: map[string]interface{}{"deleteIds": deleteIDs},
		},
	})
	if err != nil {
		return 0, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fold duplicate edges", err)
	}

	return int64(len(deleteIDs)), nil
}

func (s *Store) emit(message string, rel Relationship) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(telemetry.Event{
		Component: "relstore",
		Level:     telemetry.LevelInfo,
		Message:   message,
		Data: map[string]interface{}{
			"id":   rel.ID,
			"type": string(rel.Type),
			"from": rel.FromEntityID,
			"to":   rel.ToEntityID,
		},
	})
}
