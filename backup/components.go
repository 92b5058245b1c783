package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"codegraphix.dev/engine/entitystore"
	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/relstore"
	"codegraphix.dev/engine/vectorstore"
)

const dumpPageSize = 500

// graphDump is the on-disk shape of a graph component artifact: node dump
// plus relationship dump as JSON, per the base spec.
type graphDump struct {
	Entities      []entitystore.Entity    `json:"entities"`
	Relationships []relstore.Relationship `json:"relationships"`
}

// dumpGraph pages through every entity and relationship and serializes
// them as one JSON artifact.
func (c *Coordinator) dumpGraph(ctx context.Context) ([]byte, error) {
	var dump graphDump

	offset := 0
	for {
		page, err := c.entities.List(ctx, entitystore.ListFilter{Limit: dumpPageSize, Offset: offset})
		if err != nil {
			return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "graph dump: entity list failed", err)
		}
		dump.Entities = append(dump.Entities, page.Items...)
		if len(page.Items) < dumpPageSize {
			break
		}
		offset += dumpPageSize
	}

	offset = 0
	for {
		rels, err := c.relationships.List(ctx, relstore.ListFilter{Limit: dumpPageSize, Offset: offset})
		if err != nil {
			return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "graph dump: relationship list failed", err)
		}
		dump.Relationships = append(dump.Relationships, rels...)
		if len(rels) < dumpPageSize {
			break
		}
		offset += dumpPageSize
	}

	return json.Marshal(dump)
}

// vectorDump is the per-collection manifest + paginated points export the
// base spec describes, adapted to this engine's embedded-property vector
// index: there is no separate collection object to enumerate, so the
// manifest records the two fixed collection kinds and the points are every
// entity's current embedding.
type vectorDump struct {
	Collections []string              `json:"collections"`
	Points      []vectorstore.Embedding `json:"points"`
}

// dumpVector exports every entity's embedding by reading the embedding
// properties straight from the graph store (every entity whose embedding
// is set), since the vector store has no primitive to enumerate its index.
func (c *Coordinator) dumpVector(ctx context.Context) ([]byte, error) {
	rows, err := c.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity) WHERE e.embedding IS NOT NULL
RETURN e.id AS entityId, e.embedding AS vector, e.embeddingKind AS kind`,
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "vector dump failed", err)
	}

	dump := vectorDump{Collections: []string{"code", "documentation"}}
	for _, r := range rows {
		entityID, _ := r.Properties["entityId"].(string)
		kind, _ := r.Properties["kind"].(string)
		raw, _ := r.Properties["vector"].([]interface{})
		vec := make([]float32, len(raw))
		for i, v := range raw {
			if f, ok := v.(float64); ok {
				vec[i] = float32(f)
			}
		}
		dump.Points = append(dump.Points, vectorstore.Embedding{EntityID: entityID, Vector: vec, Kind: kind})
	}

	return json.Marshal(dump)
}

// restoreGraph detach-deletes every node, then recreates entities through
// entitystore.Create (sanitized property maps, per the base spec) and
// relationships directly via Cypher keyed on the original node ids, ahead
// of relstore's evidence-merge semantics which don't apply to a
// from-scratch restore.
func (c *Coordinator) restoreGraph(ctx context.Context, data []byte) error {
	var dump graphDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return cgerrors.Wrap(cgerrors.CodeValidation, "graph artifact unreadable", err)
	}

	if _, err := c.graph.RunWrite(ctx, graphstore.Query{Cypher: `MATCH (n) DETACH DELETE n`}); err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "graph restore: detach-delete failed", err)
	}

	for _, e := range dump.Entities {
		if _, err := c.entities.Create(ctx, e); err != nil {
			return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, fmt.Sprintf("graph restore: recreate entity %s failed", e.ID), err)
		}
	}

	for _, rel := range dump.Relationships {
		props := map[string]interface{}{
			"id": rel.ID, "created": rel.Created, "lastModified": rel.LastModified,
			"version": rel.Version, "confidence": rel.Confidence, "active": rel.Active,
			"occurrencesTotal": rel.OccurrencesTotal,
		}
		cypher := fmt.Sprintf(`MATCH (a:Entity {id: $from}), (b:Entity {id: $to})
CREATE (a)-[r:%s]->(b) SET r = $props`, string(rel.Type))
		if _, err := c.graph.RunWrite(ctx, graphstore.Query{
			Cypher: cypher,
			Params: map[string]interface{}{"from": rel.FromEntityID, "to": rel.ToEntityID, "props": props},
		}); err != nil {
			return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, fmt.Sprintf("graph restore: recreate relationship %s failed", rel.ID), err)
		}
	}

	return nil
}

// restoreVector deletes every entity's current embedding then upserts the
// dumped points back in chunks of 200 (vectorstore.Upsert's own chunk
// size), per the base spec's "delete-then-recreate with original schema,
// upsert points in chunks of 200".
func (c *Coordinator) restoreVector(ctx context.Context, data []byte) error {
	var dump vectorDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return cgerrors.Wrap(cgerrors.CodeValidation, "vector artifact unreadable", err)
	}

	if _, err := c.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity) WHERE e.embedding IS NOT NULL REMOVE e.embedding, e.embeddingKind`,
	}); err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "vector restore: clear failed", err)
	}

	if len(dump.Points) == 0 {
		return nil
	}
	return c.vectors.Upsert(ctx, dump.Points)
}
