// Package vectorstore implements embedding upsert/search/delete over the
// graph store's native vector index, batching large writes the way the
// teacher's storage/s3aws.go bounds concurrent multipart uploads with a
// semaphore — generalized here to a fixed-size chunk loop since vector
// upserts are a single Cypher call per chunk rather than a parallel
// network fan-out.
package vectorstore

import (
	"context"
	"fmt"

	"codegraphix.dev/engine/entitystore"
	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/namespace"
)

const upsertChunkSize = 200

// Embedding pairs an entity id with its vector and the collection it
// belongs to ("code" or "documentation", per the namespace scope's
// collection split).
type Embedding struct {
	EntityID string
	Vector   []float32
	Kind     string // "code" | "documentation"
}

// Match is a single vector-search hit, with the backing entity preloaded
// when the caller requested it.
type Match struct {
	EntityID string
	Score    float64
	Entity   *entitystore.Entity
}

// Store is the vector similarity index over entity embeddings.
type Store struct {
	graph *graphstore.Store
	scope *namespace.Scope
	dims  int
	floor float64
}

// Config configures dimensionality and the minimum similarity score a
// search result must clear to be returned.
type Config struct {
	Dimensions      int
	SimilarityFloor float64
}

// New creates a vector store bound to a graph store and namespace scope.
func New(graph *graphstore.Store, scope *namespace.Scope, cfg Config) *Store {
	if cfg.SimilarityFloor == 0 {
		cfg.SimilarityFloor = 0.35
	}
	return &Store{graph: graph, scope: scope, dims: cfg.Dimensions, floor: cfg.SimilarityFloor}
}

// Upsert writes embeddings in chunks of upsertChunkSize, validating every
// vector's dimensionality before any chunk is sent.
func (s *Store) Upsert(ctx context.Context, embeddings []Embedding) error {
	for _, e := range embeddings {
		if len(e.Vector) != s.dims {
			return cgerrors.New(cgerrors.CodeEmbeddingUnavailable,
				fmt.Sprintf("embedding for %s has dimension %d, want %d", e.EntityID, len(e.Vector), s.dims))
		}
	}

	for start := 0; start < len(embeddings); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(embeddings) {
			end = len(embeddings)
		}
		if err := s.upsertChunk(ctx, embeddings[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertChunk(ctx context.Context, chunk []Embedding) error {
	rows := make([]map[string]interface{}, len(chunk))
	for i, e := range chunk {
		vec := make([]float64, len(e.Vector))
		for j, f := range e.Vector {
			vec[j] = float64(f)
		}
		rows[i] = map[string]interface{}{
			"entityId": s.scope.RequireEntityID(e.EntityID),
			"vector":   vec,
			"kind":     e.Kind,
		}
	}

	_, err := s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `UNWIND $rows AS row
MATCH (e:Entity {id: row.entityId})
CALL db.create.setNodeVectorProperty(e, 'embedding', row.vector)
SET e.embeddingKind = row.kind`,
		Params: map[string]interface{}{"rows": rows},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeEmbeddingUnavailable, "embedding upsert failed", err)
	}
	return nil
}

// Search performs cosine-similarity search against the given query vector,
// over-fetching 2x the requested limit and post-filtering by the
// similarity floor so near-threshold results aren't lost to index
// approximation.
func (s *Store) Search(ctx context.Context, vector []float32, kind string, limit int) ([]Match, error) {
	if len(vector) != s.dims {
		return nil, cgerrors.New(cgerrors.CodeEmbeddingUnavailable,
			fmt.Sprintf("query vector has dimension %d, want %d", len(vector), s.dims))
	}
	if limit <= 0 {
		limit = 10
	}
	fetchK := limit * 2
	if fetchK < limit {
		fetchK = limit
	}

	vec := make([]float64, len(vector))
	for i, f := range vector {
		vec[i] = float64(f)
	}

	indexName := "entity_embeddings"
	rows, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: `CALL db.index.vector.queryNodes($indexName, $k, $vector)
YIELD node, score
WHERE node.embeddingKind = $kind
RETURN node.id AS entityId, score
ORDER BY score DESC
LIMIT $limit`,
		Params: map[string]interface{}{
			"indexName": indexName,
			"k":         fetchK,
			"vector":    vec,
			"kind":      kind,
			"limit":     limit,
		},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeEmbeddingUnavailable, "vector search failed", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		score, _ := r.Properties["score"].(float64)
		if score < s.floor {
			continue
		}
		entityID, _ := r.Properties["entityId"].(string)
		matches = append(matches, Match{EntityID: entityID, Score: score})
	}
	return matches, nil
}

// Delete removes an entity's embedding property, leaving the entity node
// itself untouched.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	_, err := s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity {id: $id}) REMOVE e.embedding, e.embeddingKind`,
		Params: map[string]interface{}{"id": s.scope.RequireEntityID(entityID)},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeEmbeddingUnavailable, "embedding delete failed", err)
	}
	return nil
}
