package app

import (
	"context"
	"crypto/sha256"

	"codegraphix.dev/engine/entitystore"
	"codegraphix.dev/engine/ingest"
	"codegraphix.dev/engine/search"
)

// deterministicEmbedding derives a fixed-length vector from seed text via
// repeated sha256, so the same content always embeds to the same point.
// A real embedding-model call is outside this engine's scope; this keeps
// search/ingest exercised end-to-end without one.
func deterministicEmbedding(seed string, dims int) []float32 {
	vec := make([]float32, dims)
	block := sha256.Sum256([]byte(seed))
	for i := range vec {
		if i > 0 && i%len(block) == 0 {
			block = sha256.Sum256(block[:])
		}
		vec[i] = float32(block[i%len(block)])/127.5 - 1
	}
	return vec
}

// entityEmbedFunc adapts deterministicEmbedding to ingest.EmbedFunc,
// seeding on content when present and falling back to the entity id.
func entityEmbedFunc(dims int) ingest.EmbedFunc {
	return func(ctx context.Context, e entitystore.Entity) ([]float32, error) {
		seed := e.Content
		if seed == "" {
			seed = e.ID
		}
		return deterministicEmbedding(seed, dims), nil
	}
}

// textEmbedFunc adapts deterministicEmbedding to search.EmbeddingFunc.
func textEmbedFunc(dims int) search.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return deterministicEmbedding(text, dims), nil
	}
}
