package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"codegraphix.dev/engine/entitystore"
)

func TestDeterministicEmbedding_SameSeedSameVector(t *testing.T) {
	a := deterministicEmbedding("func Foo()", 16)
	b := deterministicEmbedding("func Foo()", 16)
	assert.Equal(t, a, b)
}

func TestDeterministicEmbedding_DifferentSeedsDiffer(t *testing.T) {
	a := deterministicEmbedding("func Foo()", 16)
	b := deterministicEmbedding("func Bar()", 16)
	assert.NotEqual(t, a, b)
}

func TestDeterministicEmbedding_RespectsRequestedDimensions(t *testing.T) {
	v := deterministicEmbedding("seed", 384)
	assert.Len(t, v, 384)
}

func TestDeterministicEmbedding_ExtendsBeyondOneHashBlock(t *testing.T) {
	// sha256 produces 32 bytes; dims > 32 forces the re-hash branch.
	v := deterministicEmbedding("seed", 64)
	assert.Len(t, v, 64)
	assert.NotEqual(t, v[:32], v[32:], "the second block must not repeat the first verbatim")
}

func TestEntityEmbedFunc_PrefersContentOverID(t *testing.T) {
	fn := entityEmbedFunc(8)
	withContent, err := fn(context.Background(), entitystore.Entity{ID: "e1", Content: "package main"})
	assert.NoError(t, err)

	byID, _ := fn(context.Background(), entitystore.Entity{ID: "e1"})
	assert.NotEqual(t, withContent, byID, "content-seeded and id-seeded embeddings should differ")
}

func TestEntityEmbedFunc_FallsBackToIDWhenContentEmpty(t *testing.T) {
	fn := entityEmbedFunc(8)
	a, _ := fn(context.Background(), entitystore.Entity{ID: "e1"})
	b, _ := fn(context.Background(), entitystore.Entity{ID: "e1"})
	assert.Equal(t, a, b)
}

func TestTextEmbedFunc_Deterministic(t *testing.T) {
	fn := textEmbedFunc(8)
	a, err := fn(context.Background(), "parse configuration")
	assert.NoError(t, err)
	b, _ := fn(context.Background(), "parse configuration")
	assert.Equal(t, a, b)
}
