package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"codegraphix.dev/engine/namespace"
)

func TestNew_DefaultsSimilarityFloor(t *testing.T) {
	s := New(nil, namespace.New(namespace.Config{}), Config{Dimensions: 8})
	assert.Equal(t, 0.35, s.floor)
}

func TestNew_ExplicitFloorWins(t *testing.T) {
	s := New(nil, namespace.New(namespace.Config{}), Config{Dimensions: 8, SimilarityFloor: 0.8})
	assert.Equal(t, 0.8, s.floor)
}

func TestUpsert_RejectsDimensionMismatchBeforeTouchingStore(t *testing.T) {
	s := New(nil, namespace.New(namespace.Config{}), Config{Dimensions: 4})

	err := s.Upsert(context.Background(), []Embedding{
		{EntityID: "e1", Vector: []float32{1, 2, 3}},
	})
	assert.Error(t, err, "mismatched vector length must fail validation before any graph call")
}

func TestUpsert_ValidatesEveryEmbeddingBeforeSendingAnyChunk(t *testing.T) {
	s := New(nil, namespace.New(namespace.Config{}), Config{Dimensions: 2})

	err := s.Upsert(context.Background(), []Embedding{
		{EntityID: "e1", Vector: []float32{1, 2}},
		{EntityID: "e2", Vector: []float32{1, 2, 3}},
	})
	assert.Error(t, err, "a later bad embedding must still fail before any write happens")
}

func TestSearch_RejectsQueryVectorDimensionMismatch(t *testing.T) {
	s := New(nil, namespace.New(namespace.Config{}), Config{Dimensions: 4})

	_, err := s.Search(context.Background(), []float32{1, 2}, "code", 10)
	assert.Error(t, err)
}
