package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraphix.dev/engine/entitystore"
	"codegraphix.dev/engine/ingest"
)

func TestArtifactParser_DecodesEntitiesAndRelationships(t *testing.T) {
	doc := `{
		"entities": [
			{"id": "e1", "type": "function", "path": "a.go", "name": "Foo"},
			{"id": "e2", "type": "function", "path": "b.go", "name": "Bar"}
		],
		"relationships": [
			{"type": "CALLS", "fromEntityId": "e1", "toEntityId": "e2"}
		]
	}`

	result, err := artifactParser{}.Parse(context.Background(), ingest.Change{
		Path: "artifact.json", Content: []byte(doc),
	})
	require.NoError(t, err)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "e1", result.Entities[0].ID)
	assert.Equal(t, entitystore.Type("function"), result.Entities[0].Type)
	assert.Equal(t, "Foo", result.Entities[0].Name)

	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "e1", result.Relationships[0].Relationship.FromEntityID)
	assert.Equal(t, "e2", result.Relationships[0].Relationship.ToEntityID)
}

func TestArtifactParser_TargetRefForUnresolvedRelationship(t *testing.T) {
	doc := `{
		"entities": [{"id": "e1", "type": "function"}],
		"relationships": [
			{"type": "CALLS", "fromEntityId": "e1", "targetSymbol": "helper", "targetFile": "util.go", "targetKind": "function"}
		]
	}`

	result, err := artifactParser{}.Parse(context.Background(), ingest.Change{Content: []byte(doc)})
	require.NoError(t, err)

	require.Len(t, result.Relationships, 1)
	ref := result.Relationships[0].Ref
	assert.Equal(t, "helper", ref.Symbol)
	assert.Equal(t, "util.go", ref.File)
	assert.Equal(t, "function", ref.Kind)
	assert.Empty(t, result.Relationships[0].Relationship.ToEntityID)
}

func TestArtifactParser_EmptyArtifact(t *testing.T) {
	result, err := artifactParser{}.Parse(context.Background(), ingest.Change{Content: []byte(`{}`)})
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relationships)
}

func TestArtifactParser_InvalidJSONFails(t *testing.T) {
	_, err := artifactParser{}.Parse(context.Background(), ingest.Change{Path: "bad.json", Content: []byte(`not json`)})
	assert.Error(t, err)
}
