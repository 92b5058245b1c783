package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsCollections(t *testing.T) {
	s := New(Config{EntityPrefix: "acme:proj:"})
	assert.Equal(t, "acme:proj:code", s.QdrantCollection("code"))
	assert.Equal(t, "acme:proj:documentation", s.QdrantCollection("documentation"))
}

func TestNew_ExplicitCollectionsWin(t *testing.T) {
	s := New(Config{EntityPrefix: "acme:", CodeVectorCollection: "custom_code", DocVectorCollection: "custom_docs"})
	assert.Equal(t, "custom_code", s.QdrantCollection("code"))
	assert.Equal(t, "custom_docs", s.QdrantCollection("documentation"))
}

func TestRequireEntityID_PrefixesOnce(t *testing.T) {
	s := New(Config{EntityPrefix: "acme:proj:"})

	assert.Equal(t, "acme:proj:foo", s.RequireEntityID("foo"))
	assert.Equal(t, "acme:proj:foo", s.RequireEntityID("acme:proj:foo"), "already-prefixed id must not be double-prefixed")
}

func TestRequireEntityID_UnscopedPassesThrough(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, "foo", s.RequireEntityID("foo"))
}

func TestOptionalEntityID_EmptyPassesThrough(t *testing.T) {
	s := New(Config{EntityPrefix: "acme:"})
	assert.Equal(t, "", s.OptionalEntityID(""))
	assert.Equal(t, "acme:foo", s.OptionalEntityID("foo"))
}

func TestEntityIDArray(t *testing.T) {
	s := New(Config{EntityPrefix: "acme:"})

	assert.Nil(t, s.EntityIDArray(nil))
	assert.Equal(t, []string{"acme:a", "acme:b"}, s.EntityIDArray([]string{"a", "b"}))
	assert.Equal(t, []string{"acme:a"}, s.EntityIDArray([]string{"acme:a"}), "already-prefixed entries are left alone")
}

func TestRequireRelationshipID_SharesEntityNamespace(t *testing.T) {
	s := New(Config{EntityPrefix: "acme:"})
	assert.Equal(t, s.RequireEntityID("rel1"), s.RequireRelationshipID("rel1"))
}

func TestQualifyRedisKey(t *testing.T) {
	s := New(Config{RedisPrefix: "ingest:"})

	assert.Equal(t, "ingest:partition:0", s.QualifyRedisKey("partition:0"))
	assert.Equal(t, "ingest:partition:0", s.QualifyRedisKey("ingest:partition:0"))
}

func TestQualifyRedisKey_Unscoped(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, "partition:0", s.QualifyRedisKey("partition:0"))
}
