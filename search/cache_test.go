package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLLRU_SetGet(t *testing.T) {
	c := newTTLLRU(10, time.Minute)

	c.set("a", []Result{{EntityID: "e1"}})
	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, []Result{{EntityID: "e1"}}, v)
}

func TestTTLLRU_MissOnUnknownKey(t *testing.T) {
	c := newTTLLRU(10, time.Minute)
	_, ok := c.get("missing")
	assert.False(t, ok)
}

func TestTTLLRU_ExpiresAfterTTL(t *testing.T) {
	c := newTTLLRU(10, time.Millisecond)
	c.set("a", 1)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.get("a")
	assert.False(t, ok, "entry should have expired")
}

func TestTTLLRU_EvictsOldestOverCapacity(t *testing.T) {
	c := newTTLLRU(2, time.Minute)
	c.set("a", 1)
	c.set("b", 2)
	c.set("c", 3) // evicts "a", the least recently touched

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestTTLLRU_GetRefreshesRecency(t *testing.T) {
	c := newTTLLRU(2, time.Minute)
	c.set("a", 1)
	c.set("b", 2)
	c.get("a") // touch a, making b the least recently used
	c.set("c", 3)

	_, ok := c.get("b")
	assert.False(t, ok, "b should have been evicted instead of a")
	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestTTLLRU_Invalidate(t *testing.T) {
	c := newTTLLRU(10, time.Minute)
	c.set("entity:foo", 1)
	c.set("entity:bar", 2)
	c.set("other:baz", 3)

	removed := c.invalidate(func(key string) bool {
		return key == "entity:foo" || key == "entity:bar"
	})
	assert.Equal(t, 2, removed)

	_, ok := c.get("entity:foo")
	assert.False(t, ok)
	_, ok = c.get("other:baz")
	assert.True(t, ok)
}

func TestCanonicalKey_OrderIndependent(t *testing.T) {
	a := canonicalKey(map[string]string{"a": "1", "b": "2"})
	b := canonicalKey(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
}

func TestCanonicalKey_DistinctValuesDiffer(t *testing.T) {
	a := canonicalKey(map[string]string{"text": "foo"})
	b := canonicalKey(map[string]string{"text": "bar"})
	assert.NotEqual(t, a, b)
}
