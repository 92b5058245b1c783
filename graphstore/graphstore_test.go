package graphstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWiden_IntBecomesInt64(t *testing.T) {
	assert.Equal(t, int64(42), widen(int(42)))
}

func TestWiden_Int32BecomesInt64(t *testing.T) {
	assert.Equal(t, int64(7), widen(int32(7)))
}

func TestWiden_TimeConvertedToUTC(t *testing.T) {
	loc := time.FixedZone("TEST", 3600)
	local := time.Date(2026, 1, 1, 12, 0, 0, 0, loc)

	widened := widen(local)
	wt, ok := widened.(time.Time)
	assert.True(t, ok)
	assert.Equal(t, time.UTC, wt.Location())
	assert.True(t, wt.Equal(local))
}

func TestWiden_PassesThroughUnknownTypes(t *testing.T) {
	assert.Equal(t, "hello", widen("hello"))
	assert.Equal(t, true, widen(true))
}

func TestToLower_AsciiOnly(t *testing.T) {
	assert.Equal(t, "password", toLower("Password"))
	assert.Equal(t, "apikey", toLower("APIKEY"))
	assert.Equal(t, "already-lower", toLower("already-lower"))
}

func TestRedactParams_MasksSensitiveKeysCaseInsensitively(t *testing.T) {
	params := map[string]interface{}{
		"Password": "hunter2",
		"Token":    "abc",
		"SECRET":   "xyz",
		"apiKey":   "k1",
		"username": "alice",
	}

	redacted := redactParams(params)
	assert.Equal(t, "***", redacted["Password"])
	assert.Equal(t, "***", redacted["Token"])
	assert.Equal(t, "***", redacted["SECRET"])
	assert.Equal(t, "***", redacted["apiKey"])
	assert.Equal(t, "alice", redacted["username"])
}

func TestRedactParams_EmptyMap(t *testing.T) {
	redacted := redactParams(map[string]interface{}{})
	assert.Empty(t, redacted)
}

func TestRedactCypher_PassesThrough(t *testing.T) {
	cypher := "MATCH (n) RETURN n"
	assert.Equal(t, cypher, redactCypher(cypher))
}
