package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codegraphix.dev/engine/graphstore"
)

func recordWithProps(props map[string]interface{}) graphstore.Record {
	return graphstore.Record{Properties: props}
}

func TestSelectStrategy_PathLikeRoutesStructural(t *testing.T) {
	assert.Equal(t, StrategyStructural, selectStrategy(Query{Text: "pkg/foo.go"}))
	assert.Equal(t, StrategyStructural, selectStrategy(Query{Text: "Foo::Bar"}))
}

func TestSelectStrategy_WideFilterRoutesStructural(t *testing.T) {
	q := Query{Text: "plain text", Filter: Filter{"type": "symbol", "language": "go", "kind": "func"}}
	assert.Equal(t, StrategyStructural, selectStrategy(q))
}

func TestSelectStrategy_NaturalLanguageRoutesHybrid(t *testing.T) {
	assert.Equal(t, StrategyHybrid, selectStrategy(Query{Text: "parses configuration files"}))
}

func TestCacheKey_DeterministicAcrossEquivalentQueries(t *testing.T) {
	q1 := Query{Text: "foo", Limit: 10, Fuzzy: true}
	q2 := Query{Text: "foo", Limit: 10, Fuzzy: true}
	assert.Equal(t, cacheKey(q1, StrategyHybrid), cacheKey(q2, StrategyHybrid))
}

func TestCacheKey_DiffersByStrategy(t *testing.T) {
	q := Query{Text: "foo", Limit: 10}
	assert.NotEqual(t, cacheKey(q, StrategyStructural), cacheKey(q, StrategySemantic))
}

func TestSimilarity_IdenticalStringsScoreOne(t *testing.T) {
	assert.Equal(t, 1.0, similarity("parseConfig", "parseConfig"))
}

func TestSimilarity_BothEmptyScoresOne(t *testing.T) {
	assert.Equal(t, 1.0, similarity("", ""))
}

func TestSimilarity_CompletelyDifferentScoresLow(t *testing.T) {
	sim := similarity("abc", "xyz")
	assert.Less(t, sim, 0.5)
}

func TestSimilarity_CloseMatchAboveFuzzyThreshold(t *testing.T) {
	sim := similarity("parseConfig", "parsConfig")
	assert.GreaterOrEqual(t, sim, fuzzyThreshold)
}

func TestMatchesFilter_AllFieldsMustMatch(t *testing.T) {
	rec := recordWithProps(map[string]interface{}{"type": "symbol", "language": "go"})

	assert.True(t, matchesFilter(rec, Filter{"type": "symbol"}))
	assert.True(t, matchesFilter(rec, Filter{"type": "symbol", "language": "go"}))
	assert.False(t, matchesFilter(rec, Filter{"type": "symbol", "language": "python"}))
}

func TestMatchesFilter_MissingPropertyFails(t *testing.T) {
	rec := recordWithProps(map[string]interface{}{"type": "symbol"})
	assert.False(t, matchesFilter(rec, Filter{"missing": "x"}))
}

func TestMatchesFilter_EmptyFilterAlwaysMatches(t *testing.T) {
	rec := recordWithProps(map[string]interface{}{})
	assert.True(t, matchesFilter(rec, Filter{}))
}

func TestGlobToRegex_StarAndQuestionMark(t *testing.T) {
	assert.Equal(t, "^foo.*bar$", globToRegex("foo*bar"))
	assert.Equal(t, "^foo.bar$", globToRegex("foo?bar"))
}

func TestGlobToRegex_EscapesRegexMetacharacters(t *testing.T) {
	assert.Equal(t, `^a\.b\+c$`, globToRegex("a.b+c"))
}
