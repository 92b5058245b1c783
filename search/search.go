// Package search implements SearchEngine (C6): structural/semantic/hybrid
// search strategies, a TTL-bounded LRU result cache, and the auxiliary
// symbol/pattern lookup operations.
package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"codegraphix.dev/engine/entitystore"
	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/namespace"
	"codegraphix.dev/engine/vectorstore"
)

const fuzzyThreshold = 0.6

// Strategy names the search mode a Query runs under.
type Strategy string

const (
	StrategyStructural Strategy = "structural"
	StrategySemantic    Strategy = "semantic"
	StrategyHybrid      Strategy = "hybrid"
)

// Filter narrows structural search to additional predicate fields beyond
// the name/path/id match; arity >2 routes strategy selection to
// structural.
type Filter map[string]string

// Query is a single search request.
type Query struct {
	Text     string
	Strategy Strategy // explicit override; empty triggers heuristic selection
	Filter   Filter
	Fuzzy    bool
	Limit    int
}

// Result is a single search hit.
type Result struct {
	EntityID string
	Score    float64
	Entity   *entitystore.Entity
}

// Engine implements SearchEngine (C6).
type Engine struct {
	graph   *graphstore.Store
	vectors *vectorstore.Store
	scope   *namespace.Scope
	cache   *ttlLRU
	embed   EmbeddingFunc
}

// EmbeddingFunc turns free text into a query vector for semantic search.
// Provided by the caller (the ingestion pipeline's embedding provider)
// since embedding generation is out of SearchEngine's own scope.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// Config controls the result cache's bounds.
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// New creates a search engine bound to its graph/vector stores.
func New(graph *graphstore.Store, vectors *vectorstore.Store, scope *namespace.Scope, embed EmbeddingFunc, cfg Config) *Engine {
	size := cfg.CacheSize
	if size <= 0 {
		size = 500
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{graph: graph, vectors: vectors, scope: scope, cache: newTTLLRU(size, ttl), embed: embed}
}

// Search dispatches to the selected or inferred strategy, caching results
// under the canonicalized request.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	strategy := q.Strategy
	if strategy == "" {
		strategy = selectStrategy(q)
	}

	key := cacheKey(q, strategy)
	if cached, ok := e.cache.get(key); ok {
		return cached.([]Result), nil
	}

	var results []Result
	var err error
	switch strategy {
	case StrategyStructural:
		results, err = e.structuralSearch(ctx, q)
	case StrategySemantic:
		results, err = e.semanticSearch(ctx, q)
	default:
		results, err = e.hybridSearch(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	e.cache.set(key, results)
	return results, nil
}

// selectStrategy implements the routing heuristic: an explicit flag (not
// reached here since Search only calls this when Strategy is empty) wins;
// queries containing '/' or ':' or a filter of arity >2 route to
// structural; pure natural-language queries route to hybrid.
func selectStrategy(q Query) Strategy {
	if strings.ContainsAny(q.Text, "/:") || len(q.Filter) > 2 {
		return StrategyStructural
	}
	return StrategyHybrid
}

func cacheKey(q Query, strategy Strategy) string {
	parts := map[string]string{
		"text":     q.Text,
		"strategy": string(strategy),
		"fuzzy":    strconv.FormatBool(q.Fuzzy),
		"limit":    strconv.Itoa(q.Limit),
	}
	for k, v := range q.Filter {
		parts["filter."+k] = v
	}
	return canonicalKey(parts)
}

// Invalidate drops every cached result whose key satisfies predicate and
// returns how many were dropped.
func (e *Engine) Invalidate(predicate func(key string) bool) int {
	return e.cache.invalidate(predicate)
}

func (e *Engine) structuralSearch(ctx context.Context, q Query) ([]Result, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity) WHERE e.name CONTAINS $text OR e.path CONTAINS $text OR e.id CONTAINS $text
RETURN e LIMIT $limit`,
		Params: map[string]interface{}{"text": q.Text, "limit": int64(q.Limit * 3)},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "structural search failed", err)
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		score := 1.0
		if q.Fuzzy {
			name, _ := r.Properties["name"].(string)
			sim := similarity(q.Text, name)
			if sim < fuzzyThreshold {
				continue
			}
			score = sim
		}
		if !matchesFilter(r, q.Filter) {
			continue
		}
		entityID, _ := r.Properties["id"].(string)
		results = append(results, Result{EntityID: entityID, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func matchesFilter(r graphstore.Record, filter Filter) bool {
	for k, v := range filter {
		prop, ok := r.Properties[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", prop) != v {
			return false
		}
	}
	return true
}

// similarity converts Levenshtein edit distance into a 0..1 normalized
// similarity score (1 - distance/maxLen).
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func (e *Engine) semanticSearch(ctx context.Context, q Query) ([]Result, error) {
	if e.embed == nil {
		return nil, cgerrors.New(cgerrors.CodeEmbeddingUnavailable, "no embedding function configured")
	}
	vec, err := e.embed(ctx, q.Text)
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeEmbeddingUnavailable, "failed to embed query text", err)
	}

	matches, err := e.vectors.Search(ctx, vec, "code", q.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{EntityID: m.EntityID, Score: m.Score}
	}
	return results, nil
}

// hybridSearch runs structural and semantic halves concurrently, each
// with half the requested limit, merges by entity id (averaging scores on
// overlap, boosting structural-only hits 1.2x), and truncates the merged
// set.
func (e *Engine) hybridSearch(ctx context.Context, q Query) ([]Result, error) {
	half := q.Limit / 2
	if half < 1 {
		half = 1
	}

	structQ := q
	structQ.Limit = half
	semQ := q
	semQ.Limit = half

	type sideResult struct {
		results []Result
		err     error
	}
	structCh := make(chan sideResult, 1)
	semCh := make(chan sideResult, 1)

	go func() {
		r, err := e.structuralSearch(ctx, structQ)
		structCh <- sideResult{r, err}
	}()
	go func() {
		r, err := e.semanticSearch(ctx, semQ)
		semCh <- sideResult{r, err}
	}()

	structSide := <-structCh
	semSide := <-semCh

	if structSide.err != nil && semSide.err != nil {
		return nil, structSide.err
	}

	merged := make(map[string]*Result)
	structuralOnly := make(map[string]bool)
	for _, r := range structSide.results {
		v := r
		merged[r.EntityID] = &v
		structuralOnly[r.EntityID] = true
	}
	for _, r := range semSide.results {
		if existing, ok := merged[r.EntityID]; ok {
			existing.Score = (existing.Score + r.Score) / 2
			delete(structuralOnly, r.EntityID)
		} else {
			v := r
			merged[r.EntityID] = &v
		}
	}
	for id := range structuralOnly {
		merged[id].Score *= 1.2
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// FindSymbolsByName looks up symbol-typed entities by exact or fuzzy name.
func (e *Engine) FindSymbolsByName(ctx context.Context, name string, fuzzy bool, limit int) ([]Result, error) {
	return e.structuralSearch(ctx, Query{Text: name, Fuzzy: fuzzy, Limit: limit, Filter: Filter{"type": "symbol"}})
}

// NearbySymbolsOptions configures FindNearbySymbols.
type NearbySymbolsOptions struct {
	Line   int
	Column int
	Range  int // default 50
	Limit  int // default 10
}

// FindNearbySymbols returns symbols in filePath whose line falls within
// ±Range of the given position, ordered by distance.
func (e *Engine) FindNearbySymbols(ctx context.Context, filePath string, opts NearbySymbolsOptions) ([]graphstore.Record, error) {
	r := opts.Range
	if r <= 0 {
		r = 50
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (s:Symbol {path: $path})
WHERE abs(s.line - $line) <= $range
RETURN s ORDER BY abs(s.line - $line) ASC LIMIT $limit`,
		Params: map[string]interface{}{
			"path":  filePath,
			"line":  int64(opts.Line),
			"range": int64(r),
			"limit": int64(limit),
		},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to find nearby symbols", err)
	}
	return rows, nil
}

// PatternKind selects patternSearch's pattern syntax.
type PatternKind string

const (
	PatternRegex PatternKind = "regex"
	PatternGlob  PatternKind = "glob"
)

// PatternSearch matches entity paths/names against a glob or regex
// pattern. Glob patterns are translated to regex (* -> .*, ? -> .).
func (e *Engine) PatternSearch(ctx context.Context, pattern string, kind PatternKind, limit int) ([]graphstore.Record, error) {
	expr := pattern
	if kind == PatternGlob {
		expr = globToRegex(pattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeValidation, "invalid pattern", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity) RETURN e LIMIT $scanLimit`,
		Params: map[string]interface{}{"scanLimit": int64(limit * 20)},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "pattern search scan failed", err)
	}

	out := make([]graphstore.Record, 0, limit)
	for _, r := range rows {
		path, _ := r.Properties["path"].(string)
		name, _ := r.Properties["name"].(string)
		if re.MatchString(path) || re.MatchString(name) {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func globToRegex(glob string) string {
	var sb strings.Builder
	sb.WriteByte('^')
	for _, c := range glob {
		switch c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(c)
		default:
			sb.WriteRune(c)
		}
	}
	sb.WriteByte('$')
	return sb.String()
}

const maxExamples = 5

// GetEntityExamples returns up to 5 callers/users of an entity with their
// code snippets.
func (e *Engine) GetEntityExamples(ctx context.Context, entityID string) ([]graphstore.Record, error) {
	rows, err := e.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (caller)-[r:CALLS|USES]->(e:Entity {id: $id})
RETURN caller, r.evidence AS evidence LIMIT $limit`,
		Params: map[string]interface{}{"id": e.scope.RequireEntityID(entityID), "limit": int64(maxExamples)},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to fetch entity examples", err)
	}
	return rows, nil
}
