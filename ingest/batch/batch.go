// Package batch implements the ingestion pipeline's batch processor:
// staged entity/relationship/embedding items are closed into a batch by
// size or timeout, ordered into a dependency DAG (an embedding item
// depends on its entity item; a relationship item depends on both endpoint
// entity items), and flushed layer by layer so that a layer's items can run
// concurrently while respecting cross-kind dependencies. Flush ordering is
// grounded on graph/dag.go's ValidateDAG/TopologicalOrder, generalized from
// action-dependency graphs to ingestion item graphs. Idempotency is a
// content-fingerprint cache with a short TTL, so a recently-flushed batch
// short-circuits to its cached result instead of re-writing.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"codegraphix.dev/engine/graph"
)

// Kind classifies a staged item.
type Kind string

const (
	KindEntity       Kind = "entity"
	KindRelationship Kind = "relationship"
	KindEmbedding    Kind = "embedding"
)

// Item is one staged write awaiting batch flush.
type Item struct {
	ID        string // unique within the batch (entity id, canonical relationship id, ...)
	Kind      Kind
	DependsOn []string // ids this item's write must follow
	Payload   interface{}
	Content   string // stable content used for the idempotency fingerprint
}

// node adapts Item to graph.Node: Item.DependsOn is a field, not a method,
// so it cannot satisfy graph.Node directly.
type node struct{ item Item }

func (n node) NodeID() string      { return n.item.ID }
func (n node) DependsOn() []string { return n.item.DependsOn }

// Config tunes batch-close triggers and flush concurrency.
type Config struct {
	EntityBatchSize       int           // default 50
	RelationshipBatchSize int           // default 100
	EmbeddingBatchSize    int           // default 25
	Timeout               time.Duration // default 5s
	MaxConcurrentBatches  int           // default 4
	IdempotencyTTL        time.Duration // default 10m
}

// DefaultConfig returns the base spec's numeric defaults.
func DefaultConfig() Config {
	return Config{
		EntityBatchSize:       50,
		RelationshipBatchSize: 100,
		EmbeddingBatchSize:    25,
		Timeout:               5 * time.Second,
		MaxConcurrentBatches:  4,
		IdempotencyTTL:        10 * time.Minute,
	}
}

// Flusher writes one item to its downstream store.
type Flusher interface {
	Flush(ctx context.Context, item Item) error
}

// BatchFlusher is an optional capability a Flusher can implement to write
// a same-kind group of items through one downstream bulk call instead of
// one call per item. flushLayer prefers this path when the configured
// Flusher implements it.
type BatchFlusher interface {
	FlushBatch(ctx context.Context, items []Item) []Result
}

// Result is one flush attempt's outcome.
type Result struct {
	ItemID string
	Err    error
}

// cachedResult is one idempotency cache entry.
type cachedResult struct {
	results   []Result
	expiresAt time.Time
}

// Processor accumulates staged items per kind, closes a batch when a
// trigger fires, and flushes it in topological order.
type Processor struct {
	cfg     Config
	flusher Flusher

	mu      sync.Mutex
	staged  []Item
	counts  map[Kind]int
	lastAdd time.Time

	cacheMu sync.Mutex
	cache   map[string]cachedResult
}

// New creates a batch processor over the given flusher.
func New(cfg Config, flusher Flusher) *Processor {
	if cfg.EntityBatchSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Processor{
		cfg:     cfg,
		flusher: flusher,
		counts:  make(map[Kind]int),
		cache:   make(map[string]cachedResult),
	}
}

// Stage adds an item to the pending batch, flushing immediately if a
// size trigger is now satisfied. Returns the flush results if a flush
// occurred, else nil.
func (p *Processor) Stage(ctx context.Context, item Item) ([]Result, error) {
	p.mu.Lock()
	if len(p.staged) == 0 {
		p.lastAdd = time.Now()
	}
	p.staged = append(p.staged, item)
	p.counts[item.Kind]++
	trigger := p.triggeredLocked()
	var batch []Item
	if trigger {
		batch = p.staged
		p.staged = nil
		p.counts = make(map[Kind]int)
	}
	p.mu.Unlock()

	if !trigger {
		return nil, nil
	}
	return p.flushBatch(ctx, batch)
}

// FlushTimedOut force-closes the pending batch if it has been open longer
// than cfg.Timeout, regardless of size triggers. Callers run this on a
// ticker alongside Stage.
func (p *Processor) FlushTimedOut(ctx context.Context) ([]Result, error) {
	p.mu.Lock()
	if len(p.staged) == 0 || time.Since(p.lastAdd) < p.cfg.Timeout {
		p.mu.Unlock()
		return nil, nil
	}
	batch := p.staged
	p.staged = nil
	p.counts = make(map[Kind]int)
	p.mu.Unlock()

	return p.flushBatch(ctx, batch)
}

func (p *Processor) triggeredLocked() bool {
	if p.counts[KindEntity] >= p.cfg.EntityBatchSize {
		return true
	}
	if p.counts[KindRelationship] >= p.cfg.RelationshipBatchSize {
		return true
	}
	if p.counts[KindEmbedding] >= p.cfg.EmbeddingBatchSize {
		return true
	}
	return time.Since(p.lastAdd) >= p.cfg.Timeout
}

// flushBatch orders the batch topologically, checks the idempotency
// cache, and flushes each layer's items concurrently (bounded by
// MaxConcurrentBatches).
func (p *Processor) flushBatch(ctx context.Context, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}

	fingerprint := fingerprintOf(items)
	if cached, ok := p.cachedFor(fingerprint); ok {
		return cached, nil
	}

	nodes := make([]graph.Node, 0, len(items))
	byID := make(map[string]Item, len(items))
	for _, it := range items {
		nodes = append(nodes, node{item: it})
		byID[it.ID] = it
	}

	ordered, err := graph.TopologicalOrder(nodes)
	if err != nil {
		// Cyclic batch: fall back to input order rather than failing the
		// whole batch; cross-kind cycles should not occur in practice.
		ordered = nodes
	}

	layers := layerize(ordered)
	results := make([]Result, 0, len(items))
	for _, layer := range layers {
		results = append(results, p.flushLayer(ctx, layer, byID)...)
	}

	p.cacheResult(fingerprint, results)
	return results, nil
}

// flushLayer runs every item in a topological layer concurrently, bounded
// by MaxConcurrentBatches. When the configured Flusher implements
// BatchFlusher, items are grouped by kind and routed through its bulk
// path instead of one Flush call per item.
func (p *Processor) flushLayer(ctx context.Context, layer []graph.Node, byID map[string]Item) []Result {
	if bf, ok := p.flusher.(BatchFlusher); ok {
		return p.flushLayerBatched(ctx, layer, byID, bf)
	}

	sem := make(chan struct{}, maxInt(p.cfg.MaxConcurrentBatches, 1))
	results := make([]Result, len(layer))
	var wg sync.WaitGroup

	for i, n := range layer {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			item := byID[id]
			err := p.flusher.Flush(ctx, item)
			results[i] = Result{ItemID: id, Err: err}
		}(i, n.NodeID())
	}
	wg.Wait()
	return results
}

// flushLayerBatched groups a layer's items by kind and flushes each group
// with one FlushBatch call, running distinct kind-groups concurrently
// (bounded by MaxConcurrentBatches) since they touch independent stores.
func (p *Processor) flushLayerBatched(ctx context.Context, layer []graph.Node, byID map[string]Item, bf BatchFlusher) []Result {
	order := make([]string, 0, len(layer))
	groups := make(map[Kind][]Item)
	for _, n := range layer {
		id := n.NodeID()
		order = append(order, id)
		item := byID[id]
		groups[item.Kind] = append(groups[item.Kind], item)
	}

	sem := make(chan struct{}, maxInt(p.cfg.MaxConcurrentBatches, 1))
	byItemID := make(map[string]Result, len(layer))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, items := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(items []Item) {
			defer wg.Done()
			defer func() { <-sem }()
			rs := bf.FlushBatch(ctx, items)
			mu.Lock()
			for _, r := range rs {
				byItemID[r.ItemID] = r
			}
			mu.Unlock()
		}(items)
	}
	wg.Wait()

	results := make([]Result, len(order))
	for i, id := range order {
		results[i] = byItemID[id]
	}
	return results
}

// layerize groups a topologically-ordered node list into layers where
// every item in a layer has no dependency on any other item in the same
// or a later layer.
func layerize(ordered []graph.Node) [][]graph.Node {
	depth := make(map[string]int, len(ordered))
	byID := make(map[string]graph.Node, len(ordered))
	for _, n := range ordered {
		byID[n.NodeID()] = n
	}
	maxDepth := 0
	for _, n := range ordered {
		d := 0
		for _, dep := range n.DependsOn() {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[n.NodeID()] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]graph.Node, maxDepth+1)
	for _, n := range ordered {
		d := depth[n.NodeID()]
		layers[d] = append(layers[d], n)
	}
	return layers
}

func (p *Processor) cachedFor(fingerprint string) ([]Result, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	entry, ok := p.cache[fingerprint]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

func (p *Processor) cacheResult(fingerprint string, results []Result) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache[fingerprint] = cachedResult{results: results, expiresAt: time.Now().Add(p.cfg.IdempotencyTTL)}

	for k, v := range p.cache {
		if time.Now().After(v.expiresAt) {
			delete(p.cache, k)
		}
	}
}

// fingerprintOf hashes a batch's sorted (id, content) pairs so that
// identical re-submitted batches collide to the same cache key regardless
// of arrival order.
func fingerprintOf(items []Item) string {
	keys := make([]string, len(items))
	byKey := make(map[string]string, len(items))
	for i, it := range items {
		keys[i] = it.ID
		byKey[it.ID] = it.Content
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(byKey[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
