// Package ingest wires queue, worker, and batch into the full ingestion
// topology: ChangeSource -> PartitionedQueue -> {parser, entity,
// relationship, embedding} worker pools -> BatchProcessor ->
// EntityStore/RelationshipStore/VectorStore, with HistoryEngine appending
// versions and opening validity intervals on successful flush.
package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codegraphix.dev/engine/entitystore"
	"codegraphix.dev/engine/history"
	"codegraphix.dev/engine/ingest/batch"
	"codegraphix.dev/engine/ingest/queue"
	"codegraphix.dev/engine/ingest/worker"
	"codegraphix.dev/engine/relstore"
	"codegraphix.dev/engine/telemetry"
	"codegraphix.dev/engine/vectorstore"
)

// Change is one raw unit offered by a ChangeSource: a file touched since
// the last pass, identified by a fingerprint that determines which
// partition (and therefore which single-threaded consumer) handles it,
// preserving per-entity ordering.
type Change struct {
	Path        string
	Content     []byte
	Fingerprint string
}

// ParseResult is what a Parser produces from one Change.
type ParseResult struct {
	Entities      []entitystore.Entity
	Relationships []RelationshipDraft
}

// RelationshipDraft pairs a relationship with the target reference its
// canonical id is derived from.
type RelationshipDraft struct {
	Relationship relstore.Relationship
	Ref          relstore.TargetRef
}

// ChangeSource is the pull-based upstream of changed files. Pluggable so
// callers can front it with a filesystem watcher, a VCS diff, or a CI
// webhook without the pipeline knowing which.
type ChangeSource interface {
	Next(ctx context.Context) (Change, bool, error) // ok=false when the source is drained
}

// Parser turns one Change into entity/relationship drafts. Supplied by the
// caller; language-specific parsing is outside this package's scope.
type Parser interface {
	Parse(ctx context.Context, change Change) (ParseResult, error)
}

// EmbedFunc produces an embedding vector for entity content. nil disables
// the embedding stage (equivalent to Config.SkipEmbeddings=true).
type EmbedFunc func(ctx context.Context, entity entitystore.Entity) ([]float32, error)

// Config aggregates every tunable the base spec enumerates for C8.
type Config struct {
	Queue          queue.Config
	Workers        WorkersConfig
	Batching       batch.Config
	Circuit        CircuitConfig
	QuarantineSize int
	FileAccept     []string // glob allow-list; empty means accept all
	FileReject     []string // glob deny-list, checked after FileAccept
	SkipEmbeddings bool
}

// WorkersConfig holds each stage's min/max pool sizing.
type WorkersConfig struct {
	Parsers       worker.StageConfig
	Entity        worker.StageConfig
	Relationship  worker.StageConfig
	Embedding     worker.StageConfig
}

// DefaultConfig returns the base spec's numeric defaults across every
// sub-config.
func DefaultConfig() Config {
	return Config{
		Queue:    queue.DefaultConfig(),
		Batching: batch.DefaultConfig(),
		Circuit:  DefaultCircuitConfig(),
		Workers: WorkersConfig{
			Parsers:      worker.DefaultStageConfig("parser", 2, 8),
			Entity:       worker.DefaultStageConfig("entity", 2, 8),
			Relationship: worker.DefaultStageConfig("relationship", 2, 8),
			Embedding:    worker.DefaultStageConfig("embedding", 1, 4),
		},
		QuarantineSize: 100,
	}
}

// Pipeline is the assembled ingestion topology.
type Pipeline struct {
	cfg Config
	bus *telemetry.Bus

	changeBackend *queue.MemoryBackend
	entityBackend *queue.MemoryBackend
	relBackend    *queue.MemoryBackend
	embedBackend  *queue.MemoryBackend

	changeQueue *queue.PartitionedQueue
	entityQueue *queue.PartitionedQueue
	relQueue    *queue.PartitionedQueue
	embedQueue  *queue.PartitionedQueue

	parserPool *worker.Pool
	entityPool *worker.Pool
	relPool    *worker.Pool
	embedPool  *worker.Pool

	batchProc  *batch.Processor
	quarantine *Quarantine
	tracker    *ItemTracker

	entityCircuit *CircuitBreaker
	relCircuit    *CircuitBreaker
	vectorCircuit *CircuitBreaker

	source ChangeSource
	parser Parser
	embed  EmbedFunc

	entities *entitystore.Store
	rels     *relstore.Store
	vectors  *vectorstore.Store
	hist     *history.Engine

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New assembles a Pipeline over in-memory queue backends
// (eventBus.kind=memory). Callers wanting the Redis- or AMQP-backed
// partition implementations (eventBus.kind=redis|external) construct a
// queue.PartitionedQueue over queue.RedisBackend/queue.AMQPBackend
// directly and drive the same worker/batch wiring by hand.
func New(cfg Config, bus *telemetry.Bus, source ChangeSource, parser Parser, embed EmbedFunc,
	entities *entitystore.Store, rels *relstore.Store, vectors *vectorstore.Store, hist *history.Engine) *Pipeline {

	partitions := cfg.Queue.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	changeBackend := queue.NewMemoryBackend(partitions)
	entityBackend := queue.NewMemoryBackend(partitions)
	relBackend := queue.NewMemoryBackend(partitions)
	embedBackend := queue.NewMemoryBackend(partitions)

	p := &Pipeline{
		cfg:           cfg,
		bus:           bus,
		changeBackend: changeBackend,
		entityBackend: entityBackend,
		relBackend:    relBackend,
		embedBackend:  embedBackend,
		changeQueue:   queue.New(changeBackend, cfg.Queue),
		entityQueue:   queue.New(entityBackend, cfg.Queue),
		relQueue:      queue.New(relBackend, cfg.Queue),
		embedQueue:    queue.New(embedBackend, cfg.Queue),
		quarantine:    NewQuarantine(cfg.QuarantineSize),
		tracker:       NewItemTracker(0),
		entityCircuit: NewCircuitBreaker(cfg.Circuit),
		relCircuit:    NewCircuitBreaker(cfg.Circuit),
		vectorCircuit: NewCircuitBreaker(cfg.Circuit),
		source:        source,
		parser:        parser,
		embed:         embed,
		entities:      entities,
		rels:          rels,
		vectors:       vectors,
		hist:          hist,
		stopCh:        make(chan struct{}),
	}

	p.batchProc = batch.New(cfg.Batching, &storeFlusher{p: p})

	p.parserPool = worker.New(cfg.Workers.Parsers, p.changeQueue, &parserProcessor{p: p}, bus, p.quarantine)
	p.entityPool = worker.New(cfg.Workers.Entity, p.entityQueue, &entityProcessor{p: p}, bus, p.quarantine)
	p.relPool = worker.New(cfg.Workers.Relationship, p.relQueue, &relationshipProcessor{p: p}, bus, p.quarantine)
	p.embedPool = worker.New(cfg.Workers.Embedding, p.embedQueue, &embeddingProcessor{p: p}, bus, p.quarantine)

	return p
}

// Start launches the change-source puller, every stage's worker pool, and
// the batch timeout ticker.
func (p *Pipeline) Start(ctx context.Context) {
	p.parserPool.Start(ctx)
	p.entityPool.Start(ctx)
	p.relPool.Start(ctx)
	if !p.cfg.SkipEmbeddings && p.embed != nil {
		p.embedPool.Start(ctx)
	}

	p.wg.Add(2)
	go p.pullChanges(ctx)
	go p.tickBatchTimeout(ctx)
}

// Stop halts the puller, every worker pool, and the timeout ticker.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.parserPool.Stop()
	p.entityPool.Stop()
	p.relPool.Stop()
	p.embedPool.Stop()
	p.wg.Wait()
}

// Quarantine exposes the bounded error sample for introspection/reporting.
func (p *Pipeline) Quarantine() *Quarantine { return p.quarantine }

// QueueDepth sums every partition's depth across all four stage queues, so
// a caller driving a single extraction artifact through the pipeline can
// poll for drain instead of guessing a fixed settle time.
func (p *Pipeline) QueueDepth(ctx context.Context) int {
	total := 0
	for _, q := range []*queue.PartitionedQueue{p.changeQueue, p.entityQueue, p.relQueue, p.embedQueue} {
		for i := 0; i < q.Partitions(); i++ {
			d, err := q.Depth(ctx, i)
			if err == nil {
				total += d
			}
		}
	}
	return total
}

func (p *Pipeline) pullChanges(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		change, ok, err := p.source.Next(ctx)
		if err != nil {
			p.emit(telemetry.LevelError, "change source error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if !ok {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if !p.accepts(change.Path) {
			continue
		}

		item := queue.Item{Fingerprint: change.Fingerprint, Kind: "change", Payload: change}
		if err := p.changeQueue.Enqueue(ctx, item); err != nil {
			p.emit(telemetry.LevelWarn, "change enqueue rejected", map[string]interface{}{"path": change.Path, "error": err.Error()})
		}
	}
}

// accepts applies FileAccept then FileReject glob filters.
func (p *Pipeline) accepts(path string) bool {
	if len(p.cfg.FileAccept) > 0 {
		matched := false
		for _, g := range p.cfg.FileAccept {
			if ok, _ := filepath.Match(g, path); ok || strings.Contains(path, g) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, g := range p.cfg.FileReject {
		if ok, _ := filepath.Match(g, path); ok || strings.Contains(path, g) {
			return false
		}
	}
	return true
}

func (p *Pipeline) tickBatchTimeout(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Batching.Timeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.batchProc.FlushTimedOut(ctx); err != nil {
				p.emit(telemetry.LevelError, "timed-out batch flush failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (p *Pipeline) emit(level telemetry.Level, message string, data map[string]interface{}) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(telemetry.Event{Component: "ingest.pipeline", Level: level, Message: message, Data: data, Time: time.Now()})
}
