// Package queue implements the partitioned, bounded, backpressure-signalling
// queue PartitionedQueue(k) sits behind the ingestion pipeline's topology.
// Each change is assigned to one of k partitions by hash(primaryFingerprint)
// mod k so that ordering is preserved per entity while partitions drain
// independently. Backends are pluggable: an in-memory backend for
// eventBus.kind=memory, a Redis-backed backend grounded on
// queue/redis/queue.go for eventBus.kind=redis, and an AMQP-backed backend
// grounded on queue/rabbit.go for eventBus.kind=external.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	cgerrors "codegraphix.dev/engine/errors"
)

// Item is one unit of ingestion work moving through the pipeline.
type Item struct {
	Fingerprint string // primaryFingerprint; determines partition assignment
	Kind        string // "change" | "entity" | "relationship" | "embedding"
	Payload     interface{}
	EnqueuedAt  time.Time
	RetryCount  int
}

// Backend is the storage behind one partition's FIFO. Dequeue returns
// (nil, nil) on timeout with no item available, mirroring
// queue/redis/queue.go's BLPop-timeout convention.
type Backend interface {
	Enqueue(ctx context.Context, partition int, item Item) error
	Dequeue(ctx context.Context, partition int, timeout time.Duration) (*Item, error)
	Depth(ctx context.Context, partition int) (int, error)
}

// Config bounds and tunes a PartitionedQueue.
type Config struct {
	Partitions int           // default 4
	MaxDepth   int           // default 10,000 items per partition
	HighWater  int           // default 90% of MaxDepth; Enqueue does not consult it
	LowWater   int           // backpressure disengages at/below this depth
}

// DefaultConfig returns the base spec's numeric defaults.
func DefaultConfig() Config {
	return Config{
		Partitions: 4,
		MaxDepth:   10000,
		HighWater:  9000,
		LowWater:   7000,
	}
}

// PartitionedQueue fans incoming items out across k independently-bounded
// partitions and signals backpressure via CodeQueueOverflow once a
// partition reaches MaxDepth, clearing only once it has drained to the
// low-water mark or below (hysteresis prevents overflow flapping).
type PartitionedQueue struct {
	backend Backend
	cfg     Config

	mu       sync.Mutex
	overflow map[int]bool
}

// New creates a PartitionedQueue over the given backend.
func New(backend Backend, cfg Config) *PartitionedQueue {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10000
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = cfg.MaxDepth * 9 / 10
	}
	if cfg.LowWater <= 0 {
		cfg.LowWater = cfg.MaxDepth * 7 / 10
	}
	return &PartitionedQueue{backend: backend, cfg: cfg, overflow: make(map[int]bool)}
}

// PartitionFor hashes a fingerprint into [0, k) via FNV-1a, matching the
// base spec's hash(primaryFingerprint) mod k per-entity ordering rule.
func PartitionFor(fingerprint string, k int) int {
	if k <= 0 {
		k = 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	return int(h.Sum32() % uint32(k))
}

// Enqueue routes item to its partition, rejecting with CodeQueueOverflow
// while that partition is at MaxDepth, or has overflowed and not yet
// drained to LowWater.
func (q *PartitionedQueue) Enqueue(ctx context.Context, item Item) error {
	partition := PartitionFor(item.Fingerprint, q.cfg.Partitions)

	depth, err := q.backend.Depth(ctx, partition)
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to read partition depth", err)
	}

	q.mu.Lock()
	inOverflow := q.overflow[partition]
	if depth >= q.cfg.MaxDepth || (inOverflow && depth > q.cfg.LowWater) {
		q.overflow[partition] = true
		q.mu.Unlock()
		return cgerrors.New(cgerrors.CodeQueueOverflow, fmt.Sprintf("partition %d at depth %d exceeds bound", partition, depth))
	}
	if inOverflow && depth <= q.cfg.LowWater {
		q.overflow[partition] = false
	}
	q.mu.Unlock()

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	return q.backend.Enqueue(ctx, partition, item)
}

// Dequeue pulls the next item from a specific partition, blocking up to
// timeout.
func (q *PartitionedQueue) Dequeue(ctx context.Context, partition int, timeout time.Duration) (*Item, error) {
	return q.backend.Dequeue(ctx, partition, timeout)
}

// Partitions returns the configured partition count, so callers (worker
// pools, the supervisor) can iterate 0..Partitions-1.
func (q *PartitionedQueue) Partitions() int {
	return q.cfg.Partitions
}

// Depth reports a single partition's current item count.
func (q *PartitionedQueue) Depth(ctx context.Context, partition int) (int, error) {
	return q.backend.Depth(ctx, partition)
}

// IsOverflowing reports whether a partition is currently signalling
// backpressure.
func (q *PartitionedQueue) IsOverflowing(partition int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow[partition]
}
