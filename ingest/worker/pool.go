// Package worker implements the ingestion pipeline's per-stage worker
// pools, generalized from worker/pool.go's Pool/Worker/JobProcessor/Queue
// abstractions: one pool per pipeline stage (parser/entity/relationship/
// embedding) instead of one pool per named queue, with a supervisor
// goroutine that scales workers toward a configured min/max by sampling
// partition depth, and crash-restart with exponential backoff before
// quarantine.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"codegraphix.dev/engine/ingest/queue"
	"codegraphix.dev/engine/telemetry"
)

// Processor handles one dequeued item; Process does the actual stage work.
type Processor interface {
	Process(ctx context.Context, item queue.Item) error
}

// StageConfig tunes one stage's pool.
type StageConfig struct {
	Name                 string
	Min, Max             int
	SampleInterval        time.Duration // default 1s
	HighWaterDepth        int           // depth above which the pool scales up
	LowWaterDepth         int           // depth below which the pool may scale down
	LowUtilSamplesToScale int           // consecutive low-utilization samples before scale-down, default 5
	BackoffBase           time.Duration // default 100ms
	BackoffCap            time.Duration // default 3s
	MaxRetries            int           // default 10
	DequeueTimeout        time.Duration // default 2s
}

// DefaultStageConfig fills in the base spec's numeric defaults for a stage.
func DefaultStageConfig(name string, min, max int) StageConfig {
	return StageConfig{
		Name:                  name,
		Min:                   min,
		Max:                   max,
		SampleInterval:        time.Second,
		HighWaterDepth:        500,
		LowWaterDepth:         50,
		LowUtilSamplesToScale: 5,
		BackoffBase:           100 * time.Millisecond,
		BackoffCap:            3 * time.Second,
		MaxRetries:            10,
		DequeueTimeout:        2 * time.Second,
	}
}

// Quarantine receives items whose worker exhausted its crash-restart
// budget. Implemented by ingest.Quarantine; kept as an interface here to
// avoid a dependency cycle between worker and the top-level ingest package.
type Quarantine interface {
	Add(stage string, item queue.Item, reason string)
}

// Pool runs Min..Max worker goroutines over a PartitionedQueue's
// partitions. A partition-scoped mutex per partition ensures at most one
// worker processes a given partition at a time, preserving per-entity
// ordering even when the pool has more worker goroutines than partitions:
// surplus goroutines simply contend for a free partition lock instead of
// processing concurrently within the same partition.
type Pool struct {
	cfg        StageConfig
	q          *queue.PartitionedQueue
	processor  Processor
	bus        *telemetry.Bus
	quarantine Quarantine

	mu            sync.Mutex
	partitionLock []sync.Mutex
	active        int
	target        int // desired worker count; workers exit voluntarily when active > target
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// New creates a stage's worker pool.
func New(cfg StageConfig, q *queue.PartitionedQueue, processor Processor, bus *telemetry.Bus, quarantine Quarantine) *Pool {
	if cfg.Min <= 0 {
		cfg.Min = 1
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	return &Pool{
		cfg:           cfg,
		q:             q,
		processor:     processor,
		bus:           bus,
		quarantine:    quarantine,
		partitionLock: make([]sync.Mutex, q.Partitions()),
		stopCh:        make(chan struct{}),
	}
}

// Start launches Min workers and the autoscale supervisor.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.target = p.cfg.Min
	for i := 0; i < p.cfg.Min; i++ {
		p.spawnLocked(ctx)
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.supervise(ctx)
}

// Stop signals all workers and the supervisor to exit and waits for them.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Active reports the current worker goroutine count.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) spawnLocked(ctx context.Context) {
	p.active++
	p.wg.Add(1)
	go p.runWorker(ctx)
}

// runWorker is one worker's lifetime: it picks a partition, locks it,
// processes one item, unlocks, and repeats, restarting itself with
// exponential backoff if the processor panics, up to MaxRetries before
// quarantining the in-flight item and exiting.
func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	retries := 0
	partitions := len(p.partitionLock)
	start := rand.Intn(maxInt(partitions, 1))

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.shouldShrink() {
			return
		}

		partition := (start + retries) % maxInt(partitions, 1)
		item, crashed := p.tryPartition(ctx, partition)

		if crashed {
			retries++
			if retries > p.cfg.MaxRetries {
				if item != nil && p.quarantine != nil {
					p.quarantine.Add(p.cfg.Name, *item, "worker exceeded crash-restart budget")
				}
				p.emit(telemetry.LevelError, "worker quarantined after exhausting retries", map[string]interface{}{"partition": partition})
				return
			}
			p.emit(telemetry.LevelWarn, "worker crashed, restarting with backoff", map[string]interface{}{"partition": partition, "retry": retries})
			time.Sleep(backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffCap, retries))
			continue
		}
		retries = 0
		start = (start + 1) % maxInt(partitions, 1)
	}
}

// tryPartition attempts to lock one partition, dequeue a single item, and
// process it. crashed is true if the processor panicked.
func (p *Pool) tryPartition(ctx context.Context, partition int) (item *queue.Item, crashed bool) {
	lock := &p.partitionLock[partition]
	if !lock.TryLock() {
		return nil, false
	}
	defer lock.Unlock()

	next, err := p.q.Dequeue(ctx, partition, p.cfg.DequeueTimeout)
	if err != nil || next == nil {
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			crashed = true
			item = next
		}
	}()

	if procErr := p.processor.Process(ctx, *next); procErr != nil {
		p.emit(telemetry.LevelError, "item processing failed", map[string]interface{}{"partition": partition, "error": procErr.Error()})
	}
	return nil, false
}

// shouldShrink reports whether this worker should exit to bring active
// down toward target, and if so decrements active on its behalf.
func (p *Pool) shouldShrink() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > p.target {
		return true
	}
	return false
}

func (p *Pool) emit(level telemetry.Level, message string, data map[string]interface{}) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(telemetry.Event{Component: "ingest.worker." + p.cfg.Name, Level: level, Message: message, Data: data, Time: time.Now()})
}

// supervise samples partition depth at SampleInterval and scales the pool
// toward Min..Max: depth above HighWaterDepth scales up by one worker;
// depth below LowWaterDepth for LowUtilSamplesToScale consecutive samples
// scales down by one.
func (p *Pool) supervise(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()

	lowStreak := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := p.totalDepth(ctx)

			p.mu.Lock()
			active := p.active
			if depth > p.cfg.HighWaterDepth && active < p.cfg.Max {
				p.target = active + 1
				p.spawnLocked(ctx)
				lowStreak = 0
			} else if depth < p.cfg.LowWaterDepth {
				lowStreak++
				if lowStreak >= p.cfg.LowUtilSamplesToScale && active > p.cfg.Min {
					lowStreak = 0
					p.target = active - 1
				}
			} else {
				lowStreak = 0
			}
			p.mu.Unlock()
		}
	}
}

func (p *Pool) totalDepth(ctx context.Context) int {
	total := 0
	for i := 0; i < len(p.partitionLock); i++ {
		d, err := p.q.Depth(ctx, i)
		if err == nil {
			total += d
		}
	}
	return total
}

func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if delay > cap || delay <= 0 {
		delay = cap
	}
	return delay
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
