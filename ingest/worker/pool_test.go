package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraphix.dev/engine/ingest/queue"
)

func TestBackoffDelay_ExponentialUpToCap(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 3 * time.Second

	assert.Equal(t, base, backoffDelay(base, cap, 1))
	assert.Equal(t, 2*base, backoffDelay(base, cap, 2))
	assert.Equal(t, 4*base, backoffDelay(base, cap, 3))
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 3 * time.Second
	assert.Equal(t, cap, backoffDelay(base, cap, 20))
}

func TestMaxInt(t *testing.T) {
	assert.Equal(t, 5, maxInt(5, 3))
	assert.Equal(t, 5, maxInt(3, 5))
	assert.Equal(t, 4, maxInt(4, 4))
}

func TestNew_AppliesMinMaxDefaults(t *testing.T) {
	q := queue.New(queue.NewMemoryBackend(1), queue.Config{Partitions: 1})
	p := New(StageConfig{Name: "parse"}, q, countingProcessor{}, nil, nil)
	assert.Equal(t, 1, p.cfg.Min)
	assert.Equal(t, 1, p.cfg.Max)
}

func TestNew_MaxNeverBelowMin(t *testing.T) {
	q := queue.New(queue.NewMemoryBackend(1), queue.Config{Partitions: 1})
	p := New(StageConfig{Name: "parse", Min: 4, Max: 2}, q, countingProcessor{}, nil, nil)
	assert.Equal(t, 4, p.cfg.Max)
}

type countingProcessor struct {
	n *int64
}

func (c countingProcessor) Process(ctx context.Context, item queue.Item) error {
	if c.n != nil {
		atomic.AddInt64(c.n, 1)
	}
	return nil
}

func TestPool_ProcessesEnqueuedItems(t *testing.T) {
	var processed int64
	backend := queue.NewMemoryBackend(1)
	q := queue.New(backend, queue.Config{Partitions: 1})

	cfg := StageConfig{
		Name:           "parse",
		Min:            1,
		Max:            1,
		SampleInterval: time.Hour, // keep supervise from interfering
		DequeueTimeout: 50 * time.Millisecond,
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     10 * time.Millisecond,
	}
	p := New(cfg, q, countingProcessor{n: &processed}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, q.Enqueue(context.Background(), queue.Item{Fingerprint: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), queue.Item{Fingerprint: "b"}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&processed) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&processed))
}

func TestPool_ActiveReflectsSpawnedWorkers(t *testing.T) {
	q := queue.New(queue.NewMemoryBackend(2), queue.Config{Partitions: 2})
	cfg := StageConfig{Name: "parse", Min: 2, Max: 2, SampleInterval: time.Hour, DequeueTimeout: 50 * time.Millisecond}
	p := New(cfg, q, countingProcessor{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	assert.Equal(t, 2, p.Active())
}

type quarantineSpy struct {
	mu      sync.Mutex
	reasons []string
}

func (q *quarantineSpy) Add(stage string, item queue.Item, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reasons = append(q.reasons, reason)
}

type panicProcessor struct{}

func (panicProcessor) Process(ctx context.Context, item queue.Item) error {
	panic("boom")
}

func TestPool_QuarantinesAfterExhaustingRetries(t *testing.T) {
	backend := queue.NewMemoryBackend(1)
	q := queue.New(backend, queue.Config{Partitions: 1})
	spy := &quarantineSpy{}

	cfg := StageConfig{
		Name:           "parse",
		Min:            1,
		Max:            1,
		SampleInterval: time.Hour,
		DequeueTimeout: 50 * time.Millisecond,
		MaxRetries:     2,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
	}
	p := New(cfg, q, panicProcessor{}, nil, spy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	// enqueue enough items that the worker hits a fresh panicking item on
	// every retry, so the crash streak reaches MaxRetries without an empty
	// dequeue resetting the counter in between.
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), queue.Item{Fingerprint: "a"}))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		spy.mu.Lock()
		n := len(spy.reasons)
		spy.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	spy.mu.Lock()
	defer spy.mu.Unlock()
	require.Len(t, spy.reasons, 1)
	assert.Contains(t, spy.reasons[0], "exceeded crash-restart budget")
}
