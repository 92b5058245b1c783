package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "codegraphix.dev/engine/errors"
)

func TestPartitionFor_Deterministic(t *testing.T) {
	assert.Equal(t, PartitionFor("fp1", 4), PartitionFor("fp1", 4))
}

func TestPartitionFor_WithinRange(t *testing.T) {
	for _, fp := range []string{"a", "bb", "ccc", "dddd"} {
		p := PartitionFor(fp, 4)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 4)
	}
}

func TestPartitionFor_ZeroPartitionsFallsBackToOne(t *testing.T) {
	assert.Equal(t, 0, PartitionFor("fp1", 0))
}

func TestNew_AppliesDefaults(t *testing.T) {
	q := New(NewMemoryBackend(4), Config{})
	assert.Equal(t, 4, q.Partitions())
	assert.Equal(t, 10000, q.cfg.MaxDepth)
	assert.Equal(t, 9000, q.cfg.HighWater)
	assert.Equal(t, 7000, q.cfg.LowWater)
}

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	q := New(NewMemoryBackend(4), DefaultConfig())
	ctx := context.Background()

	err := q.Enqueue(ctx, Item{Fingerprint: "fp1", Kind: "entity"})
	require.NoError(t, err)

	partition := PartitionFor("fp1", 4)
	item, err := q.Dequeue(ctx, partition, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "entity", item.Kind)
}

func TestEnqueue_StampsEnqueuedAtWhenZero(t *testing.T) {
	q := New(NewMemoryBackend(4), DefaultConfig())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp1"}))

	partition := PartitionFor("fp1", 4)
	item, err := q.Dequeue(ctx, partition, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, item.EnqueuedAt.IsZero())
}

func TestDequeue_TimeoutReturnsNilWithoutError(t *testing.T) {
	q := New(NewMemoryBackend(4), DefaultConfig())
	item, err := q.Dequeue(context.Background(), 0, 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestEnqueue_RejectsAtMaxDepth(t *testing.T) {
	backend := NewMemoryBackend(1)
	q := New(backend, Config{Partitions: 1, MaxDepth: 2, HighWater: 2, LowWater: 1})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp1"}))
	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp2"}))

	err := q.Enqueue(ctx, Item{Fingerprint: "fp3"})
	assert.Error(t, err)
	code, ok := cgerrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, cgerrors.CodeQueueOverflow, code)
}

func TestIsOverflowing_SetAfterOverflowAndClearedAfterDraining(t *testing.T) {
	backend := NewMemoryBackend(1)
	q := New(backend, Config{Partitions: 1, MaxDepth: 2, HighWater: 2, LowWater: 1})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp1"}))
	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp2"}))
	_ = q.Enqueue(ctx, Item{Fingerprint: "fp3"}) // pushes partition into overflow

	assert.True(t, q.IsOverflowing(0))

	_, err := q.Dequeue(ctx, 0, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, 0, 10*time.Millisecond)
	require.NoError(t, err)

	// depth is now 0, at/below the low-water mark of 1: a fresh Enqueue call
	// must observe the drained depth and clear overflow before re-checking it.
	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp4"}))
	assert.False(t, q.IsOverflowing(0))
}

func TestDepth_ReflectsBackendState(t *testing.T) {
	q := New(NewMemoryBackend(4), DefaultConfig())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Fingerprint: "fp1"}))
	partition := PartitionFor("fp1", 4)

	depth, err := q.Depth(ctx, partition)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestMemoryBackend_EnqueueDequeueDepth(t *testing.T) {
	b := NewMemoryBackend(2)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, 0, Item{Fingerprint: "a"}))
	require.NoError(t, b.Enqueue(ctx, 0, Item{Fingerprint: "b"}))

	depth, err := b.Depth(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	item, err := b.Dequeue(ctx, 0, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "a", item.Fingerprint, "FIFO order within a partition")
}

func TestMemoryBackend_DequeueTimeout(t *testing.T) {
	b := NewMemoryBackend(1)
	item, err := b.Dequeue(context.Background(), 0, 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestMemoryBackend_LazilyCreatesUnknownPartitionLane(t *testing.T) {
	b := NewMemoryBackend(1)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, 7, Item{Fingerprint: "x"}))
	depth, err := b.Depth(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestEnqueue_ContextCancelledReturnsErr(t *testing.T) {
	b := NewMemoryBackend(1)
	// fill the lane to its buffer capacity so the next send blocks
	ctx := context.Background()
	for i := 0; i < 4096; i++ {
		require.NoError(t, b.Enqueue(ctx, 0, Item{Fingerprint: "fill"}))
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Enqueue(cancelled, 0, Item{Fingerprint: "x"})
	assert.Error(t, err)
}
