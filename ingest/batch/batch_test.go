package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraphix.dev/engine/graph"
)

type recordingFlusher struct {
	mu      sync.Mutex
	flushed []string
	order   []string
	fail    map[string]error
}

func newRecordingFlusher() *recordingFlusher {
	return &recordingFlusher{fail: make(map[string]error)}
}

func (f *recordingFlusher) Flush(ctx context.Context, item Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, item.ID)
	f.order = append(f.order, item.ID)
	return f.fail[item.ID]
}

func TestProcessor_StageFlushesOnSizeTrigger(t *testing.T) {
	flusher := newRecordingFlusher()
	p := New(Config{EntityBatchSize: 2, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	r1, err := p.Stage(context.Background(), Item{ID: "e1", Kind: KindEntity, Content: "a"})
	require.NoError(t, err)
	assert.Nil(t, r1, "first item must not trigger a flush below the batch size")

	r2, err := p.Stage(context.Background(), Item{ID: "e2", Kind: KindEntity, Content: "b"})
	require.NoError(t, err)
	require.Len(t, r2, 2, "second entity should close the batch at size 2")
}

func TestProcessor_FlushTimedOut_RespectsTimeout(t *testing.T) {
	flusher := newRecordingFlusher()
	p := New(Config{EntityBatchSize: 100, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: 10 * time.Millisecond, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	p.Stage(context.Background(), Item{ID: "e1", Kind: KindEntity, Content: "a"})

	r, err := p.FlushTimedOut(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r, "batch younger than the timeout must not flush")

	time.Sleep(15 * time.Millisecond)
	r, err = p.FlushTimedOut(context.Background())
	require.NoError(t, err)
	require.Len(t, r, 1)
}

func TestProcessor_FlushTimedOut_NoOpWhenEmpty(t *testing.T) {
	flusher := newRecordingFlusher()
	p := New(DefaultConfig(), flusher)

	r, err := p.FlushTimedOut(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestProcessor_DependencyOrderRespected(t *testing.T) {
	flusher := newRecordingFlusher()
	p := New(Config{EntityBatchSize: 1, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 1, IdempotencyTTL: time.Minute}, flusher)

	p.Stage(context.Background(), Item{ID: "embed1", Kind: KindEmbedding, DependsOn: []string{"e1"}, Content: "x"})
	p.Stage(context.Background(), Item{ID: "rel1", Kind: KindRelationship, DependsOn: []string{"e1", "e2"}, Content: "y"})
	results, err := p.Stage(context.Background(), Item{ID: "e1", Kind: KindEntity, Content: "z"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	posOf := func(id string) int {
		for i, x := range flusher.order {
			if x == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, posOf("e1"), posOf("embed1"), "embedding must flush after its entity")
}

func TestProcessor_IdempotentReplayUsesCache(t *testing.T) {
	flusher := newRecordingFlusher()
	p := New(Config{EntityBatchSize: 1, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	item := Item{ID: "e1", Kind: KindEntity, Content: "same-content"}
	r1, err := p.Stage(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, r1, 1)

	r2, err := p.flushBatch(context.Background(), []Item{item})
	require.NoError(t, err)
	require.Len(t, r2, 1)

	assert.Len(t, flusher.flushed, 1, "the second identical batch must be served from the idempotency cache, not re-flushed")
}

func TestProcessor_FlushErrorsPropagatePerItem(t *testing.T) {
	flusher := newRecordingFlusher()
	flusher.fail["e1"] = errors.New("write failed")
	p := New(Config{EntityBatchSize: 1, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	results, err := p.Stage(context.Background(), Item{ID: "e1", Kind: KindEntity, Content: "a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestFingerprintOf_OrderIndependent(t *testing.T) {
	a := fingerprintOf([]Item{{ID: "x", Content: "1"}, {ID: "y", Content: "2"}})
	b := fingerprintOf([]Item{{ID: "y", Content: "2"}, {ID: "x", Content: "1"}})
	assert.Equal(t, a, b)
}

func TestFingerprintOf_ContentChangeAltersFingerprint(t *testing.T) {
	a := fingerprintOf([]Item{{ID: "x", Content: "1"}})
	b := fingerprintOf([]Item{{ID: "x", Content: "2"}})
	assert.NotEqual(t, a, b)
}

func TestLayerize_GroupsByDependencyDepth(t *testing.T) {
	ordered := []graph.Node{
		node{item: Item{ID: "a"}},
		node{item: Item{ID: "b", DependsOn: []string{"a"}}},
		node{item: Item{ID: "c", DependsOn: []string{"b"}}},
	}

	layers := layerize(ordered)
	require.Len(t, layers, 3)
	assert.Equal(t, "a", layers[0][0].NodeID())
	assert.Equal(t, "b", layers[1][0].NodeID())
	assert.Equal(t, "c", layers[2][0].NodeID())
}

type recordingBatchFlusher struct {
	mu     sync.Mutex
	groups [][]string
	fail   map[Kind]error
}

func newRecordingBatchFlusher() *recordingBatchFlusher {
	return &recordingBatchFlusher{fail: make(map[Kind]error)}
}

func (f *recordingBatchFlusher) Flush(ctx context.Context, item Item) error {
	panic("Flush should not be called when FlushBatch is available")
}

func (f *recordingBatchFlusher) FlushBatch(ctx context.Context, items []Item) []Result {
	f.mu.Lock()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	f.groups = append(f.groups, ids)
	f.mu.Unlock()

	err := f.fail[items[0].Kind]
	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{ItemID: item.ID, Err: err}
	}
	return results
}

func TestProcessor_PrefersBatchFlusherOverPerItemFlush(t *testing.T) {
	flusher := newRecordingBatchFlusher()
	p := New(Config{EntityBatchSize: 3, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	p.Stage(context.Background(), Item{ID: "e1", Kind: KindEntity, Content: "a"})
	p.Stage(context.Background(), Item{ID: "e2", Kind: KindEntity, Content: "b"})
	results, err := p.Stage(context.Background(), Item{ID: "e3", Kind: KindEntity, Content: "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	require.Len(t, flusher.groups, 1, "same-kind items in one layer must flush through a single FlushBatch call")
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, flusher.groups[0])
}

func TestProcessor_BatchFlusherGroupsByKindWithinALayer(t *testing.T) {
	flusher := newRecordingBatchFlusher()
	p := New(Config{EntityBatchSize: 100, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	results, err := p.flushBatch(context.Background(), []Item{
		{ID: "e1", Kind: KindEntity, Content: "a"},
		{ID: "r1", Kind: KindRelationship, Content: "b"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, flusher.groups, 2, "distinct kinds in the same layer must flush as separate groups")
}

func TestProcessor_BatchFlusherErrorPropagatesToEveryItemInGroup(t *testing.T) {
	flusher := newRecordingBatchFlusher()
	flusher.fail[KindEntity] = errors.New("bulk write failed")
	p := New(Config{EntityBatchSize: 2, RelationshipBatchSize: 100, EmbeddingBatchSize: 100, Timeout: time.Hour, MaxConcurrentBatches: 4, IdempotencyTTL: time.Minute}, flusher)

	p.Stage(context.Background(), Item{ID: "e1", Kind: KindEntity, Content: "a"})
	results, err := p.Stage(context.Background(), Item{ID: "e2", Kind: KindEntity, Content: "b"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Error(t, r.Err, "a failed bulk write must fail every item in the group, not silently drop some")
	}
}

func TestLayerize_IndependentItemsShareALayer(t *testing.T) {
	ordered := []graph.Node{
		node{item: Item{ID: "a"}},
		node{item: Item{ID: "b"}},
	}

	layers := layerize(ordered)
	require.Len(t, layers, 1)
	assert.Len(t, layers[0], 2)
}
