package ingest

import (
	"context"
	"fmt"
	"time"

	"codegraphix.dev/engine/entitystore"
	"codegraphix.dev/engine/history"
	"codegraphix.dev/engine/ingest/batch"
	"codegraphix.dev/engine/ingest/queue"
	"codegraphix.dev/engine/relstore"
	"codegraphix.dev/engine/telemetry"
	"codegraphix.dev/engine/vectorstore"
)

// parserProcessor is the ParserWorkers stage: it runs the caller-supplied
// Parser over a Change and fans the resulting drafts out to the entity and
// relationship queues. Parse errors are non-fatal per the base spec: the
// file is dropped from this pass and an error event is emitted.
type parserProcessor struct{ p *Pipeline }

func (pp *parserProcessor) Process(ctx context.Context, item queue.Item) error {
	change, ok := item.Payload.(Change)
	if !ok {
		return nil
	}

	result, err := pp.p.parser.Parse(ctx, change)
	if err != nil {
		pp.p.emit(telemetry.LevelError, "parse failed, dropping file for this pass", map[string]interface{}{"path": change.Path, "error": err.Error()})
		return nil
	}

	for _, entity := range result.Entities {
		fp := entity.ID
		if fp == "" {
			fp = change.Fingerprint
		}
		_ = pp.p.entityQueue.Enqueue(ctx, queue.Item{Fingerprint: fp, Kind: "entity", Payload: entity})
	}
	for _, draft := range result.Relationships {
		_ = pp.p.relQueue.Enqueue(ctx, queue.Item{Fingerprint: draft.Relationship.FromEntityID, Kind: "relationship", Payload: draft})
	}
	return nil
}

// entityProcessor is the EntityWorkers stage: validate/normalize then
// stage the entity for batch flush, and fan out to the embedding queue
// unless embeddings are disabled.
type entityProcessor struct{ p *Pipeline }

func (ep *entityProcessor) Process(ctx context.Context, item queue.Item) error {
	entity, ok := item.Payload.(entitystore.Entity)
	if !ok {
		return nil
	}

	if _, err := ep.p.batchProc.Stage(ctx, batch.Item{
		ID:      entity.ID,
		Kind:    batch.KindEntity,
		Payload: entity,
		Content: entity.Hash,
	}); err != nil {
		ep.p.emit(telemetry.LevelError, "entity batch stage failed", map[string]interface{}{"entityId": entity.ID, "error": err.Error()})
	}

	if !ep.p.cfg.SkipEmbeddings && ep.p.embed != nil && entity.Content != "" {
		_ = ep.p.embedQueue.Enqueue(ctx, queue.Item{Fingerprint: entity.ID, Kind: "embedding", Payload: entity})
	}
	return nil
}

// relationshipProcessor is the RelationshipWorkers stage: compute the
// canonical id from the (possibly pre-resolution) target reference and
// stage the edge for batch flush, depending on both endpoint entities.
type relationshipProcessor struct{ p *Pipeline }

func (rp *relationshipProcessor) Process(ctx context.Context, item queue.Item) error {
	draft, ok := item.Payload.(RelationshipDraft)
	if !ok {
		return nil
	}

	id := draft.Relationship.ID
	if id == "" {
		id = relstore.CanonicalID(draft.Relationship.FromEntityID, draft.Relationship.Type, draft.Relationship.ToEntityID, draft.Ref)
		draft.Relationship.ID = id
	}

	dependsOn := []string{draft.Relationship.FromEntityID}
	if draft.Relationship.ToEntityID != "" {
		dependsOn = append(dependsOn, draft.Relationship.ToEntityID)
	}

	if _, err := rp.p.batchProc.Stage(ctx, batch.Item{
		ID:        id,
		Kind:      batch.KindRelationship,
		DependsOn: dependsOn,
		Payload:   draft,
		Content:   fmt.Sprintf("%s|%d", id, len(draft.Relationship.Evidence)),
	}); err != nil {
		rp.p.emit(telemetry.LevelError, "relationship batch stage failed", map[string]interface{}{"id": id, "error": err.Error()})
	}
	return nil
}

// embeddingProcessor is the EmbeddingWorkers stage: call the external
// embed function and stage the resulting vector for batch flush,
// depending on its entity.
type embeddingProcessor struct{ p *Pipeline }

func (ep *embeddingProcessor) Process(ctx context.Context, item queue.Item) error {
	entity, ok := item.Payload.(entitystore.Entity)
	if !ok {
		return nil
	}

	vec, err := ep.p.embed(ctx, entity)
	if err != nil {
		ep.p.emit(telemetry.LevelWarn, "embedding unavailable, continuing without semantic features", map[string]interface{}{"entityId": entity.ID, "error": err.Error()})
		return nil
	}

	kind := "code"
	if entity.Type == entitystore.TypeDocumentation {
		kind = "documentation"
	}
	emb := vectorstore.Embedding{EntityID: entity.ID, Vector: vec, Kind: kind}

	if _, err := ep.p.batchProc.Stage(ctx, batch.Item{
		ID:        "embedding:" + entity.ID,
		Kind:      batch.KindEmbedding,
		DependsOn: []string{entity.ID},
		Payload:   emb,
	}); err != nil {
		ep.p.emit(telemetry.LevelError, "embedding batch stage failed", map[string]interface{}{"entityId": entity.ID, "error": err.Error()})
	}
	return nil
}

// storeFlusher implements batch.Flusher: it writes each flushed item to
// its downstream store behind a per-store circuit breaker, retrying
// transient failures with exponential backoff up to a per-item budget
// (default 3) before quarantining the item.
type storeFlusher struct {
	p     *Pipeline
	budget int
}

const defaultRetryBudget = 3

func (f *storeFlusher) Flush(ctx context.Context, item batch.Item) error {
	budget := f.budget
	if budget <= 0 {
		budget = defaultRetryBudget
	}

	f.p.tracker.Start(item.ID)

	var lastErr error
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(100*time.Millisecond, 3*time.Second, attempt))
		}

		breaker := f.breakerFor(item.Kind)
		if err := breaker.Allow(); err != nil {
			lastErr = err
			continue
		}

		err := f.write(ctx, item)
		breaker.Report(err == nil)
		if err == nil {
			f.p.tracker.Complete(item.ID)
			return nil
		}
		lastErr = err
	}

	// The loop above has already spent the retry budget, so the item is
	// quarantined on this first exhaustion.
	if !f.p.tracker.RetryAndCheck(item.ID, 0, lastErr) {
		f.p.quarantine.Add(string(item.Kind), queue.Item{Fingerprint: item.ID, Kind: string(item.Kind), Payload: item.Payload}, lastErr.Error())
	}
	return lastErr
}

// backoffDelay mirrors worker.backoffDelay's exponential-backoff shape for
// per-item store-write retries (base 100ms, cap 3s).
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if delay > cap || delay <= 0 {
		delay = cap
	}
	return delay
}

func (f *storeFlusher) breakerFor(kind batch.Kind) *CircuitBreaker {
	switch kind {
	case batch.KindRelationship:
		return f.p.relCircuit
	case batch.KindEmbedding:
		return f.p.vectorCircuit
	default:
		return f.p.entityCircuit
	}
}

func (f *storeFlusher) write(ctx context.Context, item batch.Item) error {
	switch item.Kind {
	case batch.KindEntity:
		entity, ok := item.Payload.(entitystore.Entity)
		if !ok {
			return nil
		}
		created, err := f.p.entities.Create(ctx, entity)
		if err != nil {
			return err
		}
		if f.p.hist != nil {
			_, _ = f.p.hist.AppendVersion(ctx, created.ID, created.Hash, history.AppendVersionOptions{})
		}
		return nil

	case batch.KindRelationship:
		draft, ok := item.Payload.(RelationshipDraft)
		if !ok {
			return nil
		}
		upserted, err := f.p.rels.Upsert(ctx, draft.Relationship, draft.Ref)
		if err != nil {
			return err
		}
		if f.p.hist != nil {
			_ = f.p.hist.OpenEdge(ctx, upserted.ID, time.Now())
		}
		return nil

	case batch.KindEmbedding:
		emb, ok := item.Payload.(vectorstore.Embedding)
		if !ok {
			return nil
		}
		return f.p.vectors.Upsert(ctx, []vectorstore.Embedding{emb})

	default:
		return nil
	}
}

// FlushBatch implements batch.BatchFlusher: a same-kind layer group is
// routed through its store's bulk upsert path in one call rather than one
// write per item. Embedding groups fall back to the per-item Flush path,
// one vectors.Upsert call per embedding.
func (f *storeFlusher) FlushBatch(ctx context.Context, items []batch.Item) []batch.Result {
	if len(items) == 0 {
		return nil
	}

	switch items[0].Kind {
	case batch.KindEntity:
		return f.flushEntitiesBulk(ctx, items)
	case batch.KindRelationship:
		return f.flushRelationshipsBulk(ctx, items)
	default:
		results := make([]batch.Result, len(items))
		for i, item := range items {
			results[i] = batch.Result{ItemID: item.ID, Err: f.Flush(ctx, item)}
		}
		return results
	}
}

// failAll marks every item in a failed bulk group for quarantine. A bulk
// write is all-or-nothing, so unlike Flush's per-item retry loop there is
// no partial result to retry against; the whole group is retried only on
// the next upstream redelivery.
func (f *storeFlusher) failAll(items []batch.Item, err error) []batch.Result {
	results := make([]batch.Result, len(items))
	for i, item := range items {
		if !f.p.tracker.RetryAndCheck(item.ID, 0, err) {
			f.p.quarantine.Add(string(item.Kind), queue.Item{Fingerprint: item.ID, Kind: string(item.Kind), Payload: item.Payload}, err.Error())
		}
		results[i] = batch.Result{ItemID: item.ID, Err: err}
	}
	return results
}

func (f *storeFlusher) flushEntitiesBulk(ctx context.Context, items []batch.Item) []batch.Result {
	for _, item := range items {
		f.p.tracker.Start(item.ID)
	}

	entities := make([]entitystore.Entity, 0, len(items))
	for _, item := range items {
		e, ok := item.Payload.(entitystore.Entity)
		if !ok {
			continue
		}
		entities = append(entities, e)
	}

	breaker := f.breakerFor(batch.KindEntity)
	if err := breaker.Allow(); err != nil {
		return f.failAll(items, err)
	}

	_, err := f.p.entities.BulkCreate(ctx, entities, entitystore.BulkOptions{})
	breaker.Report(err == nil)
	if err != nil {
		return f.failAll(items, err)
	}

	if f.p.hist != nil {
		for _, e := range entities {
			_, _ = f.p.hist.AppendVersion(ctx, e.ID, e.Hash, history.AppendVersionOptions{})
		}
	}

	results := make([]batch.Result, len(items))
	for i, item := range items {
		f.p.tracker.Complete(item.ID)
		results[i] = batch.Result{ItemID: item.ID}
	}
	return results
}

func (f *storeFlusher) flushRelationshipsBulk(ctx context.Context, items []batch.Item) []batch.Result {
	for _, item := range items {
		f.p.tracker.Start(item.ID)
	}

	updates := make([]relstore.Relationship, 0, len(items))
	refs := make([]relstore.TargetRef, 0, len(items))
	for _, item := range items {
		draft, ok := item.Payload.(RelationshipDraft)
		if !ok {
			continue
		}
		updates = append(updates, draft.Relationship)
		refs = append(refs, draft.Ref)
	}

	breaker := f.breakerFor(batch.KindRelationship)
	if err := breaker.Allow(); err != nil {
		return f.failAll(items, err)
	}

	upserted, err := f.p.rels.UpsertEvidenceBulk(ctx, updates, refs)
	breaker.Report(err == nil)
	if err != nil {
		return f.failAll(items, err)
	}

	if f.p.hist != nil {
		now := time.Now()
		for _, rel := range upserted {
			_ = f.p.hist.OpenEdge(ctx, rel.ID, now)
		}
	}

	results := make([]batch.Result, len(items))
	for i, item := range items {
		f.p.tracker.Complete(item.ID)
		results[i] = batch.Result{ItemID: item.ID}
	}
	return results
}
