package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/namespace"
	"codegraphix.dev/engine/telemetry"
)

// Store implements entity CRUD, bulk upsert, and type-indexed listing over
// the property graph, per the contracts EntityStore (C3) names: create,
// update, get, delete, list, bulkCreate, stats.
type Store struct {
	graph *graphstore.Store
	scope *namespace.Scope
	bus   *telemetry.Bus
}

// New binds an entity store to its graph store, namespace scope, and event
// bus (bus may be nil in tests that don't care about emitted events).
func New(graph *graphstore.Store, scope *namespace.Scope, bus *telemetry.Bus) *Store {
	return &Store{graph: graph, scope: scope, bus: bus}
}

// Create persists a new entity: assigns Created/LastModified if absent,
// applies the namespace prefix to ID, attaches the Type-derived label, and
// emits an entity:created event.
func (s *Store) Create(ctx context.Context, e Entity) (Entity, error) {
	if !IsValidType(e.Type) {
		return Entity{}, cgerrors.New(cgerrors.CodeValidation, fmt.Sprintf("unknown entity type %q", e.Type))
	}
	now := time.Now().UTC()
	if e.Created.IsZero() {
		e.Created = now
	}
	if e.LastModified.IsZero() {
		e.LastModified = now
	}
	e.ID = s.scope.RequireEntityID(e.ID)

	params, err := toParams(e)
	if err != nil {
		return Entity{}, cgerrors.Wrap(cgerrors.CodeValidation, "failed to serialize entity properties", err)
	}

	label := labelFor(e.Type)
	_, err = s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: fmt.Sprintf(`CREATE (e:Entity:%s) SET e = $props`, label),
		Params: map[string]interface{}{"props": params},
	})
	if err != nil {
		return Entity{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to create entity", err)
	}

	s.emit("entity:created", e.ID, e.Type)
	return e, nil
}

// Update merges a Patch's non-nil fields onto the stored entity, bumping
// LastModified. Fails CodeNotFound if the entity doesn't exist. ID changes
// are never accepted, even if a caller smuggles one into Properties.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Entity, error) {
	id = s.scope.RequireEntityID(id)

	existing, err := s.Get(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	if existing == nil {
		return Entity{}, cgerrors.New(cgerrors.CodeNotFound, fmt.Sprintf("entity %s not found", id))
	}

	merged := *existing
	if patch.Path != nil {
		merged.Path = *patch.Path
	}
	if patch.Language != nil {
		merged.Language = *patch.Language
	}
	if patch.Hash != nil {
		merged.Hash = *patch.Hash
	}
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Signature != nil {
		merged.Signature = *patch.Signature
	}
	if patch.Docstring != nil {
		merged.Docstring = *patch.Docstring
	}
	if patch.Content != nil {
		merged.Content = *patch.Content
	}
	if patch.Properties != nil {
		if merged.Properties == nil {
			merged.Properties = make(map[string]Value, len(patch.Properties))
		}
		for k, v := range patch.Properties {
			if k == "id" {
				continue
			}
			merged.Properties[k] = v
		}
	}
	merged.LastModified = time.Now().UTC()

	params, err := toParams(merged)
	if err != nil {
		return Entity{}, cgerrors.Wrap(cgerrors.CodeValidation, "failed to serialize entity properties", err)
	}

	_, err = s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity {id: $id}) SET e += $props`,
		Params: map[string]interface{}{"id": id, "props": params},
	})
	if err != nil {
		return Entity{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to update entity", err)
	}

	s.emit("entity:updated", id, merged.Type)
	return merged, nil
}

// Get fetches an entity by id, returning (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (*Entity, error) {
	id = s.scope.RequireEntityID(id)
	rows, err := s.graph.Run(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity {id: $id}) RETURN e`,
		Params: map[string]interface{}{"id": id},
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to get entity", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e, err := fromRecord(rows[0])
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeValidation, "failed to deserialize entity", err)
	}
	return &e, nil
}

// Delete removes an entity and detaches every incident relationship.
func (s *Store) Delete(ctx context.Context, id string) error {
	id = s.scope.RequireEntityID(id)
	_, err := s.graph.RunWrite(ctx, graphstore.Query{
		Cypher: `MATCH (e:Entity {id: $id}) DETACH DELETE e`,
		Params: map[string]interface{}{"id": id},
	})
	if err != nil {
		return cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to delete entity", err)
	}
	s.emit("entity:deleted", id, "")
	return nil
}

// List returns a page of entities matching filter, with Total computed in
// the same logical transaction as Items.
func (s *Store) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	where := "1=1"
	params := map[string]interface{}{}
	if filter.Type != "" {
		where += " AND e.type = $type"
		params["type"] = string(filter.Type)
	}
	if filter.PathPrefix != "" {
		where += " AND e.path STARTS WITH $pathPrefix"
		params["pathPrefix"] = filter.PathPrefix
	}
	if filter.NameContains != "" {
		where += " AND e.name CONTAINS $nameContains"
		params["nameContains"] = filter.NameContains
	}

	orderBy := "e.id"
	if filter.OrderBy != "" {
		orderBy = "e." + filter.OrderBy
	}
	orderDir := "ASC"
	if filter.OrderDir == "DESC" {
		orderDir = "DESC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	params["limit"] = int64(limit)
	params["offset"] = int64(filter.Offset)

	rows, err := s.graph.RunTx(ctx, []graphstore.Query{
		{
			Cypher: fmt.Sprintf(`MATCH (e:Entity) WHERE %s RETURN e ORDER BY %s %s SKIP $offset LIMIT $limit`, where, orderBy, orderDir),
			Params: params,
		},
		{
			Cypher: fmt.Sprintf(`MATCH (e:Entity) WHERE %s RETURN count(e) AS total`, where),
			Params: params,
		},
	})
	if err != nil {
		return ListResult{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to list entities", err)
	}

	items := make([]Entity, 0, len(rows[0]))
	for _, r := range rows[0] {
		e, err := fromRecord(r)
		if err != nil {
			return ListResult{}, cgerrors.Wrap(cgerrors.CodeValidation, "failed to deserialize entity", err)
		}
		items = append(items, e)
	}

	var total int64
	if len(rows) > 1 && len(rows[1]) > 0 {
		total, _ = rows[1][0].Properties["total"].(int64)
	}

	return ListResult{Items: items, Total: total}, nil
}

// BulkCreate writes entities in a single UNWIND transaction. Any failure
// rolls the whole batch back and reports {0, 0, len(entities)} — never a
// partial count.
func (s *Store) BulkCreate(ctx context.Context, entities []Entity, opts BulkOptions) (BulkResult, error) {
	if len(entities) == 0 {
		return BulkResult{}, nil
	}

	now := time.Now().UTC()
	rows := make([]map[string]interface{}, 0, len(entities))
	for _, e := range entities {
		if !IsValidType(e.Type) {
			return BulkResult{Failed: len(entities)}, cgerrors.New(cgerrors.CodeValidation, fmt.Sprintf("unknown entity type %q", e.Type))
		}
		if e.Created.IsZero() {
			e.Created = now
		}
		if e.LastModified.IsZero() {
			e.LastModified = now
		}
		e.ID = s.scope.RequireEntityID(e.ID)
		params, err := toParams(e)
		if err != nil {
			return BulkResult{Failed: len(entities)}, cgerrors.Wrap(cgerrors.CodeValidation, "failed to serialize entity properties", err)
		}
		rows = append(rows, params)
	}

	cypher := `UNWIND $rows AS row
MERGE (e:Entity {id: row.id})
ON CREATE SET e += row, created = true
ON MATCH SET e += row, created = false`
	if opts.SkipExisting && !opts.UpdateExisting {
		cypher = `UNWIND $rows AS row
MERGE (e:Entity {id: row.id})
ON CREATE SET e += row, created = true
ON MATCH SET created = false`
	}
	cypher += `
RETURN created`

	result, err := s.graph.RunWrite(ctx, graphstore.Query{Cypher: cypher, Params: map[string]interface{}{"rows": rows}})
	if err != nil {
		return BulkResult{Failed: len(entities)}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "bulk create failed", err)
	}

	var out BulkResult
	for _, r := range result {
		if created, _ := r.Properties["created"].(bool); created {
			out.Created++
		} else {
			out.Updated++
		}
	}
	return out, nil
}

// Stats summarizes the entity population: total count, per-type breakdown,
// and count modified within the last 7 days.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.graph.RunTx(ctx, []graphstore.Query{
		{Cypher: `MATCH (e:Entity) RETURN count(e) AS total`},
		{Cypher: `MATCH (e:Entity) RETURN e.type AS type, count(e) AS count`},
		{
			Cypher: `MATCH (e:Entity) WHERE e.lastModified >= $since RETURN count(e) AS recent`,
			Params: map[string]interface{}{"since": time.Now().UTC().Add(-7 * 24 * time.Hour).Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return Stats{}, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to compute entity stats", err)
	}

	var st Stats
	st.ByType = make(map[Type]int64)
	if len(rows[0]) > 0 {
		st.Total, _ = rows[0][0].Properties["total"].(int64)
	}
	for _, r := range rows[1] {
		t, _ := r.Properties["type"].(string)
		c, _ := r.Properties["count"].(int64)
		st.ByType[Type(t)] = c
	}
	if len(rows[2]) > 0 {
		st.RecentlyModified, _ = rows[2][0].Properties["recent"].(int64)
	}
	return st, nil
}

func (s *Store) emit(message, entityID string, t Type) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(telemetry.Event{
		Component: "entitystore",
		Level:     telemetry.LevelInfo,
		Message:   message,
		Data:      map[string]interface{}{"entityId": entityID, "type": string(t)},
	})
}

func labelFor(t Type) string {
	if len(t) == 0 {
		return "Unknown"
	}
	b := []byte(t)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// toParams flattens an Entity into the map RunWrite/RunTx sends as Cypher
// parameters: named fields pass through, Properties values marshal through
// Value.Marshal, and timestamps format as RFC3339Nano UTC.
func toParams(e Entity) (map[string]interface{}, error) {
	params := map[string]interface{}{
		"id":           e.ID,
		"type":         string(e.Type),
		"created":      e.Created.UTC().Format(time.RFC3339Nano),
		"lastModified": e.LastModified.UTC().Format(time.RFC3339Nano),
	}
	if e.Path != "" {
		params["path"] = e.Path
	}
	if e.Language != "" {
		params["language"] = e.Language
	}
	if e.Hash != "" {
		params["hash"] = e.Hash
	}
	if e.Name != "" {
		params["name"] = e.Name
	}
	if e.Signature != "" {
		params["signature"] = e.Signature
	}
	if e.Docstring != "" {
		params["docstring"] = e.Docstring
	}
	if e.Content != "" {
		params["content"] = e.Content
	}
	for k, v := range e.Properties {
		marshaled, err := v.Marshal()
		if err != nil {
			return nil, err
		}
		params[k] = marshaled
	}
	return params, nil
}

var namedFields = map[string]bool{
	"id": true, "type": true, "created": true, "lastModified": true,
	"path": true, "language": true, "hash": true, "name": true,
	"signature": true, "docstring": true, "content": true,
}

// fromRecord reconstructs an Entity from a graphstore.Record, folding any
// property outside the named field set into Properties: scalar values stay
// scalar Values, other values become nested JSON Values.
func fromRecord(r graphstore.Record) (Entity, error) {
	e := Entity{Properties: make(map[string]Value)}
	for k, v := range r.Properties {
		switch k {
		case "id":
			e.ID, _ = v.(string)
		case "type":
			s, _ := v.(string)
			e.Type = Type(s)
		case "created":
			e.Created = parseTime(v)
		case "lastModified":
			e.LastModified = parseTime(v)
		case "path":
			e.Path, _ = v.(string)
		case "language":
			e.Language, _ = v.(string)
		case "hash":
			e.Hash, _ = v.(string)
		case "name":
			e.Name, _ = v.(string)
		case "signature":
			e.Signature, _ = v.(string)
		case "docstring":
			e.Docstring, _ = v.(string)
		case "content":
			e.Content, _ = v.(string)
		default:
			e.Properties[k] = valueFromRaw(v)
		}
	}
	return e, nil
}

func parseTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func valueFromRaw(v interface{}) Value {
	switch val := v.(type) {
	case string:
		return String(val)
	case int64:
		return Int(val)
	case float64:
		return Float(val)
	case bool:
		return Bool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return Value{}
		}
		return NestedJSON(raw)
	}
}
