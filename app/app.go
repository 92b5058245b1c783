// Package app assembles every store and engine into the single facade the
// command-line entry point drives: one constructor resolves configuration
// into live connections, and each method maps one cobra command onto the
// underlying component calls.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"codegraphix.dev/engine/analysis"
	"codegraphix.dev/engine/backup"
	backupstorage "codegraphix.dev/engine/backup/storage"
	"codegraphix.dev/engine/common"
	"codegraphix.dev/engine/config"
	"codegraphix.dev/engine/db"
	"codegraphix.dev/engine/entitystore"
	"codegraphix.dev/engine/graphstore"
	"codegraphix.dev/engine/history"
	"codegraphix.dev/engine/ingest"
	"codegraphix.dev/engine/namespace"
	"codegraphix.dev/engine/relstore"
	"codegraphix.dev/engine/search"
	"codegraphix.dev/engine/telemetry"
	"codegraphix.dev/engine/vectorstore"
)

// App bundles every component the CLI drives, plus what Close needs to
// release cleanly.
type App struct {
	cfg    config.Config
	logger *common.ContextLogger

	graph         *graphstore.Store
	scope         *namespace.Scope
	entities      *entitystore.Store
	relationships *relstore.Store
	vectors       *vectorstore.Store
	history       *history.Engine
	search        *search.Engine
	analysis      *analysis.Engine
	backup        *backup.Coordinator

	bus           *telemetry.Bus
	healthRegistry *telemetry.Registry
	telemetrySrv  *telemetry.Server

	pipeline *ingest.Pipeline
	source   *artifactSource

	pgMetadata  *db.PostgresDB
	tokenStore  *backup.TokenStore
}

// New resolves cfg into live connections: the graph driver, every store
// layered over it, the backup coordinator's storage providers and metadata
// store, and a persistent single-shot ingestion pipeline. Connectivity is
// verified eagerly (graphstore.Open) so a misconfigured engine fails at
// startup rather than on first command.
func New(ctx context.Context, cfg config.Config, logger *common.ContextLogger) (*App, error) {
	promReg := prometheus.NewRegistry()
	bus := telemetry.NewBus(promReg)
	healthRegistry := telemetry.NewRegistry()

	graphCfg := graphstore.DefaultConfig()
	graphCfg.URI, graphCfg.Username, graphCfg.Password, graphCfg.Database =
		cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database
	graph, err := graphstore.Open(ctx, graphCfg, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	healthRegistry.Register("graph", probeHealthChecker{name: "graph", probe: func(ctx context.Context) error {
		_, err := graph.Stats(ctx)
		return err
	}})

	if err := graph.EnsureIndexes(ctx); err != nil {
		_ = graph.Close(ctx)
		return nil, fmt.Errorf("failed to ensure graph indexes: %w", err)
	}

	scope := namespace.New(namespace.Config{
		EntityPrefix: fmt.Sprintf("%s:%s:", cfg.Namespace.DefaultTenant, cfg.Namespace.DefaultProject),
	})

	entities := entitystore.New(graph, scope, bus)
	relationships := relstore.New(graph, scope, bus)
	vectors := vectorstore.New(graph, scope, vectorstore.Config{Dimensions: cfg.Vector.Dimensions, SimilarityFloor: cfg.Vector.SimilarityFloor})
	historyEngine := history.New(graph, scope, history.Config{Enabled: cfg.History.Enabled})

	embed := textEmbedFunc(cfg.Vector.Dimensions)
	searchEngine := search.New(graph, vectors, scope, embed, search.Config{CacheSize: cfg.Search.CacheSize, CacheTTL: cfg.Search.CacheTTL})
	analysisEngine := analysis.New(graph, scope)

	backupCoordinator, tokenStore, pgMetadata, err := buildBackup(ctx, cfg, bus, healthRegistry, entities, relationships, vectors, graph)
	if err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}

	source := newArtifactSource()
	pipeline := ingest.New(ingest.DefaultConfig(), bus, source, artifactParser{}, entityEmbedFunc(cfg.Vector.Dimensions),
		entities, relationships, vectors, historyEngine)
	pipeline.Start(ctx)

	telemetryCfg := telemetry.DefaultServerConfig()
	if cfg.Telemetry.MetricsAddr != "" {
		telemetryCfg.Addr = cfg.Telemetry.MetricsAddr
	}
	telemetrySrv := telemetry.NewServer(telemetryCfg, cfg.Service.Name, cfg.Service.Version, healthRegistry)
	if err := telemetrySrv.Start(); err != nil {
		logger.Warn("telemetry server failed to start: " + err.Error())
	}

	return &App{
		cfg: cfg, logger: logger,
		graph: graph, scope: scope, entities: entities, relationships: relationships, vectors: vectors,
		history: historyEngine, search: searchEngine, analysis: analysisEngine, backup: backupCoordinator,
		bus: bus, healthRegistry: healthRegistry, telemetrySrv: telemetrySrv,
		pipeline: pipeline, source: source, pgMetadata: pgMetadata, tokenStore: tokenStore,
	}, nil
}

// buildBackup wires the storage registry, metadata store, and token store
// from cfg.Backup, returning the assembled Coordinator.
func buildBackup(ctx context.Context, cfg config.Config, bus *telemetry.Bus, healthRegistry *telemetry.Registry,
	entities *entitystore.Store, relationships *relstore.Store, vectors *vectorstore.Store, graph *graphstore.Store) (*backup.Coordinator, *backup.TokenStore, *db.PostgresDB, error) {

	localPath := cfg.Backup.LocalPath
	if localPath == "" {
		localPath = "./backups"
	}
	local, err := backupstorage.NewLocalProvider(localPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize local backup provider: %w", err)
	}

	var registry *backupstorage.Registry
	var defaultProvider backupstorage.Provider = local

	if cfg.Backup.Provider == "s3" {
		s3, err := backupstorage.NewS3Provider(ctx, backupstorage.S3Config{Bucket: cfg.Backup.Bucket})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize s3 backup provider: %w", err)
		}
		registry = backupstorage.NewRegistry(s3)
		registry.Register(local)
		defaultProvider = s3
	} else {
		registry = backupstorage.NewRegistry(local)
	}
	healthRegistry.Register("backup_storage", probeHealthChecker{name: "backup_storage", probe: defaultProvider.EnsureReady})

	var metadataStore backup.MetadataStore
	var pg *db.PostgresDB
	if cfg.Backup.MetadataDSN != "" {
		pg, err = db.NewPostgresDB(cfg.Backup.MetadataDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect backup metadata store: %w", err)
		}
		metadataStore = backup.NewPostgresMetadataStore(pg)
	} else {
		metadataStore = backup.NewFileMetadataStore(defaultProvider)
	}

	tokenPath := cfg.Backup.RestoreTokenPath
	if tokenPath == "" {
		tokenPath = "./backups/restore-tokens.db"
	}
	tokens, err := backup.NewTokenStore(tokenPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open restore token store: %w", err)
	}

	coordinator := backup.New(backup.Deps{
		Providers: registry, Metadata: metadataStore, Tokens: tokens,
		Entities: entities, Relationships: relationships, Vectors: vectors, Graph: graph,
		Bus: bus, Config: cfg, TokenTTL: cfg.Backup.ApprovalTokenTTL, RequireSecondApproval: cfg.Backup.ApprovalRequired,
	})
	return coordinator, tokens, pg, nil
}

// Close releases every held connection: the telemetry listener, the
// ingestion pipeline, the restore-token store, the optional Postgres pool,
// and the graph driver.
func (a *App) Close() error {
	if a.telemetrySrv != nil {
		_ = a.telemetrySrv.Shutdown(context.Background())
	}
	if a.pipeline != nil {
		a.pipeline.Stop()
	}
	if a.tokenStore != nil {
		_ = a.tokenStore.Close()
	}
	if a.pgMetadata != nil {
		a.pgMetadata.Close()
	}
	return a.graph.Close(context.Background())
}

// ingestDrainTimeout bounds how long Ingest waits for its one artifact to
// drain through every pipeline stage before giving up.
const ingestDrainTimeout = 30 * time.Second

// ingestBatchSettle gives the batch-timeout ticker one full cycle (the 5s
// batch timeout of ingest.DefaultConfig) to flush whatever accumulated
// below its size threshold, after the queues report empty.
const ingestBatchSettle = 5 * time.Second

// Ingest reads path as a JSON extraction artifact (entities and
// relationships already identified by an external AST extractor) and
// drives it through the ingestion pipeline to completion.
func (a *App) Ingest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read extraction artifact %s: %w", path, err)
	}

	a.source.push(ingest.Change{Path: path, Content: data, Fingerprint: path})

	deadline := time.Now().Add(ingestDrainTimeout)
	for a.pipeline.QueueDepth(ctx) > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("ingestion did not drain within %s", ingestDrainTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	time.Sleep(ingestBatchSettle)

	if n := a.pipeline.Quarantine().Len(); n > 0 {
		return fmt.Errorf("ingestion completed with %d quarantined item(s)", n)
	}
	return nil
}

// Search runs the search engine over query, letting it pick the strategy
// from the query text (structural for path-like text, hybrid otherwise),
// and returns one "entityId<TAB>score" line per hit in rank order.
func (a *App) Search(ctx context.Context, query string) ([]string, error) {
	results, err := a.search.Search(ctx, search.Query{Text: query})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, fmt.Sprintf("%s\t%.4f", r.EntityID, r.Score))
	}
	return out, nil
}

// Impact computes the transitive impact set for an entity and returns one
// "entityId<TAB>distance" line per affected entity.
func (a *App) Impact(ctx context.Context, entityID string) ([]string, error) {
	result, err := a.analysis.AnalyzeImpact(ctx, analysis.ImpactOptions{EntityID: entityID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result.Affected))
	for _, aff := range result.Affected {
		out = append(out, fmt.Sprintf("%s\t%d", aff.EntityID, aff.Distance))
	}
	return out, nil
}

// checkpointSeedLimit bounds how many recently-modified entities seed a
// checkpoint when the caller names a label rather than explicit seed ids.
const checkpointSeedLimit = 500

// CreateCheckpoint materializes a checkpoint over the current graph state,
// seeded from the most recently modified entities.
func (a *App) CreateCheckpoint(ctx context.Context, label string) (string, error) {
	listed, err := a.entities.List(ctx, entitystore.ListFilter{Limit: checkpointSeedLimit, OrderBy: "lastModified", OrderDir: "DESC"})
	if err != nil {
		return "", fmt.Errorf("failed to collect checkpoint seed entities: %w", err)
	}
	seeds := make([]string, 0, len(listed.Items))
	for _, e := range listed.Items {
		seeds = append(seeds, e.ID)
	}

	result, err := a.history.CreateCheckpoint(ctx, seeds, history.CreateCheckpointOptions{Reason: label})
	if err != nil {
		return "", err
	}
	return result.CheckpointID, nil
}

// ListCheckpoints returns every checkpoint id, most recent first.
func (a *App) ListCheckpoints(ctx context.Context) ([]string, error) {
	rows, err := a.history.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r.Properties["id"].(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// PruneHistory prunes history outside the configured retention window and
// returns the sum of versions deleted, edges closed, and checkpoints
// deleted.
func (a *App) PruneHistory(ctx context.Context) (int, error) {
	days := int(a.cfg.History.RetentionPeriod.Hours() / 24)
	if days <= 0 {
		days = 90
	}
	result, err := a.history.PruneHistory(ctx, days, false)
	if err != nil {
		return 0, err
	}
	return int(result.VersionsDeleted + result.EdgesClosed + result.CheckpointsDeleted), nil
}

// CreateBackup runs a full backup and returns its id.
func (a *App) CreateBackup(ctx context.Context) (string, error) {
	manifest, err := a.backup.CreateBackup(ctx, backup.CreateOptions{
		Type: backup.TypeFull, IncludeData: true, IncludeConfig: true, Compress: true,
	})
	if err != nil {
		return "", err
	}
	return manifest.ID, nil
}

// PreviewRestore previews a restore and returns the approval token.
func (a *App) PreviewRestore(ctx context.Context, backupID string) (string, error) {
	result, err := a.backup.PreviewRestore(ctx, backup.PreviewRestoreOptions{
		BackupID: backupID, RequestedBy: a.cfg.Service.Name, VerifyIntegrity: true,
	})
	if err != nil {
		return "", err
	}
	if result.Status == "failed" {
		return result.Token, fmt.Errorf("restore preview flagged blocking issues, see artifact checks for %s", backupID)
	}
	return result.Token, nil
}

// ApplyRestore applies a restore using a previously issued approval token.
func (a *App) ApplyRestore(ctx context.Context, backupID, token string) error {
	return a.backup.ApplyRestore(ctx, backup.ApplyRestoreOptions{BackupID: backupID, Token: token, VerifyIntegrity: true})
}
