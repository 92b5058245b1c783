// Package config provides configuration loading and validation for the
// engine: graph store connection settings, history/retention policy, backup
// provider credentials, ingestion tuning, and namespace defaults. Values are
// sourced through Viper (flags > env > file > default), following the
// precedence the command-line entry point wires up.
package config

import (
	"fmt"
	"strings"
	"time"
)

// EnvConfig provides utilities for loading configuration from environment
// variables with an optional prefix. Viper covers this same need for the
// CLI entry point; EnvConfig remains for callers (tests, embedders) that
// construct config sections directly without a Viper instance.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a new environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GraphConfig configures the property-graph store connection.
type GraphConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// VectorConfig configures the embedding/vector similarity index.
type VectorConfig struct {
	Dimensions      int
	SimilarityFloor float64
	IndexName       string
}

// HistoryConfig configures temporal versioning and retention pruning.
type HistoryConfig struct {
	Enabled            bool
	RetentionPeriod    time.Duration
	CheckpointInterval time.Duration
}

// BackupConfig configures the backup/restore coordinator.
type BackupConfig struct {
	Provider          string // "s3" or "local"
	Bucket            string
	LocalPath         string
	MetadataDSN       string // Postgres DSN for the tabular metadata store
	RestoreTokenPath  string // bbolt file backing restore-approval tokens
	ApprovalRequired  bool
	ApprovalTokenTTL  time.Duration
}

// IngestionConfig configures the ingestion pipeline's queue and worker tuning.
type IngestionConfig struct {
	QueuePartitions int
	RedisAddr       string
	AMQPURL         string
	QueueBackend    string // "redis", "memory", or "amqp"
	WorkerMinPool   int
	WorkerMaxPool   int
	BatchSize       int
	QuarantineSize  int
}

// SearchConfig configures search-strategy routing.
type SearchConfig struct {
	StructuralHints []string
	CacheTTL        time.Duration
	CacheSize       int
}

// NamespaceConfig configures default namespace scoping.
type NamespaceConfig struct {
	DefaultTenant  string
	DefaultProject string
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	MetricsAddr    string
	OTLPEndpoint   string
	ServiceName    string
	AlertThreshold float64
}

// ServiceConfig contains service-identity metadata carried through logging.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
	LogFormat   string
}

// Config aggregates every configuration section the engine needs.
type Config struct {
	Service   ServiceConfig
	Graph     GraphConfig
	Vector    VectorConfig
	History   HistoryConfig
	Backup    BackupConfig
	Ingestion IngestionConfig
	Search    SearchConfig
	Namespace NamespaceConfig
	Telemetry TelemetryConfig
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a string field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid reports whether the validator has accumulated no errors.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors collected so far.
func (v *Validator) Errors() []string {
	return v.errors
}

// Validate returns a single error summarizing all validation failures, or nil.
func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// Validate checks the aggregate config for the invariants every component
// depends on at construction time (non-empty graph URI, positive partition
// counts, a recognized backup provider and queue backend).
func (c *Config) Validate() error {
	v := NewValidator()

	v.RequireString("Graph.URI", c.Graph.URI)
	v.RequirePositiveInt("Vector.Dimensions", c.Vector.Dimensions)
	v.RequireOneOf("Backup.Provider", c.Backup.Provider, []string{"s3", "local"})
	v.RequireOneOf("Ingestion.QueueBackend", c.Ingestion.QueueBackend, []string{"redis", "memory", "amqp"})
	v.RequirePositiveInt("Ingestion.QueuePartitions", c.Ingestion.QueuePartitions)

	if c.Backup.Provider == "s3" {
		v.RequireString("Backup.Bucket", c.Backup.Bucket)
	}
	if c.Backup.Provider == "local" {
		v.RequireString("Backup.LocalPath", c.Backup.LocalPath)
	}

	return v.Validate()
}

// Default returns a Config populated with the engine's sensible defaults;
// callers overlay Viper-sourced values on top of this before validating.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "codegraph",
			Version:     "0.0.1",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "text",
		},
		Graph: GraphConfig{
			URI:      "bolt://localhost:7687",
			Database: "neo4j",
		},
		Vector: VectorConfig{
			Dimensions:      768,
			SimilarityFloor: 0.35,
			IndexName:       "entity_embeddings",
		},
		History: HistoryConfig{
			Enabled:            true,
			RetentionPeriod:    90 * 24 * time.Hour,
			CheckpointInterval: 24 * time.Hour,
		},
		Backup: BackupConfig{
			Provider:         "local",
			LocalPath:        "./backups",
			RestoreTokenPath: "./backups/restore-tokens.db",
			ApprovalRequired: true,
			ApprovalTokenTTL: 1 * time.Hour,
		},
		Ingestion: IngestionConfig{
			QueuePartitions: 4,
			RedisAddr:       "localhost:6379",
			QueueBackend:    "redis",
			WorkerMinPool:   2,
			WorkerMaxPool:   16,
			BatchSize:       100,
			QuarantineSize:  100,
		},
		Search: SearchConfig{
			StructuralHints: []string{"calls", "imports", "implements"},
			CacheTTL:        5 * time.Minute,
			CacheSize:       1000,
		},
		Namespace: NamespaceConfig{
			DefaultTenant:  "default",
			DefaultProject: "default",
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: ":9090",
			ServiceName: "codegraph-engine",
		},
	}
}
