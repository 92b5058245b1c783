package backup

import (
	"codegraphix.dev/engine/common"
	"codegraphix.dev/engine/config"
)

// redactedConfig is the shape the config artifact is written as: every
// credential-bearing field masked via common/utils.go's MaskSecret rather
// than omitted, so operators can still see which secret a restored
// environment needs to supply without the value itself ever landing in
// backup storage.
type redactedConfig struct {
	Service   config.ServiceConfig
	Graph     redactedGraphConfig
	Vector    config.VectorConfig
	History   config.HistoryConfig
	Backup    redactedBackupConfig
	Ingestion redactedIngestionConfig
	Search    config.SearchConfig
	Namespace config.NamespaceConfig
	Telemetry config.TelemetryConfig
}

type redactedGraphConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type redactedBackupConfig struct {
	Provider         string
	Bucket           string
	LocalPath        string
	MetadataDSN      string
	RestoreTokenPath string
	ApprovalRequired bool
}

type redactedIngestionConfig struct {
	QueuePartitions int
	RedisAddr       string
	AMQPURL         string
	QueueBackend    string
	WorkerMinPool   int
	WorkerMaxPool   int
	BatchSize       int
	QuarantineSize  int
}

// redactConfig masks every secret-bearing field of cfg for the
// "<backupId>_config.json" artifact.
func redactConfig(cfg config.Config) redactedConfig {
	return redactedConfig{
		Service: cfg.Service,
		Graph: redactedGraphConfig{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: common.MaskSecret(cfg.Graph.Password),
			Database: cfg.Graph.Database,
		},
		Vector:  cfg.Vector,
		History: cfg.History,
		Backup: redactedBackupConfig{
			Provider:         cfg.Backup.Provider,
			Bucket:           cfg.Backup.Bucket,
			LocalPath:        cfg.Backup.LocalPath,
			MetadataDSN:      common.MaskSecret(cfg.Backup.MetadataDSN),
			RestoreTokenPath: cfg.Backup.RestoreTokenPath,
			ApprovalRequired: cfg.Backup.ApprovalRequired,
		},
		Ingestion: redactedIngestionConfig{
			QueuePartitions: cfg.Ingestion.QueuePartitions,
			RedisAddr:       cfg.Ingestion.RedisAddr,
			AMQPURL:         common.MaskSecret(cfg.Ingestion.AMQPURL),
			QueueBackend:    cfg.Ingestion.QueueBackend,
			WorkerMinPool:   cfg.Ingestion.WorkerMinPool,
			WorkerMaxPool:   cfg.Ingestion.WorkerMaxPool,
			BatchSize:       cfg.Ingestion.BatchSize,
			QuarantineSize:  cfg.Ingestion.QuarantineSize,
		},
		Search:    cfg.Search,
		Namespace: cfg.Namespace,
		Telemetry: cfg.Telemetry,
	}
}
