package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"codegraphix.dev/engine/backup/storage"
	"codegraphix.dev/engine/db"
)

// MetadataStore is the durable record of every backup's manifest. Postgres
// is the implementation used when a DSN is configured; FileMetadataStore is
// used otherwise. A legacy JSON sidecar written through the same
// storage.Provider used for artifacts is the fallback CreateBackup writes
// when MetadataStore.Save fails.
type MetadataStore interface {
	Save(ctx context.Context, m Manifest) error
	Get(ctx context.Context, id string) (*Manifest, error)
	List(ctx context.Context, limit int) ([]Manifest, error)
	Delete(ctx context.Context, id string) error
}

// manifestRow is the JSON payload stored in the backup_manifests table's
// manifest_data column, the same json-blob-plus-typed-columns shape
// db/repository/postgres.go's PostgresMetricsRepository.SaveRun uses for
// action_runs.
type manifestRow struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	CreatedAt       string            `json:"createdAt"`
	Status          string            `json:"status"`
	Components      ComponentFlags    `json:"components"`
	StorageProvider string            `json:"storageProvider"`
	Destination     string            `json:"destination"`
	Labels          map[string]string `json:"labels"`
	SizeBytes       int64             `json:"sizeBytes"`
	Checksum        string            `json:"checksum"`
	Error           string            `json:"error"`
}

// PostgresMetadataStore persists backup manifests as rows in
// backup_manifests, generalized from db/repository/postgres.go's
// PostgresMetricsRepository (action-run metrics rows) to backup-manifest
// rows, over db/postgres_pgx.go's PostgresDB pgx pool wrapper.
type PostgresMetadataStore struct {
	db *db.PostgresDB
}

// NewPostgresMetadataStore wraps an already-open PostgresDB. Callers are
// expected to have run the backup_manifests migration (id PK, manifest_data
// jsonb, created_at, status, size_bytes, checksum indexed columns) ahead of
// time, the same external-migration convention the teacher's repository
// layer assumes for action_runs.
func NewPostgresMetadataStore(pg *db.PostgresDB) *PostgresMetadataStore {
	return &PostgresMetadataStore{db: pg}
}

func (s *PostgresMetadataStore) Save(ctx context.Context, m Manifest) error {
	row := manifestRow{
		ID:              m.ID,
		Type:            string(m.Type),
		CreatedAt:       m.CreatedAt.Format(time.RFC3339),
		Status:          string(m.Status),
		Components:      m.Components,
		StorageProvider: m.StorageProvider,
		Destination:     m.Destination,
		Labels:          m.Labels,
		SizeBytes:       m.SizeBytes,
		Checksum:        m.Checksum,
		Error:           m.Error,
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal backup manifest: %w", err)
	}

	return s.db.Exec(ctx, `
		INSERT INTO backup_manifests (id, manifest_data, status, size_bytes, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			manifest_data = EXCLUDED.manifest_data,
			status = EXCLUDED.status,
			size_bytes = EXCLUDED.size_bytes,
			checksum = EXCLUDED.checksum
	`, m.ID, data, string(m.Status), m.SizeBytes, m.Checksum, m.CreatedAt)
}

func (s *PostgresMetadataStore) Get(ctx context.Context, id string) (*Manifest, error) {
	row := s.db.QueryRow(ctx, `SELECT manifest_data FROM backup_manifests WHERE id = $1`, id)
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, fmt.Errorf("backup manifest not found: %s: %w", id, err)
	}
	return decodeManifestRow(data)
}

func (s *PostgresMetadataStore) List(ctx context.Context, limit int) ([]Manifest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT manifest_data FROM backup_manifests ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Manifest
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			continue
		}
		m, err := decodeManifestRow(data)
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresMetadataStore) Delete(ctx context.Context, id string) error {
	return s.db.Exec(ctx, `DELETE FROM backup_manifests WHERE id = $1`, id)
}

func decodeManifestRow(data []byte) (*Manifest, error) {
	var row manifestRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup manifest: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	return &Manifest{
		ID:              row.ID,
		Type:            Type(row.Type),
		CreatedAt:       createdAt,
		Status:          Status(row.Status),
		Components:      row.Components,
		StorageProvider: row.StorageProvider,
		Destination:     row.Destination,
		Labels:          row.Labels,
		SizeBytes:       row.SizeBytes,
		Checksum:        row.Checksum,
		Error:           row.Error,
	}, nil
}

const manifestPrefix = "_manifests/"

// FileMetadataStore is a complete MetadataStore backed by the same
// storage.Provider artifacts are written through, one JSON file per
// manifest under manifestPrefix. Used when no Backup.MetadataDSN is
// configured, so a Coordinator always has a durable MetadataStore even
// without a Postgres dependency.
type FileMetadataStore struct {
	provider storage.Provider
}

// NewFileMetadataStore binds a FileMetadataStore to the storage provider
// backups are already written through.
func NewFileMetadataStore(provider storage.Provider) *FileMetadataStore {
	return &FileMetadataStore{provider: provider}
}

func (s *FileMetadataStore) Save(ctx context.Context, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup manifest: %w", err)
	}
	return s.provider.WriteFile(ctx, manifestPrefix+m.ID+".json", data, storage.WriteOptions{ContentType: "application/json"})
}

func (s *FileMetadataStore) Get(ctx context.Context, id string) (*Manifest, error) {
	data, err := s.provider.ReadFile(ctx, manifestPrefix+id+".json")
	if err != nil {
		return nil, fmt.Errorf("backup manifest not found: %s: %w", id, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup manifest: %w", err)
	}
	return &m, nil
}

func (s *FileMetadataStore) List(ctx context.Context, limit int) ([]Manifest, error) {
	paths, err := s.provider.List(ctx, manifestPrefix)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	var out []Manifest
	for _, p := range paths {
		data, err := s.provider.ReadFile(ctx, p)
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *FileMetadataStore) Delete(ctx context.Context, id string) error {
	return s.provider.RemoveFile(ctx, manifestPrefix+id+".json")
}

// legacyMetadataWriter is the fallback manifest record: a
// "<backupId>_metadata.json" sidecar co-located with the backup's
// artifacts, written through the same storage.Provider the artifacts
// themselves go through. CreateBackup uses it only when the configured
// MetadataStore's Save fails; if this write fails too, the backup fails.
type legacyMetadataWriter struct {
	writeFile func(ctx context.Context, path string, data []byte) error
}

func (w *legacyMetadataWriter) Save(ctx context.Context, backupID string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal legacy manifest: %w", err)
	}
	return w.writeFile(ctx, backupID+"_metadata.json", data)
}
