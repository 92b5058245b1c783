package backup

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegraphix.dev/engine/backup/storage"
)

func TestNewRestoreToken_HasExpectedPrefixAndLength(t *testing.T) {
	tok := newRestoreToken()
	assert.True(t, strings.HasPrefix(tok, "rt_"))
	assert.Len(t, tok, len("rt_")+32)
}

func TestNewRestoreToken_Unique(t *testing.T) {
	a := newRestoreToken()
	b := newRestoreToken()
	assert.NotEqual(t, a, b)
}

// memProvider is a minimal in-memory storage.Provider for exercising
// checksum/verify logic without a real filesystem or S3 backend.
type memProvider struct {
	files map[string][]byte
}

func newMemProvider() *memProvider { return &memProvider{files: map[string][]byte{}} }

func (m *memProvider) ID() string                              { return "mem" }
func (m *memProvider) EnsureReady(ctx context.Context) error    { return nil }
func (m *memProvider) SupportsStreaming() bool                  { return true }
func (m *memProvider) RemoveFile(ctx context.Context, path string) error {
	delete(m.files, path)
	return nil
}
func (m *memProvider) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.files[path]
	return ok, nil
}
func (m *memProvider) WriteFile(ctx context.Context, path string, data []byte, opts storage.WriteOptions) error {
	m.files[path] = append([]byte(nil), data...)
	return nil
}
func (m *memProvider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return data, nil
}
func (m *memProvider) Stat(ctx context.Context, path string) (storage.Info, error) {
	data, ok := m.files[path]
	if !ok {
		return storage.Info{}, fmt.Errorf("not found: %s", path)
	}
	return storage.Info{Size: int64(len(data)), ModifiedAt: time.Now()}, nil
}
func (m *memProvider) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

type memWriteCloser struct {
	path string
	p    *memProvider
	buf  []byte
}

func (w *memWriteCloser) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
func (w *memWriteCloser) Close() error {
	w.p.files[w.path] = w.buf
	return nil
}

func (m *memProvider) CreateWriteStream(ctx context.Context, path string) (io.WriteCloser, error) {
	return &memWriteCloser{path: path, p: m}, nil
}
func (m *memProvider) CreateReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

// TestVerifyIntegrity_MatchesCreateTimeChecksumWhenArchived reproduces the
// default compressed-backup path: a backup is "created" (checksum computed
// over the raw artifacts, then an archive.tar.gz is written alongside them),
// and verifyIntegrity must recompute the same checksum immediately after,
// since the archive itself was never part of the hashed set.
func TestVerifyIntegrity_MatchesCreateTimeChecksumWhenArchived(t *testing.T) {
	provider := newMemProvider()
	ctx := context.Background()
	backupID := "backup-1"

	require.NoError(t, provider.WriteFile(ctx, backupID+"/graph.json", []byte(`{"nodes":1}`), storage.WriteOptions{}))
	require.NoError(t, provider.WriteFile(ctx, backupID+"/vector.json", []byte(`{"vectors":1}`), storage.WriteOptions{}))

	c := &Coordinator{}
	artifactPaths := []string{backupID + "/graph.json", backupID + "/vector.json"}
	_, checksum, err := c.checksumArtifacts(ctx, provider, artifactPaths)
	require.NoError(t, err)

	require.NoError(t, c.archiveArtifacts(ctx, provider, backupID, artifactPaths))
	require.NoError(t, provider.WriteFile(ctx, backupID+"/_metadata.json", []byte(`{}`), storage.WriteOptions{}))

	manifest := Manifest{
		ID:         backupID,
		Components: ComponentFlags{Graph: true, Vector: true},
		Checksum:   checksum,
	}

	report, err := c.verifyIntegrity(ctx, provider, manifest)
	require.NoError(t, err)
	assert.Empty(t, report.MissingFiles)
	assert.Equal(t, checksum, report.ActualSum)
	assert.True(t, report.ChecksumMatches, "verify-time checksum must match create-time checksum for a compressed backup")
}
