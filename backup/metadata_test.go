package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeManifestRow_RoundTripsFields(t *testing.T) {
	data := []byte(`{
		"id": "bkp_1",
		"type": "full",
		"createdAt": "2026-01-15T10:00:00Z",
		"status": "completed",
		"storageProvider": "s3",
		"destination": "bucket/key",
		"labels": {"env": "prod"},
		"sizeBytes": 4096,
		"checksum": "abc123",
		"error": ""
	}`)

	m, err := decodeManifestRow(data)
	require.NoError(t, err)
	assert.Equal(t, "bkp_1", m.ID)
	assert.Equal(t, Type("full"), m.Type)
	assert.Equal(t, Status("completed"), m.Status)
	assert.Equal(t, "s3", m.StorageProvider)
	assert.Equal(t, int64(4096), m.SizeBytes)
	assert.Equal(t, "prod", m.Labels["env"])
	assert.Equal(t, 2026, m.CreatedAt.Year())
}

func TestDecodeManifestRow_InvalidJSONFails(t *testing.T) {
	_, err := decodeManifestRow([]byte("not json"))
	assert.Error(t, err)
}

func TestDecodeManifestRow_UnparsableTimestampDefaultsToZero(t *testing.T) {
	data := []byte(`{"id": "bkp_1", "createdAt": "not-a-time"}`)

	m, err := decodeManifestRow(data)
	require.NoError(t, err)
	assert.True(t, m.CreatedAt.IsZero())
}
