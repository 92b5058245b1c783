package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_PassesValidation(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresGraphURI(t *testing.T) {
	cfg := Default()
	cfg.Graph.URI = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Graph.URI")
}

func TestValidate_RequiresPositiveVectorDimensions(t *testing.T) {
	cfg := Default()
	cfg.Vector.Dimensions = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Vector.Dimensions")
}

func TestValidate_RejectsUnknownBackupProvider(t *testing.T) {
	cfg := Default()
	cfg.Backup.Provider = "azure"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Backup.Provider")
}

func TestValidate_S3ProviderRequiresBucket(t *testing.T) {
	cfg := Default()
	cfg.Backup.Provider = "s3"
	cfg.Backup.Bucket = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Backup.Bucket")
}

func TestValidate_S3ProviderWithBucketPasses(t *testing.T) {
	cfg := Default()
	cfg.Backup.Provider = "s3"
	cfg.Backup.Bucket = "my-bucket"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownQueueBackend(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.QueueBackend = "kafka"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Ingestion.QueueBackend")
}

func TestValidate_AccumulatesMultipleErrors(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Graph.URI")
	assert.Contains(t, err.Error(), "Vector.Dimensions")
}

func TestValidator_IsValidAndErrors(t *testing.T) {
	v := NewValidator()
	assert.True(t, v.IsValid())

	v.RequireString("Field", "")
	assert.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 1)
}

func TestValidator_RequireOneOf_EmptyValueIsRequiredError(t *testing.T) {
	v := NewValidator()
	v.RequireOneOf("Mode", "", []string{"a", "b"})
	assert.Contains(t, v.Errors()[0], "is required")
}

func TestValidator_RequireOneOf_InvalidValueListsAllowed(t *testing.T) {
	v := NewValidator()
	v.RequireOneOf("Mode", "c", []string{"a", "b"})
	assert.Contains(t, v.Errors()[0], "a, b")
}

func TestEnvConfig_BuildKey(t *testing.T) {
	ec := NewEnvConfig("CODEGRAPH")
	assert.Equal(t, "CODEGRAPH_GRAPH_URI", ec.buildKey("GRAPH_URI"))
}

func TestEnvConfig_BuildKey_NoPrefix(t *testing.T) {
	ec := NewEnvConfig("")
	assert.Equal(t, "GRAPH_URI", ec.buildKey("GRAPH_URI"))
}
