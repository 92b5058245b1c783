package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeHealthChecker_HealthyWhenProbeSucceeds(t *testing.T) {
	checker := probeHealthChecker{name: "graph", probe: func(ctx context.Context) error { return nil }}

	status := checker.HealthCheck(context.Background())
	assert.Equal(t, "graph", status.Component)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Detail)
	assert.False(t, status.CheckedAt.IsZero())
}

func TestProbeHealthChecker_UnhealthyWhenProbeFails(t *testing.T) {
	checker := probeHealthChecker{name: "backup_storage", probe: func(ctx context.Context) error {
		return errors.New("unreachable")
	}}

	status := checker.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "unreachable", status.Detail)
}
