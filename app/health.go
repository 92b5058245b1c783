package app

import (
	"context"
	"time"

	"codegraphix.dev/engine/telemetry"
)

// probeHealthChecker adapts a bare readiness probe to telemetry.HealthChecker,
// so graph connectivity and the backup storage provider surface on the
// telemetry server's health endpoint alongside their own subsystems.
type probeHealthChecker struct {
	name  string
	probe func(ctx context.Context) error
}

func (p probeHealthChecker) HealthCheck(ctx context.Context) telemetry.HealthStatus {
	status := telemetry.HealthStatus{Component: p.name, CheckedAt: time.Now().UTC(), Healthy: true}
	if err := p.probe(ctx); err != nil {
		status.Healthy = false
		status.Detail = err.Error()
	}
	return status
}
