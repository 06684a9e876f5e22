package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"inspectdesk.io/internal/obs"
)

const serviceName = "inspectdesk-api"

// HealthReporter mirrors the readiness probe into the standard gRPC health
// service, both for the server as a whole and for serviceName.
type HealthReporter struct {
	readiness readinessChecker
	health    *health.Server
	interval  time.Duration
}

// NewHealthReporter creates a reporter probing every interval.
func NewHealthReporter(r readinessChecker, hs *health.Server, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{readiness: r, health: hs, interval: interval}
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthReporter) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := h.readiness.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
		log := obs.Component("health")
		log.Warn().Err(err).Msg("readiness probe failed")
	}
	obs.SetReady(ok)
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(serviceName, status)
	return ok
}

// Run probes until ctx ends, then marks the service as shutting down.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
