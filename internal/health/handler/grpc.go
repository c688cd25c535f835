package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultProbeInterval is how often StatusUpdater refreshes the gRPC serving status.
const DefaultProbeInterval = 10 * time.Second

// StatusUpdater keeps a grpc health.Server in step with the readiness checks.
// The overall service ("") and Service both follow the report.
type StatusUpdater struct {
	server   *health.Server
	checks   Runner
	service  string
	interval time.Duration
	log      *slog.Logger
}

// NewStatusUpdater returns a StatusUpdater. interval <= 0 uses DefaultProbeInterval.
func NewStatusUpdater(server *health.Server, checks Runner, service string, interval time.Duration, log *slog.Logger) *StatusUpdater {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &StatusUpdater{server: server, checks: checks, service: service, interval: interval, log: log}
}

// Update runs the checks once and publishes the result. Returns the published status.
func (u *StatusUpdater) Update(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	report := u.checks.Run(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !report.Ready() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		u.log.WarnContext(ctx, "health: not ready", "checks", report.Checks)
	}
	u.server.SetServingStatus("", status)
	if u.service != "" {
		u.server.SetServingStatus(u.service, status)
	}
	return status
}

// Run updates immediately and then every interval until ctx is done. On exit every service is
// marked NOT_SERVING so clients drain before the listener closes.
func (u *StatusUpdater) Run(ctx context.Context) {
	u.Update(ctx)
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.server.Shutdown()
			return
		case <-ticker.C:
			u.Update(ctx)
		}
	}
}
