package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	logpkg "github.com/rzbill/logfan/pkg/log"
)

// ServiceName is the service name reported alongside the overall status.
const ServiceName = "logfan.v1.Fanout"

// HealthChecker reports whether storage is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// prober keeps the health server in step with the storage check.
type prober struct {
	checker HealthChecker
	srv     *health.Server
	logger  logpkg.Logger
	last    healthpb.HealthCheckResponse_ServingStatus
}

func (p *prober) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := p.checker.CheckHealth(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if p.last != status {
			p.logger.Warn("storage unhealthy", logpkg.Err(err))
		}
	}
	if status != p.last {
		p.srv.SetServingStatus("", status)
		p.srv.SetServingStatus(ServiceName, status)
		p.last = status
	}
}

func (p *prober) run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.probe(ctx)
		}
	}
}
