package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"steeple.org/internal/obs"
)

// GRPCHealth serves the standard gRPC health protocol with a status that
// follows the readiness probe.
type GRPCHealth struct {
	server    *health.Server
	readiness readinessChecker
}

func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCHealth{server: hs, readiness: r}
}

func (g *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, g.server)
}

// Refresh runs the readiness probe once and publishes the result for both
// the named service and the server as a whole.
func (g *GRPCHealth) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.readiness.Check(ctx); err != nil {
		obs.Logger().WithError(err).Warn("readiness check failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.server.SetServingStatus(serviceName, status)
	g.server.SetServingStatus("", status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Watch refreshes every interval until ctx is done, then marks the service
// as not serving.
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.server.Shutdown()
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			g.Refresh(probeCtx)
			cancel()
		}
	}
}
