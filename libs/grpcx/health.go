package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/delayrelay/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 for probes, mirroring the HTTP /readyz checks.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	ready  *runtime.Readiness
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger, ready *runtime.Readiness) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{srv: srv, health: hs, ready: ready, logger: logger}
}

func (s *HealthServer) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Watch re-evaluates readiness every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	s.refresh(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *HealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if failures := s.ready.Failures(ctx); len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Debug("grpc health not serving", "failures", failures)
	}
	s.health.SetServingStatus("", status)
}

// Stop marks the server NOT_SERVING and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
