package server

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"scrapekit/internal/grpc/interceptors"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
)

// Server exposes the standard gRPC health service and reflection
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	metrics    *interceptors.MetricsCollector
	logger     types.Logger
}

func NewServer(metrics *interceptors.MetricsCollector) *Server {
	if metrics == nil {
		metrics = interceptors.GetMetricsCollector()
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryInterceptor(),
			interceptors.LoggingInterceptor(),
			interceptors.MetricsInterceptor(metrics),
		),
		grpc.ChainStreamInterceptor(
			interceptors.StreamRecoveryInterceptor(),
			interceptors.StreamLoggingInterceptor(),
			interceptors.StreamMetricsInterceptor(metrics),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	// Enable reflection for debugging
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		metrics:    metrics,
		logger:     logging.GetGlobalLogger().WithField("component", "grpc"),
	}
}

// Serve blocks until lis is closed or the server stops
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server", map[string]interface{}{
		"address": lis.Addr().String(),
	})
	return s.grpcServer.Serve(lis)
}

// Stop drains in-flight calls, forcing a stop when ctx ends first
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped gracefully", map[string]interface{}{})
	case <-ctx.Done():
		s.logger.Warn("gRPC graceful stop timed out, forcing", map[string]interface{}{})
		s.grpcServer.Stop()
	}
}

// Metrics returns the per-method call counters
func (s *Server) Metrics() map[string]interceptors.MetricsData {
	return s.metrics.Snapshot()
}
