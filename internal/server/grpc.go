package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard gRPC health service for load balancers
// and orchestration probes.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	addr   string
	log    zerolog.Logger
}

func NewGRPCServer(addr string, log zerolog.Logger) *GRPCServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return &GRPCServer{srv: srv, health: hs, addr: addr, log: log}
}

// SetServing flips the reported health status once the pipeline is wired.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Start serves until ctx is cancelled.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.srv.GracefulStop()
	}()

	s.log.Info().Str("addr", s.addr).Msg("grpc server listening")
	return s.srv.Serve(lis)
}
