package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall "" entry.
const ServiceName = "chat.relay"

// HealthServer exposes grpc.health.v1 for load balancers and orchestrators.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(logger zerolog.Logger) *HealthServer {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	srv := &HealthServer{server: s, health: hs}
	srv.SetServing(false)
	return srv
}

// Start listens on addr and serves in the background.
func (s *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go s.Serve(lis)
	return nil
}

func (s *HealthServer) Serve(lis net.Listener) {
	l := log.L()
	l.Info().Str("address", lis.Addr().String()).Msg("grpc health server listening")
	if err := s.server.Serve(lis); err != nil {
		l.Error().Err(err).Msg("grpc server error")
	}
}

func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop flips every status to NOT_SERVING, then drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
