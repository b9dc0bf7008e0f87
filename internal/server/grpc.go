package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"SaveLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServicePrefix prefixes the per-class gRPC health service name
const HealthServicePrefix = "saveledger.ShareClass/"

// GRPCServer hosts the standard health service and reflection. Each share
// class is a health service that reports NOT_SERVING while paused.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	classes    ClassDirectory
	logger     zerolog.Logger
}

func NewGRPCServer(addr string, classes ClassDirectory) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	s := &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		addr:       addr,
		classes:    classes,
		logger:     observability.NewLogger("grpc"),
	}
	s.SyncHealth()
	return s
}

// HealthServiceName is the health service name of a class
func HealthServiceName(symbol string) string {
	return HealthServicePrefix + symbol
}

// SyncHealth publishes the serving status of every class
func (s *GRPCServer) SyncHealth() {
	for _, l := range s.classes.List() {
		st := healthpb.HealthCheckResponse_SERVING
		if l.Paused() {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(HealthServiceName(l.Symbol()), st)
	}
}

// Check answers a health request in process
func (s *GRPCServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// WatchClasses refreshes class health every interval until ctx is done
func (s *GRPCServer) WatchClasses(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncHealth()
		}
	}
}

// Start serves gRPC until ctx is cancelled
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go s.WatchClasses(ctx, time.Second)
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}
