package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer pairs a gRPC server with its registered health service.
type HealthServer struct {
	Server *gogrpc.Server
	Health *health.Server
}

// NewHealthServer builds a gRPC server exposing only the standard health service.
func NewHealthServer(opts ...gogrpc.ServerOption) *HealthServer {
	if len(opts) == 0 {
		opts = nodeServerOptions()
	}
	server := gogrpc.NewServer(opts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	return &HealthServer{Server: server, Health: healthServer}
}

// SetServing marks the overall service as serving or not serving.
func (s *HealthServer) SetServing(serving bool) {
	if s == nil || s.Health == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.Health.SetServingStatus("", status)
}

// Stop marks the server unhealthy and drains in-flight calls.
func (s *HealthServer) Stop() {
	if s == nil {
		return
	}
	if s.Health != nil {
		s.Health.Shutdown()
	}
	if s.Server != nil {
		s.Server.GracefulStop()
	}
}

// ErrNotServing reports a health response other than SERVING.
var ErrNotServing = errors.New("gRPC health is not serving")

// Probe performs a single health check against addr and reports whether it is SERVING.
func Probe(ctx context.Context, addr string, timeout time.Duration, opts ...gogrpc.DialOption) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts) == 0 {
		opts = peerDialOptions()
	}

	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return &ProbeError{Addr: addr, Stage: ProbeStageDial, Err: err}
	}
	defer conn.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := checkHealth(ctx, conn, ""); err != nil {
		return &ProbeError{Addr: addr, Stage: ProbeStageCheck, Err: err}
	}
	return nil
}

// checkHealth issues one health check on an existing connection.
func checkHealth(ctx context.Context, conn *gogrpc.ClientConn, service string) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	response, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	if response.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: status %s", ErrNotServing, response.GetStatus().String())
	}
	return nil
}
