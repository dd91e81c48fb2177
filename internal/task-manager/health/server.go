// Package health exposes the standard gRPC health service for the task
// manager, so orchestrators can probe the scheduler independently of HTTP.
package health

import (
	"fmt"
	"net"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the scheduler.
const ServiceName = "automation.Scheduler"

type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	lis    net.Listener
}

// Listen binds addr and registers the health service. Both the overall status
// and ServiceName start as NOT_SERVING.
func Listen(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for grpc on %s: %w", addr, err)
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s, nil
}

func (s *Server) Addr() string { return s.lis.Addr().String() }

// Serve blocks until Stop.
func (s *Server) Serve() {
	hlog.Infof("Health: gRPC health service listening on %s", s.Addr())
	if err := s.grpc.Serve(s.lis); err != nil && err != grpc.ErrServerStopped {
		hlog.Errorf("Health: gRPC server stopped with error: %v", err)
	}
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
