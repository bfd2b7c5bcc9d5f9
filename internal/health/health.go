// Package health serves the standard gRPC health service for the node and
// keeps it in step with the camera lifecycle.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/acquisition"
	"github.com/banshee-data/tofcam/internal/tof/camera"
)

// Service is the health service name reported for the camera. The empty
// name reports the node as a whole and is always SERVING while the server
// runs.
const Service = "tofcam.Camera"

// Server reports SERVING for the camera service while the camera is in
// Standby or Sampling and NOT_SERVING otherwise.
type Server struct {
	addr   string
	health *health.Server

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
	running  atomic.Bool
}

// NewServer creates a health server that will listen on addr.
func NewServer(addr string) *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{addr: addr, health: h}
}

// Start binds and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Infof("[Health] gRPC health service listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Warnf("[Health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Infof("[Health] gRPC health service stopped")
}

// Status returns the status currently reported for service.
func (s *Server) Status(service string) healthpb.HealthCheckResponse_ServingStatus {
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}

func (s *Server) StateChanged(_, to camera.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if to == camera.Standby || to == camera.Sampling {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
}

func (s *Server) SessionStarted(camera.SessionInfo)                  {}
func (s *Server) SessionEnded(string, acquisition.Stats, *tof.Fault) {}
func (s *Server) Fault(error)                                        {}
