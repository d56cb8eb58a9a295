package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"memprobe/pkg/prowler"
	"memprobe/service"
	"net"
	"time"
)

// WorkerService is the health service name that tracks the persistent worker.
const WorkerService = "memprobe.worker"

const defaultPollInterval = time.Second

// Server exposes the standard gRPC health service. The empty service name
// reports the server itself; WorkerService follows prowler.WorkerAlive.
type Server struct {
	service.ServerImpl
	grpcServer *grpc.Server
	health     *health.Server
	prowler    *prowler.Prowler
	interval   time.Duration
}

// NewServer serves health checks for p on listener. logflags.Setup must
// have run before.
func NewServer(listener net.Listener, p *prowler.Prowler) *Server {
	s := &Server{
		ServerImpl: service.ServerImpl{
			Listener: listener,
			StopChan: make(chan struct{}),
		},
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		prowler:    p,
		interval:   defaultPollInterval,
	}
	s.SetupLogger("grpc")
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	return s
}

// SetPollInterval changes how often worker liveness is sampled.
func (s *Server) SetPollInterval(d time.Duration) {
	s.interval = d
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.updateWorker()
	go s.poll()

	s.Logger.Infof("grpc health server listening on %s", s.Addr())
	return s.grpcServer.Serve(s.Listener)
}

func (s *Server) poll() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.StopChan:
			return
		case <-ticker.C:
			s.updateWorker()
		}
	}
}

func (s *Server) updateWorker() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.prowler.WorkerAlive() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(WorkerService, status)
}

func (s *Server) Stop() error {
	select {
	case <-s.StopChan:
		return nil
	default:
	}
	close(s.StopChan)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	return nil
}
