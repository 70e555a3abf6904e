package grpchealth

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/facemask/internal/logging"
)

// WorkerService is the health service name reported for the crop worker.
const WorkerService = "facemask.CropWorker"

// Server exposes the standard gRPC health protocol for the crop worker.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer creates a health server. The worker starts out NOT_SERVING until
// it reports otherwise.
func NewServer(logger *zap.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, logger: logger.Named("grpc_health")}
	s.SetServing(false)
	return s
}

// SetServing updates the reported status of the worker and the overall server.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(WorkerService, status)
	s.health.SetServingStatus("", status)
}

// Serve blocks serving health checks on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return logging.NewOperationError("grpchealth.serve", "", err)
	}
	return nil
}

// Stop marks every service as NOT_SERVING and stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
