package grpc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Health service names for the remote dependencies. The empty name reports
// the order service as a whole.
const (
	UserServiceName    = "orders.UserService"
	ProductServiceName = "orders.ProductService"
)

// Check reports whether a dependency answers.
type Check func(ctx context.Context) error

// HealthServer exposes the standard gRPC health service, fed by polling the
// user and product services.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]Check
	names    []string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewHealthServer(checks map[string]Check, interval time.Duration, logger *zap.Logger) *HealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_UNKNOWN)
	}
	sort.Strings(names)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		server:   srv,
		health:   hs,
		checks:   checks,
		names:    names,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger.Named("health"),
	}
}

// Start listens on addr and serves until Stop is called.
func (s *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("Health service started", zap.String("address", addr))
	return s.Serve(lis)
}

func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Poll checks the dependencies right away and then on every interval until
// ctx is done.
func (s *HealthServer) Poll(ctx context.Context) {
	s.CheckOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs every check and updates the reported statuses. The overall
// status is SERVING only when all dependencies are.
func (s *HealthServer) CheckOnce(ctx context.Context) {
	allUp := true
	for _, name := range s.names {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name](cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			allUp = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("Dependency down", zap.String("service", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, status)
	}

	if allUp {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
