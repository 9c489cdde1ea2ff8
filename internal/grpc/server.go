// Package grpcserver gRPC сервер со стандартным сервисом здоровья.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/interceptors"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName имя сервиса в ответах health.
const ServiceName = "marketplace.payments"

// Check проверка зависимости. Ошибка переводит сервис в NOT_SERVING.
type Check func(ctx context.Context) error

// Server gRPC сервер с health и reflection.
type Server struct {
	srv      *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	log      *logger.Logger
	stop     chan struct{}
}

// New создает сервер. checks опрашиваются раз в interval.
func New(checks map[string]Check, interval time.Duration, log *logger.Logger) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recovery(log),
			interceptors.Logging(log),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Server{
		srv:      srv,
		health:   hs,
		checks:   checks,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Health сервер статусов, нужен тестам и для ручного переключения.
func (s *Server) Health() *health.Server {
	return s.health
}

// Refresh выставляет статус по текущему результату проверок.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(checkCtx)
		cancel()
		if err != nil {
			s.log.Warnw("Health check failed", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve слушает порт и блокируется до остановки.
func (s *Server) Serve(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}

	s.Refresh(context.Background())
	go s.watch()

	s.log.Infow("Starting gRPC server", "port", port)
	return s.srv.Serve(lis)
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Refresh(context.Background())
		case <-s.stop:
			return
		}
	}
}

// GracefulStop ждет завершения текущих RPC.
func (s *Server) GracefulStop() {
	close(s.stop)
	s.health.Shutdown()
	s.srv.GracefulStop()
}
