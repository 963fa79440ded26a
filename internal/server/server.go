package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// WatchService is the health service name reported while the watch loop runs.
const WatchService = "parts-intake.watch"

type Config struct {
	GRPCAddr    string
	MetricsAddr string
}

// Server exposes gRPC health and Prometheus metrics next to the watch loop.
// Either listener is skipped when its address is empty.
type Server struct {
	cfg    Config
	logger *slog.Logger

	grpc    *grpc.Server
	health  *health.Server
	metrics *http.Server

	grpcLis    net.Listener
	metricsLis net.Listener
}

func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}

	s.grpc = grpc.NewServer()
	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	// not serving until the watch loop is ready
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(WatchService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start binds the listeners and serves in the background.
func (s *Server) Start() error {
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			s.logger.Error("failed to listen on address", "addr", s.cfg.GRPCAddr, "error", err)
			return err
		}
		s.grpcLis = lis
		s.logger.Info("grpc health listening", "addr", lis.Addr().String())
		go func() {
			if err := s.grpc.Serve(lis); err != nil {
				s.logger.Error("gRPC serve error", "error", err)
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			s.logger.Error("failed to listen on address", "addr", s.cfg.MetricsAddr, "error", err)
			s.grpc.Stop()
			return err
		}
		s.metricsLis = lis
		s.logger.Info("metrics listening", "addr", lis.Addr().String())
		go func() {
			if err := s.metrics.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics serve error", "error", err)
			}
		}()
	}
	return nil
}

// SetServing flips the reported health of the whole server and the watch service.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(WatchService, status)
}

// GRPCAddr is the bound gRPC address, useful when configured with port 0.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// MetricsAddr is the bound metrics address.
func (s *Server) MetricsAddr() string {
	if s.metricsLis == nil {
		return ""
	}
	return s.metricsLis.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics shutdown", "error", err)
	}
	s.grpc.GracefulStop()
}
