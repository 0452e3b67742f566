package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"PerpAMM/internal/ingestion"
	"PerpAMM/internal/observability"
	"PerpAMM/internal/query"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthSyncInterval is how often the gRPC health status follows the
// readiness checker.
const healthSyncInterval = 5 * time.Second

// Deps holds everything the servers serve.
type Deps struct {
	Query          *query.QueryService
	Ingest         *ingestion.SnapshotIngestService
	Health         *observability.HealthChecker
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Server runs the gRPC server (health and reflection) and the HTTP/JSON
// gateway.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	deps         Deps
	logger       zerolog.Logger
}

// NewServer registers every route. It fails only if a route pattern is
// rejected by the gateway mux.
func NewServer(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 5 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// grpcurl / grpcui
	reflection.Register(grpcServer)

	s := &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		logger:       deps.Logger,
	}
	handler, err := s.newHandler()
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// StartGRPC serves gRPC until ctx is cancelled (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go s.syncHealth(ctx)
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the gateway until ctx is cancelled (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP gateway shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) syncHealth(ctx context.Context) {
	ticker := time.NewTicker(healthSyncInterval)
	defer ticker.Stop()
	for {
		s.healthServer.SetServingStatus("", s.servingStatus())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) servingStatus() healthpb.HealthCheckResponse_ServingStatus {
	if s.deps.Health == nil || s.deps.Health.IsReady() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
