package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/health"
)

// OpsServer serves Prometheus metrics and health probes over HTTP.
type OpsServer struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// OpsServerConfig holds configuration for the operational server
type OpsServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MetricsEnabled bool
	MetricsPath    string
}

// NewOpsServer creates a new operational HTTP server.
func NewOpsServer(cfg *OpsServerConfig, hc *health.HealthChecker, logger *zap.Logger) *OpsServer {
	router := mux.NewRouter()

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	}

	router.HandleFunc("/health/live", hc.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", hc.ReadinessHandler).Methods(http.MethodGet)

	return &OpsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the operational server.
func (s *OpsServer) Start() {
	s.logger.Info("Starting operational server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Operational server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully stops the operational server.
func (s *OpsServer) Stop(timeout time.Duration) error {
	s.logger.Info("Stopping operational server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("operational server shutdown failed: %w", err)
	}
	return nil
}
