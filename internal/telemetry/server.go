package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves Prometheus metrics and liveness/readiness endpoints over
// HTTP, grounded on the teacher's internal/server/metrics_server.go.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	readyFn    func() error
}

// ServerConfig configures the telemetry HTTP endpoint.
type ServerConfig struct {
	Port int
	Path string
}

// NewServer creates a telemetry Server. readyFn is consulted by /ready
// and should return a descriptive error when this process should not yet
// receive traffic (e.g. ConfirmEpochLive failing).
func NewServer(cfg *ServerConfig, logger *zap.Logger, readyFn func() error) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:  logger,
		readyFn: readyFn,
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("starting telemetry server", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("telemetry server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping telemetry server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.readyFn != nil {
		if err := s.readyFn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not_ready","reason":%q}`, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ready","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}
