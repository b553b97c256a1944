// Package metrics exposes the Prometheus scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
)

// Server serves /metrics for Prometheus and /healthz for liveness probes.
type Server struct {
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates a metrics server listening on the given port. The
// server is not started until Start is called.
func NewServer(port int, logger core.ILogger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)

	return &Server{
		logger: logger.WithField("component", "metrics_server"),
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start begins serving in the background. Listen failures are logged, not
// returned; a missing scrape endpoint must not take trading down.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting Prometheus metrics server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping metrics server")
	return s.srv.Shutdown(ctx)
}
