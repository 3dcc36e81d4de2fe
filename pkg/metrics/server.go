package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/nightcloud/nightfleet/pkg/log"
)

// Server exposes /metrics plus the health probe endpoints on a worker.
type Server struct {
	srv *http.Server
}

// NewServer builds the observability HTTP server on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	logger := log.WithComponent("metrics")
	logger.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
