package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the Prometheus registry over HTTP on its own port, separate
// from the main API surface.
type Server struct {
	port   int
	logger logr.Logger
	srv    *http.Server
}

// NewServer constructs a metrics server bound to port.
func NewServer(port int, logger logr.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		port:   port,
		logger: logger,
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// StartAsync starts the server in a background goroutine and logs failures
// other than a clean shutdown.
func (s *Server) StartAsync() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(err, "metrics server stopped unexpectedly", "port", s.port)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
