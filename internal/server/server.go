package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ralphctl/coordinator/internal/config"
	"github.com/ralphctl/coordinator/internal/coordinator"
	"github.com/ralphctl/coordinator/pkg/logging"
)

// HTTPServer wraps a Server with an *http.Server, giving it a listening
// address and graceful shutdown.
type HTTPServer struct {
	httpServer *http.Server
}

// NewHTTPServer builds an HTTPServer bound to addr, serving coord's Control
// API. It does not start listening until Serve is called.
func NewHTTPServer(addr string, coord *coordinator.Coordinator, creds config.Credentials) *HTTPServer {
	return &HTTPServer{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: New(coord, creds),
		},
	}
}

// Serve starts listening and blocks until the server stops, either because
// Shutdown was called (in which case Serve returns nil) or because
// ListenAndServe failed for another reason.
func (s *HTTPServer) Serve() error {
	logging.Info(serverSubsystem, "listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control API server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests (including open event streams) to finish or ctx to expire.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	logging.Info(serverSubsystem, "shutting down")
	return s.httpServer.Shutdown(ctx)
}
