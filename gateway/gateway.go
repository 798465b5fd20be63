// Package gateway is the gateway's public embedding surface: a thin
// lifecycle wrapper around internal/gateway for callers that want to run
// the gateway from their own process rather than cmd/gateway.
package gateway

import (
	"context"
	"net/http"

	"github.com/nexusgw/gateway/internal/config"
	igw "github.com/nexusgw/gateway/internal/gateway"
)

// Server wraps the internal gateway server, exposing only lifecycle and
// request-handling operations to external callers.
type Server struct {
	internal *igw.Server
}

// New builds a Server from cfg.
func New(cfg *config.Config) (*Server, error) {
	internal, err := igw.NewServer(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{internal: internal}, nil
}

// Run starts the server and blocks until an interrupt/terminate signal
// arrives, then drains within the configured timeout.
func (s *Server) Run() error { return s.internal.Run() }

// Start launches the server in the background and returns immediately.
func (s *Server) Start() error { return s.internal.Start() }

// Shutdown drains the server's listeners.
func (s *Server) Shutdown(ctx context.Context) error { return s.internal.Shutdown(ctx) }

// Handler returns the data-plane HTTP handler, for embedding in a caller's
// own listener or test harness.
func (s *Server) Handler() http.Handler { return s.internal.Handler() }
