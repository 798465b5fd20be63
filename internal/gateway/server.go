package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgw/gateway/internal/config"
	"github.com/nexusgw/gateway/internal/logging"
)

// Server pairs a Gateway with the two listeners it needs: the main data
// plane and a small parallel admin surface for health/metrics/inspection.
type Server struct {
	gateway     *Gateway
	config      *config.Config
	httpServer  *http.Server
	adminServer *http.Server
}

// NewServer builds a Gateway from cfg and wraps it with both listeners.
func NewServer(cfg *config.Config) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway: gw,
		config:  cfg,
		httpServer: &http.Server{
			Addr:           cfg.Server.Address,
			Handler:        gw.Handler(),
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    cfg.Server.IdleTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:    cfg.Admin.Address,
			Handler: s.adminHandler(),
		}
	}

	return s, nil
}

// Run starts both listeners and blocks until an interrupt/terminate signal
// arrives, then drains within the configured timeout.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logging.Info("shutdown signal received")

	timeout := s.config.Server.DrainTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Start launches both listeners in the background and returns immediately.
func (s *Server) Start() error {
	go func() {
		logging.Info("gateway listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("gateway server error", zap.Error(err))
		}
	}()

	if s.adminServer != nil {
		go func() {
			logging.Info("admin surface listening", zap.String("address", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("admin server error", zap.Error(err))
			}
		}()
	}

	return nil
}

// Shutdown drains both listeners and closes the gateway's own resources.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.gateway.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Handler returns the data-plane handler, for embedding in tests or a
// custom listener setup.
func (s *Server) Handler() http.Handler { return s.gateway.Handler() }

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/live", s.handleHealth)
	mux.HandleFunc("/livez", s.handleHealth)
	mux.HandleFunc("/backends", s.handleBackends)
	mux.HandleFunc("/circuit-breakers", s.handleCircuitBreakers)
	mux.HandleFunc("/retries", s.handleRetries)
	mux.HandleFunc("/routes", s.handleRoutes)

	if s.config.Admin.Metrics.Enabled {
		path := s.config.Admin.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.HandleFunc(path, s.handleMetrics)
	}

	if s.gateway.GetAPIKeyAuth() != nil {
		mux.HandleFunc("/admin/keys", s.gateway.GetAPIKeyAuth().HandleAdminKeys)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.gateway.GetStats())
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.gateway.GetHealthChecker().GetAllStatus())
}

func (s *Server) handleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.gateway.GetCircuitBreakers().Snapshots())
}

func (s *Server) handleRetries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.gateway.GetRetryMetrics())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	switch s.config.Admin.Metrics.Format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.gateway.GetMetricsCollector().Snapshot())
	default:
		s.gateway.GetMetricsCollector().WritePrometheus(w, r)
	}
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	routes := s.gateway.Router().GetRoutes()
	ids := make([]string, 0, len(routes))
	for _, rt := range routes {
		ids = append(ids, rt.ID)
	}
	json.NewEncoder(w).Encode(ids)
}
