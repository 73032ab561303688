package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/irensaltali/serverlessapigateway/internal/config"
	"github.com/irensaltali/serverlessapigateway/internal/logging"
	"github.com/irensaltali/serverlessapigateway/internal/metrics"
	"github.com/irensaltali/serverlessapigateway/internal/middleware"
	"github.com/irensaltali/serverlessapigateway/internal/tracing"
)

// ServerConfig holds listener settings.
type ServerConfig struct {
	// Listen is the address of the gateway listener.
	Listen string
	// Admin is the address of the health and metrics listener. Empty
	// disables it.
	Admin string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig provides default listener settings
var DefaultServerConfig = ServerConfig{
	Listen:          ":8080",
	Admin:           ":8081",
	ReadTimeout:     30 * time.Second,
	WriteTimeout:    30 * time.Second,
	IdleTimeout:     120 * time.Second,
	ShutdownTimeout: 30 * time.Second,
}

// Server wraps the gateway with HTTP server functionality
type Server struct {
	gateway     *Gateway
	config      ServerConfig
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
	watcher     *config.Watcher
	httpServer  *http.Server
	adminServer *http.Server
	startTime   time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics serves c on the admin listener and records every request.
func WithMetrics(c *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = c }
}

// WithTracer wraps the gateway in a root span per request.
func WithTracer(t *tracing.Tracer) ServerOption {
	return func(s *Server) { s.tracer = t }
}

// WithWatcher reloads w on SIGHUP and stops it on shutdown.
func WithWatcher(w *config.Watcher) ServerOption {
	return func(s *Server) { s.watcher = w }
}

// NewServer creates a server for gw.
func NewServer(gw *Gateway, cfg ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		gateway:   gw,
		config:    cfg,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if cfg.Admin != "" {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}
	return s
}

// Handler returns the gateway wrapped in the request middleware chain.
func (s *Server) Handler() http.Handler {
	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
	)
	chain = chain.AppendIf(s.tracer.IsEnabled(), s.tracer.Middleware())
	if s.metrics != nil {
		chain = chain.Append(s.metrics.Middleware())
	}
	chain = chain.Append(middleware.Logging())
	return chain.Then(s.gateway)
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then shuts
// down gracefully. SIGHUP reloads the watched configuration file.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serve(s.httpServer, "gateway")
	})
	if s.adminServer != nil {
		g.Go(func() error {
			return s.serve(s.adminServer, "admin")
		})
	}
	g.Go(func() error {
		s.reloadOnHangup(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logging.Info("Shutting down gracefully...")
		return s.Shutdown(s.config.ShutdownTimeout)
	})

	return g.Wait()
}

func (s *Server) serve(srv *http.Server, name string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	logging.Info("Starting listener",
		zap.String("listener", name),
		zap.String("address", ln.Addr().String()),
	)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if s.watcher == nil {
				logging.Info("SIGHUP ignored: configuration is not file-watched")
				continue
			}
			s.watcher.Reload()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown gracefully shuts down the servers
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultServerConfig.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			logging.Error("Admin server shutdown error", zap.Error(err))
		}
	}

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logging.Error("Gateway server shutdown error", zap.Error(err))
	}

	if s.watcher != nil {
		if werr := s.watcher.Stop(); werr != nil {
			logging.Warn("Config watcher stop error", zap.Error(werr))
		}
	}
	if terr := s.tracer.Close(ctx); terr != nil {
		logging.Warn("Tracer shutdown error", zap.Error(terr))
	}

	logging.Info("Server shutdown complete")
	return err
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/routes", s.handleRoutes)
	mux.HandleFunc("/services", s.handleServices)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeAdminJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// handleReady reports ready once the configuration source yields a document.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	cfg, err := s.gateway.Source().Load(ctx)
	if err != nil || cfg == nil {
		body := map[string]interface{}{
			"status": "not_ready",
			"source": s.gateway.Source().Name(),
		}
		if err != nil {
			body["error"] = err.Error()
		}
		writeAdminJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	writeAdminJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"source": s.gateway.Source().Name(),
		"routes": len(cfg.Paths),
	})
}

type routeSummary struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Auth        bool   `json:"auth"`
	Integration string `json:"integration"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.gateway.Source().Load(r.Context())
	if err != nil || cfg == nil {
		writeAdminJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}

	routes := make([]routeSummary, 0, len(cfg.Paths))
	for _, p := range cfg.Paths {
		integration := "response"
		if p.Integration != nil {
			integration = string(p.Integration.Type)
		}
		routes = append(routes, routeSummary{
			Method:      p.Method,
			Path:        p.Path,
			Auth:        p.Auth,
			Integration: integration,
		})
	}
	writeAdminJSON(w, http.StatusOK, routes)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeAdminJSON(w, http.StatusOK, map[string]interface{}{
		"entrypoints": s.gateway.Registry().Entrypoints(),
	})
}

func writeAdminJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
