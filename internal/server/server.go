// Package server hosts keepalived's control API: core routes, module routes
// mounted under /api/v1/{module}/, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/metrics"
	"github.com/HerbHall/keepalive/internal/registry"
	"github.com/HerbHall/keepalive/internal/restarter"
	"github.com/HerbHall/keepalive/internal/version"
	"github.com/HerbHall/keepalive/pkg/plugin"
)

// Server is the keepalived HTTP server.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	logger     *zap.Logger
	mux        *http.ServeMux

	metrics   *metrics.Metrics
	restarter restarter.Restarter
	onExit    func()
	limiter   *clientLimiter
	jwtSecret []byte
	extra     []RouteRegistrar
}

// RouteRegistrar adds core routes that do not belong to a module.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// WithRoutes registers additional core routes.
func WithRoutes(r ...RouteRegistrar) Option {
	return func(s *Server) { s.extra = append(s.extra, r...) }
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m at GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRestarter enables POST /api/v1/daemon/restart. onExit is called when
// the restarter needs the process to exit on its own.
func WithRestarter(r restarter.Restarter, onExit func()) Option {
	return func(s *Server) {
		s.restarter = r
		s.onExit = onExit
	}
}

// WithRateLimit limits each client to rps requests per second with the
// given burst. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newClientLimiter(rps, burst)
		}
	}
}

// WithJWTSecret requires an HS256 bearer token signed with secret on every
// route except health. An empty secret disables authentication.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

// New creates a new Server instance. Module routes are mounted from reg, so
// reg must be validated first.
func New(addr string, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		registry: reg,
		logger:   logger,
		mux:      mux,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.jwtSecret != nil {
		h = bearerAuth(s.jwtSecret, h)
	}
	if s.limiter != nil {
		h = s.limiter.middleware(h)
	}
	return h
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("POST /api/v1/daemon/restart", s.handleRestart)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	for _, r := range s.extra {
		r.RegisterRoutes(s.mux)
	}
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	for pluginName, routes := range s.registry.AllRoutes() {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string                         `json:"status"`
	Service   string                         `json:"service"`
	Version   map[string]string              `json:"version"`
	Restarter string                         `json:"restarter,omitempty"`
	Plugins   map[string]plugin.HealthStatus `json:"plugins"`
}

// handleHealth reports the worst status of any module. Degraded modules do
// not fail the check; unhealthy ones return 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  plugin.HealthOK,
		Service: "keepalived",
		Version: version.Map(),
		Plugins: s.registry.Health(r.Context()),
	}
	if s.restarter != nil {
		resp.Restarter = s.restarter.Name()
	}
	for _, hs := range resp.Plugins {
		switch hs.Status {
		case plugin.HealthUnhealthy:
			resp.Status = plugin.HealthUnhealthy
		case plugin.HealthDegraded:
			if resp.Status == plugin.HealthOK {
				resp.Status = plugin.HealthDegraded
			}
		}
	}

	status := http.StatusOK
	if resp.Status == plugin.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handlePlugins returns the list of registered plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	type pluginResponse struct {
		Name        string   `json:"name"`
		Version     string   `json:"version"`
		Description string   `json:"description"`
		Required    bool     `json:"required"`
		Requires    []string `json:"requires,omitempty"`
		Disabled    bool     `json:"disabled"`
	}
	plugins := s.registry.All()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		pi := p.Info()
		info = append(info, pluginResponse{
			Name:        pi.Name,
			Version:     pi.Version,
			Description: pi.Description,
			Required:    pi.Required,
			Requires:    pi.Dependencies,
			Disabled:    s.registry.IsDisabled(pi.Name),
		})
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleRestart accepts the request, then restarts the daemon once the
// response has been written.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.restarter == nil {
		Unavailable(w, "restart is not supported in this environment", r.URL.Path)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "restarting",
		"restarter": s.restarter.Name(),
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("daemon restart requested", zap.String("restarter", s.restarter.Name()))
		err := s.restarter.Restart(ctx)
		switch {
		case errors.Is(err, restarter.ErrExitToRestart):
			if s.onExit != nil {
				s.onExit()
			}
		case err != nil:
			s.logger.Error("daemon restart failed", zap.Error(err))
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Keepalive-Version", version.Short())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
