package bridge

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module exposes the hub to foreground clients over WebSocket.
type Module struct {
	hub    *Hub
	logger *zap.Logger
	ws     *WebSocketHandler
}

// NewModule wraps hub.
func NewModule(hub *Hub) *Module {
	return &Module{hub: hub, logger: zap.NewNop()}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "bridge",
		Version:      "0.1.0",
		Description:  "Message bridge between foreground clients and the supervised task",
		Dependencies: []string{"keepalive"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	var origins []string
	if deps.Config != nil {
		origins = deps.Config.GetStringSlice("allowed_origins")
	}
	m.ws = NewWebSocketHandler(m.hub, m.logger, origins)
	m.logger.Info("bridge module initialized", zap.Strings("allowed_origins", origins))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("bridge module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("bridge module stopped")
	return nil
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/ws", Handler: m.ws.ServeHTTP},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status: plugin.HealthOK,
		Details: map[string]string{
			"task_attached": strconv.FormatBool(m.hub.Attached()),
			"clients":       strconv.Itoa(m.hub.Clients()),
		},
	}
}
