package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/keepalive"
	"github.com/HerbHall/keepalive/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// endedWindow bounds how many terminated execution IDs are remembered.
const endedWindow = 8

// Module drives the indicator from supervisor events.
//
// Started and terminated events for one execution are published from
// different goroutines and may arrive in either order. The module tracks
// execution IDs so that a late "started" for an execution already reported
// dead, or a late "terminated" for an execution that has been replaced, does
// not flip the indicator.
type Module struct {
	indicator *Indicator
	logger    *zap.Logger
	closers   []func()

	mu      sync.Mutex
	showing string
	ended   []string
}

// NewModule wraps indicator. closers run on Stop, e.g. MQTTPublisher.Close.
func NewModule(indicator *Indicator, closers ...func()) *Module {
	return &Module{indicator: indicator, logger: zap.NewNop(), closers: closers}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "notify",
		Version:      "0.1.0",
		Description:  "Persistent status indicator for the supervised task",
		Dependencies: []string{"keepalive"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	m.logger.Info("notify module initialized")
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error {
	for _, c := range m.closers {
		c()
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: keepalive.TopicTaskStarted, Handler: m.handleTaskStarted},
		{Topic: keepalive.TopicTaskTerminated, Handler: m.handleTaskTerminated},
	}
}

func (m *Module) handleTaskStarted(_ context.Context, e plugin.Event) {
	ev, ok := e.Payload.(keepalive.TaskEvent)
	if !ok {
		m.logger.Warn("unexpected payload", zap.String("topic", e.Topic))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ExecutionID != "" && m.hasEnded(ev.ExecutionID) {
		m.logger.Debug("ignoring start of an execution that already ended",
			zap.String("execution_id", ev.ExecutionID))
		return
	}
	m.showing = ev.ExecutionID
	m.indicator.TaskStarted(ev.Handle.Foreground)
}

func (m *Module) handleTaskTerminated(_ context.Context, e plugin.Event) {
	ev, _ := e.Payload.(keepalive.TaskEvent)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ExecutionID != "" {
		m.ended = append(m.ended, ev.ExecutionID)
		if len(m.ended) > endedWindow {
			m.ended = m.ended[len(m.ended)-endedWindow:]
		}
		if m.showing != "" && m.showing != ev.ExecutionID {
			m.logger.Debug("ignoring exit of a replaced execution",
				zap.String("execution_id", ev.ExecutionID),
				zap.String("showing", m.showing))
			return
		}
	}
	m.showing = ""
	m.indicator.TaskStopped()
}

func (m *Module) hasEnded(id string) bool {
	for _, e := range m.ended {
		if e == id {
			return true
		}
	}
	return false
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/indicator", Handler: m.handleIndicator},
	}
}

func (m *Module) handleIndicator(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.indicator.State())
}
