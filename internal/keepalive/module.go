package keepalive

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module runs the supervisor loop inside the daemon and exposes its control
// routes.
type Module struct {
	sup    *Supervisor
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewModule wraps sup.
func NewModule(sup *Supervisor) *Module {
	return &Module{sup: sup, logger: zap.NewNop()}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "keepalive",
		Version:     "0.1.0",
		Description: "Keeps the registered task running and restarts it after it dies",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if m.sup == nil {
		return errors.New("keepalive: no supervisor")
	}
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	m.logger.Info("keepalive module initialized", zap.Duration("watchdog_delay", m.sup.delay))
	return nil
}

// Start launches the supervisor loop. Its first iteration is the boot-time
// run request.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("keepalive: already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		if err := m.sup.Run(runCtx); err != nil {
			m.logger.Error("supervisor loop ended", zap.Error(err))
		}
	}()
	return nil
}

// Stop ends the supervisor loop. The task itself keeps running until the
// executor's base context is cancelled.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health implements plugin.HealthChecker. A registered handle that cannot
// be started reports degraded.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	st := m.sup.Status()
	hs := plugin.HealthStatus{
		Status: plugin.HealthOK,
		Details: map[string]string{
			"state":        st.State.String(),
			"last_outcome": st.LastOutcome.String(),
		},
	}
	switch st.LastOutcome {
	case OutcomeUnresolvable, OutcomeStartFailed, OutcomeLookupFailed:
		hs.Status = plugin.HealthDegraded
		hs.Message = "task cannot be started"
	}
	return hs
}
