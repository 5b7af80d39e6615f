// Package registry manages keepalived module lifecycle: dependency
// validation and ordering, init, start and reverse-order stop.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/pkg/plugin"
)

// Registry holds the registered modules. Modules are initialized and started
// in dependency order and stopped in reverse.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	order    []string
	disabled map[string]string
	started  []string
	unsubs   []func()
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]string),
	}
}

// Register adds a module. Names must be unique and non-empty.
func (r *Registry) Register(p plugin.Plugin) error {
	info := p.Info()
	if info.Name == "" {
		return errors.New("plugin name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}
	r.plugins[info.Name] = p
	r.order = append(r.order, info.Name)
	r.logger.Info("plugin registered", zap.String("name", info.Name), zap.String("version", info.Version))
	return nil
}

// Disable marks a module as disabled before validation, e.g. because its
// configuration turns it off.
func (r *Registry) Disable(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disableLocked(name, reason)
}

// IsDisabled reports whether the module was disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.disabled[name]
	return ok
}

// Validate checks API versions and dependencies, disables optional modules
// that cannot run (and everything depending on them), and sorts the modules
// so that dependencies come first.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		info := r.plugins[name].Info()
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			reason := fmt.Sprintf("API version %d outside supported range [%d, %d]",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
			if info.Required {
				return fmt.Errorf("plugin %q: %s", name, reason)
			}
			r.disableLocked(name, reason)
			continue
		}
		for _, dep := range info.Dependencies {
			if _, ok := r.plugins[dep]; ok {
				continue
			}
			reason := fmt.Sprintf("missing dependency %q", dep)
			if info.Required {
				return fmt.Errorf("plugin %q: %s", name, reason)
			}
			r.disableLocked(name, reason)
		}
	}

	sorted, err := r.sortLocked()
	if err != nil {
		return err
	}
	r.order = sorted

	return r.cascadeLocked()
}

// sortLocked orders modules depth-first so each follows its dependencies.
// Registration order breaks ties.
func (r *Registry) sortLocked() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.order))
	sorted := make([]string, 0, len(r.order))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %v", append(path, name))
		}
		state[name] = visiting
		for _, dep := range r.plugins[name].Info().Dependencies {
			if _, ok := r.plugins[dep]; !ok {
				continue
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		sorted = append(sorted, name)
		return nil
	}

	for _, name := range r.order {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// cascadeLocked disables modules whose dependencies are disabled. r.order
// must already be sorted.
func (r *Registry) cascadeLocked() error {
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		info := r.plugins[name].Info()
		for _, dep := range info.Dependencies {
			if _, off := r.disabled[dep]; !off {
				continue
			}
			reason := fmt.Sprintf("dependency %q is disabled", dep)
			if info.Required {
				return fmt.Errorf("plugin %q: %s", name, reason)
			}
			r.disableLocked(name, reason)
			break
		}
	}
	return nil
}

func (r *Registry) disableLocked(name, reason string) {
	if _, already := r.disabled[name]; already {
		return
	}
	r.disabled[name] = reason
	r.logger.Warn("plugin disabled", zap.String("name", name), zap.String("reason", reason))
}

// InitAll initializes enabled modules in order. deps builds the dependencies
// handed to each module. A failing optional module is disabled; a failing
// required module aborts.
func (r *Registry) InitAll(ctx context.Context, deps func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		if err := r.cascadeLocked(); err != nil {
			return err
		}
		if _, off := r.disabled[name]; off {
			continue
		}

		p := r.plugins[name]
		info := p.Info()
		d := deps(name)

		r.logger.Info("initializing plugin", zap.String("name", name))
		err := p.Init(ctx, d)
		if err == nil {
			if v, ok := p.(plugin.Validator); ok {
				err = v.ValidateConfig()
			}
		}
		if err != nil {
			if info.Required {
				return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
			}
			r.disableLocked(name, "init failed: "+err.Error())
			continue
		}

		if es, ok := p.(plugin.EventSubscriber); ok && d.Bus != nil {
			for _, sub := range es.Subscriptions() {
				if sub.Topic == "" {
					r.unsubs = append(r.unsubs, d.Bus.SubscribeAll(sub.Handler))
				} else {
					r.unsubs = append(r.unsubs, d.Bus.Subscribe(sub.Topic, sub.Handler))
				}
			}
		}
	}
	return nil
}

// StartAll starts initialized modules in order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		p := r.plugins[name]
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			if p.Info().Required {
				return fmt.Errorf("failed to start plugin %q: %w", name, err)
			}
			r.disableLocked(name, "start failed: "+err.Error())
			continue
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops started modules in reverse order and drops their event
// subscriptions. Errors are logged.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil

	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns every module in lifecycle order, including disabled ones.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// AllRoutes returns the routes of enabled HTTPProvider modules keyed by name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		hp, ok := r.plugins[name].(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}

// Health collects the status of enabled HealthChecker modules.
func (r *Registry) Health(ctx context.Context) map[string]plugin.HealthStatus {
	r.mu.RLock()
	checkers := make(map[string]plugin.HealthChecker)
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		if hc, ok := r.plugins[name].(plugin.HealthChecker); ok {
			checkers[name] = hc
		}
	}
	r.mu.RUnlock()

	out := make(map[string]plugin.HealthStatus, len(checkers))
	for name, hc := range checkers {
		out[name] = hc.Health(ctx)
	}
	return out
}
