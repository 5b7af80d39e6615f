package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/bridge"
	"github.com/HerbHall/keepalive/internal/keepalive"
)

// DefaultStopTimeout bounds how long a process task may take to exit after
// SIGTERM before it is killed.
const DefaultStopTimeout = 10 * time.Second

var _ keepalive.Executor = (*Executor)(nil)

// Env is what a running task receives.
type Env struct {
	Handle      keepalive.TaskHandle
	ExecutionID string
	Logger      *zap.Logger
	// Port is the task's end of the message bridge. Nil when the executor
	// has no hub.
	Port *bridge.Port
}

// Option configures an Executor.
type Option func(*Executor)

// WithHub attaches every execution to hub.
func WithHub(hub *bridge.Hub) Option {
	return func(e *Executor) { e.hub = hub }
}

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithStopTimeout overrides DefaultStopTimeout for process tasks that do not
// declare their own.
func WithStopTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stopTimeout = d }
}

// Executor starts executions from a Catalog.
type Executor struct {
	base        context.Context
	catalog     *Catalog
	hub         *bridge.Hub
	logger      *zap.Logger
	stopTimeout time.Duration
}

// NewExecutor creates an executor. Executions derive their context from
// base, not from the context passed to Start, so they outlive the request
// that started them and end when base is cancelled.
func NewExecutor(base context.Context, catalog *Catalog, opts ...Option) *Executor {
	e := &Executor{
		base:        base,
		catalog:     catalog,
		logger:      zap.NewNop(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start resolves h and launches it.
func (e *Executor) Start(ctx context.Context, h keepalive.TaskHandle, onExit func(keepalive.Execution, error)) (keepalive.Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, def, err := e.catalog.Lookup(h.ID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(e.base)
	x := &Execution{
		id:     uuid.NewString(),
		handle: h,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger := e.logger.With(zap.String("handle", h.ID), zap.String("execution_id", x.id))

	var port *bridge.Port
	if e.hub != nil {
		port = e.hub.Attach(x.id)
	}
	env := Env{Handle: h, ExecutionID: x.id, Logger: logger, Port: port}

	if fn != nil {
		x.active.Store(true)
		go e.runFunc(runCtx, x, fn, env, onExit)
		return x, nil
	}

	if err := e.startProcess(runCtx, x, def, env, onExit); err != nil {
		cancel()
		if port != nil {
			port.Detach()
		}
		return nil, err
	}
	return x, nil
}

func (e *Executor) runFunc(ctx context.Context, x *Execution, fn Func, env Env, onExit func(keepalive.Execution, error)) {
	err := safeCall(ctx, fn, env)
	env.Logger.Debug("task func returned", zap.Error(err))
	x.finish(env.Port, err, onExit)
}

// safeCall runs fn and converts a panic into an error.
func safeCall(ctx context.Context, fn Func, env Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, env)
}

// Execution is one run of a task.
type Execution struct {
	id     string
	handle keepalive.TaskHandle
	cancel context.CancelFunc
	done   chan struct{}

	active     atomic.Bool
	terminated atomic.Bool
	pid        int
	probe      func(pid int) bool

	mu  sync.Mutex
	err error
}

func (x *Execution) ID() string                   { return x.id }
func (x *Execution) Handle() keepalive.TaskHandle { return x.handle }

// Active reports whether the task is still running code. The active flag
// decides: it is cleared once the task returns or its process is reaped.
// For process tasks the OS is asked as well, which catches a child whose
// pid is gone; a zombie still answers kill(pid, 0) until it is reaped.
func (x *Execution) Active() bool {
	if !x.active.Load() {
		return false
	}
	if x.probe != nil {
		return x.probe(x.pid)
	}
	return true
}

// Terminate cancels the execution's context. Process tasks receive SIGTERM
// and are killed after their stop timeout.
func (x *Execution) Terminate() {
	x.terminated.Store(true)
	x.cancel()
}

// PID returns the child process ID, or 0 for in-process tasks.
func (x *Execution) PID() int { return x.pid }

// Done is closed once the execution has exited and onExit has returned.
func (x *Execution) Done() <-chan struct{} { return x.done }

// Err returns the exit error once Done is closed.
func (x *Execution) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

func (x *Execution) finish(port *bridge.Port, err error, onExit func(keepalive.Execution, error)) {
	if x.terminated.Load() && errors.Is(err, context.Canceled) {
		err = nil
	}
	x.mu.Lock()
	x.err = err
	x.mu.Unlock()

	x.active.Store(false)
	if port != nil {
		port.Detach()
	}
	x.cancel()
	if onExit != nil {
		onExit(x, err)
	}
	close(x.done)
}
