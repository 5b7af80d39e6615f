// Package keepalive implements the keepalive supervisor: it keeps one
// registered task running, restarts it after it dies, and never runs two
// copies of it at once.
//
// Every call into the supervisor re-arms a short watchdog alarm, including
// calls that decide to do nothing. The alarm's fire calls RequestRun again, so
// the supervisor forms a low-frequency heartbeat that converges on "task is
// running" for as long as a handle is registered. There is no backoff and no
// retry limit: the watchdog period is the retry policy. A task that fails
// immediately on every start will therefore be restarted once per period
// indefinitely; keepalive_task_starts_total makes that visible.
package keepalive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/metrics"
	"github.com/HerbHall/keepalive/pkg/plugin"
)

// DefaultWatchdogDelay is the delay between a supervisor call and the next
// watchdog wake-up.
const DefaultWatchdogDelay = 5 * time.Second

// Options configures a Supervisor. Store, Alarm and Executor are required.
type Options struct {
	Store    HandleStore
	Alarm    Alarm
	Executor Executor

	// WatchdogDelay defaults to DefaultWatchdogDelay.
	WatchdogDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	Logger  *zap.Logger
	Bus     plugin.EventBus
	Metrics *metrics.Metrics
}

// Supervisor owns the task handle, running flag and watchdog for one task.
// It is safe for concurrent use.
type Supervisor struct {
	store    HandleStore
	alarm    Alarm
	executor Executor
	delay    time.Duration
	now      func() time.Time
	logger   *zap.Logger
	bus      plugin.EventBus
	metrics  *metrics.Metrics

	// running is the single-flight guard. It is only ever set through
	// CompareAndSwap on the request path.
	running atomic.Bool

	// regMu serializes changes to the persisted registration so that a
	// read-modify-write in SetForegroundMode cannot undo a Register.
	regMu sync.Mutex

	mu           sync.Mutex // guards the fields below and serializes executor starts
	current      Execution
	handle       TaskHandle
	lastOutcome  Outcome
	nextWake     time.Time
	starts       int64
	terminations int64
}

// New builds a supervisor. It does not touch the store or arm the alarm;
// call Run (or RequestRun) for that.
func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil || opts.Alarm == nil || opts.Executor == nil {
		return nil, errors.New("keepalive: store, alarm and executor are required")
	}
	if opts.WatchdogDelay <= 0 {
		opts.WatchdogDelay = DefaultWatchdogDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Supervisor{
		store:    opts.Store,
		alarm:    opts.Alarm,
		executor: opts.Executor,
		delay:    opts.WatchdogDelay,
		now:      opts.Now,
		logger:   opts.Logger,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
	}, nil
}

// Register persists the handle and foreground mode for future starts. It has
// no effect on a running execution; the last registration wins.
func (s *Supervisor) Register(ctx context.Context, handleID string, foreground bool) (TaskHandle, error) {
	if handleID == "" {
		return TaskHandle{}, errors.New("keepalive: empty task handle")
	}

	h := TaskHandle{ID: handleID, Foreground: foreground, RegisteredAt: s.now().UTC()}

	s.regMu.Lock()
	if err := s.store.Save(ctx, h); err != nil {
		s.regMu.Unlock()
		return TaskHandle{}, err
	}
	s.mu.Lock()
	if s.current == nil {
		s.handle = h
	}
	s.mu.Unlock()
	s.regMu.Unlock()

	s.logger.Info("task handle registered",
		zap.String("handle", h.ID),
		zap.Bool("foreground", h.Foreground),
	)
	s.publish(ctx, TopicTaskRegistered, TaskEvent{Handle: h, At: h.RegisteredAt})
	return h, nil
}

// Unregister clears the persisted handle. Combined with Stop it is a
// permanent stop: later watchdog fires find nothing to run.
func (s *Supervisor) Unregister(ctx context.Context) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("task handle cleared")
	return nil
}

// SetForegroundMode rewrites the persisted foreground flag of the current
// registration.
func (s *Supervisor) SetForegroundMode(ctx context.Context, foreground bool) (TaskHandle, error) {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	h, err := s.store.Load(ctx)
	if err != nil {
		return TaskHandle{}, err
	}
	h.Foreground = foreground
	if err := s.store.Save(ctx, h); err != nil {
		return TaskHandle{}, err
	}

	s.mu.Lock()
	if s.handle.ID == h.ID {
		s.handle.Foreground = foreground
	}
	s.mu.Unlock()

	s.logger.Info("foreground mode changed", zap.String("handle", h.ID), zap.Bool("foreground", foreground))
	return h, nil
}

// RequestRun makes sure the task is running. It is called on demand, on
// every watchdog fire and at process start, possibly concurrently. Failures
// are logged and reported through the outcome, never returned: the next
// watchdog fire retries.
//
// The watchdog is re-armed on every path before RequestRun returns.
func (s *Supervisor) RequestRun(ctx context.Context) (outcome Outcome) {
	defer func() {
		s.mu.Lock()
		s.lastOutcome = outcome
		s.mu.Unlock()
		s.metrics.RunRequest(outcome.String())
		s.arm()
	}()

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("run requested while task marked running")
		return OutcomeAlreadyRunning
	}

	outcome, ev := s.start(ctx)
	if ev != nil {
		s.publish(ctx, ev.Topic, ev.Payload)
	}
	return outcome
}

// start runs with the guard already won. It holds mu for the whole start so
// that an exit callback cannot observe the execution before it is recorded.
// The returned event, if any, is published after mu is released.
func (s *Supervisor) start(ctx context.Context) (Outcome, *plugin.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The flag may be stale (cleared by Stop while the old execution is still
	// winding down). The probe is authoritative; leave the flag set so both
	// agree until the execution reports its exit.
	if s.current != nil && s.current.Active() {
		s.logger.Warn("running flag was clear but execution is still active",
			zap.String("execution_id", s.current.ID()),
		)
		return OutcomeAlreadyRunning, nil
	}

	h, err := s.store.Load(ctx)
	if err != nil {
		s.running.Store(false)
		if errors.Is(err, ErrNoHandle) {
			return OutcomeNotRegistered, s.configError(OutcomeNotRegistered, "", err)
		}
		return OutcomeLookupFailed, s.configError(OutcomeLookupFailed, "", err)
	}

	exec, err := s.executor.Start(ctx, h, s.exited)
	if err != nil {
		s.running.Store(false)
		if errors.Is(err, ErrUnresolvable) {
			return OutcomeUnresolvable, s.configError(OutcomeUnresolvable, h.ID, err)
		}
		s.logger.Error("failed to start task",
			zap.String("handle", h.ID),
			zap.Error(err),
		)
		return OutcomeStartFailed, nil
	}

	s.current = exec
	s.handle = h
	s.starts++
	s.metrics.TaskStarted()

	s.logger.Info("task started",
		zap.String("handle", h.ID),
		zap.String("execution_id", exec.ID()),
		zap.Bool("foreground", h.Foreground),
	)
	return OutcomeStarted, &plugin.Event{
		Topic:   TopicTaskStarted,
		Payload: TaskEvent{Handle: h, ExecutionID: exec.ID(), At: s.now().UTC()},
	}
}

// OnTaskTerminated records that the execution ended, voluntarily or not. The
// state becomes idle and the watchdog is re-armed right away so a restart is
// attempted one delay from now. Calling it repeatedly is harmless.
func (s *Supervisor) OnTaskTerminated() {
	s.terminated(context.Background(), nil, nil)
}

// Stop tears down the current execution and marks the task idle. The
// watchdog is still re-armed, so the task comes back on the next fire unless
// the handle is also cleared with Unregister.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	exec := s.current
	s.mu.Unlock()

	if exec != nil && exec.Active() {
		s.logger.Info("stopping task", zap.String("execution_id", exec.ID()))
		exec.Terminate()
	}

	s.running.Store(false)
	s.metrics.SetRunning(false)
	s.arm()
}

// Run drives the supervisor until ctx is cancelled: one boot-time
// RequestRun, then one per watchdog fire.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("keepalive supervisor starting", zap.Duration("watchdog_delay", s.delay))

	s.RequestRun(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keepalive supervisor shutting down")
			return nil
		case at := <-s.alarm.C():
			s.logger.Debug("watchdog fired", zap.Time("at", at))
			s.RequestRun(ctx)
		}
	}
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State        State      `json:"state"`
	Handle       TaskHandle `json:"handle"`
	ExecutionID  string     `json:"execution_id,omitempty"`
	Active       bool       `json:"active"`
	LastOutcome  Outcome    `json:"last_outcome"`
	NextWake     time.Time  `json:"next_wake"`
	Starts       int64      `json:"starts"`
	Terminations int64      `json:"terminations"`
}

// Status returns the current supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:        StateIdle,
		Handle:       s.handle,
		LastOutcome:  s.lastOutcome,
		NextWake:     s.nextWake,
		Starts:       s.starts,
		Terminations: s.terminations,
	}
	if s.running.Load() {
		st.State = StateRunning
	}
	if s.current != nil {
		st.ExecutionID = s.current.ID()
		st.Active = s.current.Active()
	}
	return st
}

// Current returns the most recently started execution, or nil.
func (s *Supervisor) Current() Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// exited is the onExit callback handed to the executor. Exits of executions
// that have since been replaced only re-arm the watchdog.
func (s *Supervisor) exited(exec Execution, err error) {
	s.mu.Lock()
	isCurrent := s.current == exec
	s.mu.Unlock()

	if !isCurrent {
		s.logger.Debug("stale execution exited", zap.String("execution_id", exec.ID()))
		s.arm()
		return
	}
	s.terminated(context.Background(), exec, err)
}

func (s *Supervisor) terminated(ctx context.Context, exec Execution, err error) {
	s.running.Store(false)

	s.mu.Lock()
	s.terminations++
	h := s.handle
	s.mu.Unlock()

	s.metrics.TaskTerminated()
	s.arm()

	ev := TaskEvent{Handle: h, At: s.now().UTC()}
	fields := []zap.Field{zap.String("handle", h.ID)}
	if exec != nil {
		ev.ExecutionID = exec.ID()
		fields = append(fields, zap.String("execution_id", exec.ID()))
	}
	if err != nil {
		ev.Error = err.Error()
		fields = append(fields, zap.Error(err))
		s.logger.Warn("task terminated with error", fields...)
	} else {
		s.logger.Info("task terminated", fields...)
	}
	s.publish(ctx, TopicTaskTerminated, ev)
}

// arm schedules the next watchdog wake-up at now + delay.
func (s *Supervisor) arm() {
	at := s.now().Add(s.delay)
	if err := s.alarm.Arm(at); err != nil {
		s.logger.Error("failed to arm watchdog", zap.Time("at", at), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.nextWake = at
	s.mu.Unlock()
	s.metrics.WatchdogArmed()
}

// configError logs a non-fatal configuration problem and returns the event
// describing it.
func (s *Supervisor) configError(outcome Outcome, handle string, err error) *plugin.Event {
	s.logger.Error("task configuration error",
		zap.String("outcome", outcome.String()),
		zap.String("handle", handle),
		zap.Error(err),
	)
	return &plugin.Event{
		Topic: TopicConfigError,
		Payload: ConfigErrorEvent{
			Outcome: outcome,
			Handle:  handle,
			Reason:  err.Error(),
			At:      s.now().UTC(),
		},
	}
}

func (s *Supervisor) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, plugin.Event{
		Topic:     topic,
		Source:    "keepalive",
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}
