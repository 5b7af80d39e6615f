package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/keepalive/internal/keepalive"
)

// Compile-time interface checks.
var (
	_ keepalive.Alarm     = (*FakeAlarm)(nil)
	_ keepalive.Executor  = (*FakeExecutor)(nil)
	_ keepalive.Execution = (*FakeExecution)(nil)
)

// FakeAlarm records arm calls. Fires are triggered explicitly with Fire.
type FakeAlarm struct {
	mu   sync.Mutex
	arms []time.Time
	c    chan time.Time
}

// NewFakeAlarm returns an alarm with a one-slot fire channel.
func NewFakeAlarm() *FakeAlarm {
	return &FakeAlarm{c: make(chan time.Time, 1)}
}

func (a *FakeAlarm) Arm(at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.arms = append(a.arms, at)
	return nil
}

func (a *FakeAlarm) C() <-chan time.Time { return a.c }

// Fire delivers the last armed time, dropping it if a fire is already queued.
func (a *FakeAlarm) Fire() {
	at, _ := a.Last()
	select {
	case a.c <- at:
	default:
	}
}

// Last returns the most recent armed time.
func (a *FakeAlarm) Last() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.arms) == 0 {
		return time.Time{}, false
	}
	return a.arms[len(a.arms)-1], true
}

// Count returns the number of Arm calls.
func (a *FakeAlarm) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.arms)
}

// FakeExecutor hands out FakeExecutions.
type FakeExecutor struct {
	// Err, when set, is returned by Start.
	Err error
	// Gate, when non-nil, blocks Start until it is closed.
	Gate chan struct{}

	mu    sync.Mutex
	execs []*FakeExecution
}

func (e *FakeExecutor) Start(ctx context.Context, h keepalive.TaskHandle, onExit func(keepalive.Execution, error)) (keepalive.Execution, error) {
	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}

	x := &FakeExecution{id: uuid.NewString(), handle: h, onExit: onExit}
	x.active.Store(true)

	e.mu.Lock()
	e.execs = append(e.execs, x)
	e.mu.Unlock()
	return x, nil
}

// Starts returns the number of successful starts.
func (e *FakeExecutor) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.execs)
}

// Last returns the most recent execution, or nil.
func (e *FakeExecutor) Last() *FakeExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.execs) == 0 {
		return nil
	}
	return e.execs[len(e.execs)-1]
}

// FakeExecution is a controllable execution. Terminate exits it with a nil
// error unless IgnoreTerminate is set.
type FakeExecution struct {
	id     string
	handle keepalive.TaskHandle
	onExit func(keepalive.Execution, error)

	// IgnoreTerminate keeps the execution active after Terminate, like a
	// task still winding down.
	IgnoreTerminate atomic.Bool

	active     atomic.Bool
	terminated atomic.Bool
	exitOnce   sync.Once
}

func (x *FakeExecution) ID() string                   { return x.id }
func (x *FakeExecution) Handle() keepalive.TaskHandle { return x.handle }
func (x *FakeExecution) Active() bool                 { return x.active.Load() }

func (x *FakeExecution) Terminate() {
	x.terminated.Store(true)
	if !x.IgnoreTerminate.Load() {
		x.Exit(nil)
	}
}

// Terminated reports whether Terminate was called.
func (x *FakeExecution) Terminated() bool { return x.terminated.Load() }

// Exit stops the execution and reports it once through onExit.
func (x *FakeExecution) Exit(err error) {
	x.exitOnce.Do(func() {
		x.active.Store(false)
		if x.onExit != nil {
			x.onExit(x, err)
		}
	})
}

// Die marks the execution inactive without reporting it, like a process
// killed before it could tell anyone.
func (x *FakeExecution) Die() {
	x.active.Store(false)
}
