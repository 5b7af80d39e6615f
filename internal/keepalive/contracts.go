package keepalive

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared with HandleStore and Executor implementations.
var (
	// ErrNoHandle is returned by HandleStore.Load when nothing is registered.
	ErrNoHandle = errors.New("no task handle registered")

	// ErrUnresolvable is returned by Executor.Start when the handle does not
	// resolve to runnable code.
	ErrUnresolvable = errors.New("task handle cannot be resolved")
)

// HandleStore persists the task handle across process restarts.
type HandleStore interface {
	// Load returns the registered handle or ErrNoHandle.
	Load(ctx context.Context) (TaskHandle, error)
	// Save overwrites the registered handle.
	Save(ctx context.Context, h TaskHandle) error
	// Clear removes the registered handle. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Alarm is a one-shot, re-armable wake-up. Arming replaces any pending
// wake-up. Each fire is delivered on C.
type Alarm interface {
	Arm(at time.Time) error
	C() <-chan time.Time
}

// Executor starts execution contexts for task handles.
//
// The ctx passed to Start bounds only the start itself; the execution runs
// until it returns on its own or Terminate is called. onExit is invoked
// exactly once per execution, from a goroutine other than the one calling
// Start, after the execution has stopped running code. Immediate start
// failures are returned from Start and do not invoke onExit.
type Executor interface {
	Start(ctx context.Context, h TaskHandle, onExit func(Execution, error)) (Execution, error)
}

// Execution is a running (or finished) instance of the task.
type Execution interface {
	// ID uniquely identifies this execution context.
	ID() string
	// Handle returns the handle the execution was started from.
	Handle() TaskHandle
	// Active reports whether the execution is still running code.
	Active() bool
	// Terminate asks the execution to stop. It does not wait.
	Terminate()
}
