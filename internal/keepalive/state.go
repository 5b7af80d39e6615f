package keepalive

import "fmt"

// State is the supervisor's view of the task.
type State int

const (
	// StateIdle means no execution context is believed to be running.
	StateIdle State = iota
	// StateRunning means an execution context has been started and has not
	// reported termination.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome describes what a single RequestRun call did.
type Outcome int

const (
	// OutcomeNone is reported before the first RequestRun.
	OutcomeNone Outcome = iota
	// OutcomeStarted means a new execution context was started.
	OutcomeStarted
	// OutcomeAlreadyRunning means the single-flight guard absorbed the request.
	OutcomeAlreadyRunning
	// OutcomeNotRegistered means no task handle has been registered.
	OutcomeNotRegistered
	// OutcomeLookupFailed means the persisted handle could not be read.
	OutcomeLookupFailed
	// OutcomeUnresolvable means the handle does not map to runnable code.
	OutcomeUnresolvable
	// OutcomeStartFailed means the executor could not start the task.
	OutcomeStartFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeStarted:
		return "started"
	case OutcomeAlreadyRunning:
		return "already_running"
	case OutcomeNotRegistered:
		return "not_registered"
	case OutcomeLookupFailed:
		return "lookup_failed"
	case OutcomeUnresolvable:
		return "unresolvable"
	case OutcomeStartFailed:
		return "start_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText lets State and Outcome render as strings in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MarshalText renders the outcome name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }
