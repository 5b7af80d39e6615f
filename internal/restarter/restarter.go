// Package restarter restarts keepalived through whatever init system runs it.
// After a restart the supervisor's boot request brings the registered task
// back.
package restarter

import (
	"context"
	"errors"
)

// ServiceName is the unit/service name keepalived is installed under.
const ServiceName = "keepalived"

// ErrExitToRestart is returned by restarters that rely on the process
// exiting cleanly. The caller should shut down and exit with status 0.
var ErrExitToRestart = errors.New("restarter: exit so the init system restarts the process")

// Restarter abstracts process restart across init systems.
type Restarter interface {
	// Name returns the init system name (e.g., "systemd", "docker", "exec").
	Name() string
	// Restart requests a process restart via the init system.
	Restart(ctx context.Context) error
}

// Detect returns a Restarter for the current environment managing the named
// service. An empty service means ServiceName.
func Detect(service string) Restarter {
	if service == "" {
		service = ServiceName
	}
	return detectPlatform(service, defaultEnv())
}
