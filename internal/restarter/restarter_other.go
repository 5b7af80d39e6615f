//go:build !windows

package restarter

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// env is the slice of the host the detection looks at.
type env struct {
	exists   func(path string) bool
	lookPath func(file string) (string, error)
}

func defaultEnv() env {
	return env{
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		lookPath: exec.LookPath,
	}
}

// detectPlatform returns the best restarter for the current Linux/Unix environment.
func detectPlatform(service string, e env) Restarter {
	if e.exists("/.dockerenv") {
		return &dockerRestarter{}
	}
	if e.exists("/run/systemd/system") {
		return &systemdRestarter{service: service}
	}
	if _, err := e.lookPath("rc-service"); err == nil {
		return &openrcRestarter{service: service}
	}
	return &execRestarter{}
}

// dockerRestarter relies on the container restart policy
// (e.g. --restart=unless-stopped).
type dockerRestarter struct{}

func (r *dockerRestarter) Name() string { return "docker" }
func (r *dockerRestarter) Restart(_ context.Context) error {
	return ErrExitToRestart
}

type systemdRestarter struct{ service string }

func (r *systemdRestarter) Name() string { return "systemd" }
func (r *systemdRestarter) Restart(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "systemctl", "restart", r.service)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("systemctl restart %s: %w", r.service, err)
	}
	// Don't wait -- systemctl will kill and restart us.
	return nil
}

type openrcRestarter struct{ service string }

func (r *openrcRestarter) Name() string { return "openrc" }
func (r *openrcRestarter) Restart(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "rc-service", r.service, "restart")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("rc-service %s restart: %w", r.service, err)
	}
	return nil
}

// execRestarter replaces the current process image with a fresh copy of
// the binary.
type execRestarter struct{}

func (r *execRestarter) Name() string { return "exec" }
func (r *execRestarter) Restart(_ context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	return unix.Exec(exe, os.Args, os.Environ())
}
