//go:build windows

package restarter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

type env struct {
	installed func(service string) bool
}

func defaultEnv() env {
	return env{installed: serviceInstalled}
}

func serviceInstalled(service string) bool {
	m, err := mgr.Connect()
	if err != nil {
		return false
	}
	defer m.Disconnect()
	s, err := m.OpenService(service)
	if err != nil {
		return false
	}
	s.Close()
	return true
}

// detectPlatform returns the best restarter for Windows.
func detectPlatform(service string, e env) Restarter {
	if e.installed(service) {
		return &serviceRestarter{service: service}
	}
	return &execRestarter{}
}

// serviceRestarter stops the service and, once it reports stopped, starts
// it again through the service control manager.
type serviceRestarter struct{ service string }

func (r *serviceRestarter) Name() string { return "windows-service" }
func (r *serviceRestarter) Restart(ctx context.Context) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(r.service)
	if err != nil {
		return fmt.Errorf("open service %s: %w", r.service, err)
	}
	defer s.Close()

	if _, err := s.Control(svc.Stop); err != nil {
		return fmt.Errorf("stop service %s: %w", r.service, err)
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := s.Query()
		if err != nil {
			return fmt.Errorf("query service %s: %w", r.service, err)
		}
		if st.State == svc.Stopped {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start service %s: %w", r.service, err)
	}
	return nil
}

// execRestarter starts a new copy of the binary and asks the caller to exit.
type execRestarter struct{}

func (r *execRestarter) Name() string { return "exec" }
func (r *execRestarter) Restart(_ context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start new process: %w", err)
	}
	return ErrExitToRestart
}
