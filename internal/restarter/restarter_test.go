package restarter

import (
	"errors"
	"fmt"
	"testing"
)

func TestDetect_ReturnsNamedRestarter(t *testing.T) {
	r := Detect("")
	if r == nil {
		t.Fatal("Detect() returned nil, expected a Restarter")
	}
	if r.Name() == "" {
		t.Error("Name() returned empty string")
	}
	t.Logf("detected restarter: %s", r.Name())
}

func TestExecRestarter_Name(t *testing.T) {
	if got := (&execRestarter{}).Name(); got != "exec" {
		t.Errorf("Name() = %q, want %q", got, "exec")
	}
}

func TestErrExitToRestart_Wrapped(t *testing.T) {
	err := fmt.Errorf("restart: %w", ErrExitToRestart)
	if !errors.Is(err, ErrExitToRestart) {
		t.Error("errors.Is should see ErrExitToRestart through wrapping")
	}
}
