package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/HerbHall/keepalive/internal/keepalive"
)

const sampleCatalog = `
tasks:
  - id: sync
    command: ["/usr/local/bin/sync-worker", "--once"]
    dir: /var/lib/sync
    env:
      SYNC_TARGET: s3://bucket
    stop_timeout: 3s
  - id: beacon
    command: ["beacon"]
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}

	if got := c.IDs(); !slices.Equal(got, []string{"beacon", "sync"}) {
		t.Errorf("IDs() = %v, want [beacon sync]", got)
	}

	fn, def, err := c.Lookup("sync")
	if err != nil {
		t.Fatalf("Lookup(sync): %v", err)
	}
	if fn != nil {
		t.Error("process task resolved to a Func")
	}
	if def == nil {
		t.Fatal("Lookup(sync) returned no definition")
	}
	if !slices.Equal(def.Command, []string{"/usr/local/bin/sync-worker", "--once"}) {
		t.Errorf("Command = %v", def.Command)
	}
	if def.Dir != "/var/lib/sync" {
		t.Errorf("Dir = %q, want /var/lib/sync", def.Dir)
	}
	if def.Env["SYNC_TARGET"] != "s3://bucket" {
		t.Errorf("Env[SYNC_TARGET] = %q, want s3://bucket", def.Env["SYNC_TARGET"])
	}
	if def.StopTimeout != 3*time.Second {
		t.Errorf("StopTimeout = %v, want 3s", def.StopTimeout)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "tasks: [unterminated"},
		{"missing id", "tasks:\n  - command: [x]\n"},
		{"missing command", "tasks:\n  - id: a\n"},
		{"duplicate id", "tasks:\n  - id: a\n    command: [x]\n  - id: a\n    command: [y]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if n := len(c.IDs()); n != 2 {
		t.Errorf("loaded %d tasks, want 2", n)
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadCatalog(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestCatalog_RegisterFunc(t *testing.T) {
	c := NewCatalog()
	noop := func(context.Context, Env) error { return nil }

	if err := c.Register("inproc", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Register("inproc", noop); err == nil {
		t.Error("duplicate func id: expected error")
	}
	if err := c.Add(Definition{ID: "inproc", Command: []string{"x"}}); err == nil {
		t.Error("process task reusing a func id: expected error")
	}
	if err := c.Register("", noop); err == nil {
		t.Error("empty id: expected error")
	}

	fn, def, err := c.Lookup("inproc")
	if err != nil {
		t.Fatalf("Lookup(inproc): %v", err)
	}
	if fn == nil || def != nil {
		t.Errorf("Lookup(inproc) = fn %v def %v, want a Func only", fn != nil, def)
	}
}

func TestCatalog_LookupMiss(t *testing.T) {
	if _, _, err := NewCatalog().Lookup("ghost"); !errors.Is(err, keepalive.ErrUnresolvable) {
		t.Errorf("Lookup(ghost) error = %v, want ErrUnresolvable", err)
	}
}
