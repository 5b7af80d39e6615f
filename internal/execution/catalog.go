// Package execution turns task handles into running execution contexts:
// in-process Go funcs registered by the embedding program, or child
// processes declared in a YAML task catalog.
package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/keepalive/internal/keepalive"
)

// Func is an in-process task body. It should return when ctx is done.
// Returning nil is a normal exit; an error or panic is an abnormal one.
// Either way the supervisor restarts the task on its next watchdog fire.
type Func func(ctx context.Context, env Env) error

// Definition declares a process task.
type Definition struct {
	ID          string            `yaml:"id"`
	Command     []string          `yaml:"command"`
	Dir         string            `yaml:"dir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	StopTimeout time.Duration     `yaml:"stop_timeout,omitempty"`
}

type catalogFile struct {
	Tasks []Definition `yaml:"tasks"`
}

// Catalog maps handle IDs to runnable code.
type Catalog struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	funcs map[string]Func
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		defs:  make(map[string]Definition),
		funcs: make(map[string]Func),
	}
}

// LoadCatalog reads a YAML task file. A missing file yields an error that
// matches os.ErrNotExist.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a catalog document of the form
//
//	tasks:
//	  - id: sync
//	    command: ["/usr/local/bin/sync-worker", "--once"]
//	    env: {SYNC_TARGET: "s3://bucket"}
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task catalog: %w", err)
	}
	c := NewCatalog()
	for _, d := range f.Tasks {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add declares a process task. IDs are unique across processes and funcs.
func (c *Catalog) Add(d Definition) error {
	if d.ID == "" {
		return errors.New("task definition without id")
	}
	if len(d.Command) == 0 || d.Command[0] == "" {
		return fmt.Errorf("task %q: command is required", d.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.existsLocked(d.ID) {
		return fmt.Errorf("task %q already defined", d.ID)
	}
	c.defs[d.ID] = d
	return nil
}

// Register binds an in-process func to a handle ID.
func (c *Catalog) Register(id string, fn Func) error {
	if id == "" || fn == nil {
		return errors.New("task id and func are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.existsLocked(id) {
		return fmt.Errorf("task %q already defined", id)
	}
	c.funcs[id] = fn
	return nil
}

func (c *Catalog) existsLocked(id string) bool {
	_, isDef := c.defs[id]
	_, isFunc := c.funcs[id]
	return isDef || isFunc
}

// Lookup resolves a handle ID. Exactly one of the results is set when err
// is nil; a miss returns an error wrapping keepalive.ErrUnresolvable.
func (c *Catalog) Lookup(id string) (Func, *Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if fn, ok := c.funcs[id]; ok {
		return fn, nil, nil
	}
	if d, ok := c.defs[id]; ok {
		return nil, &d, nil
	}
	return nil, nil, fmt.Errorf("%w: no task %q in catalog", keepalive.ErrUnresolvable, id)
}

// IDs returns every known handle ID, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.defs)+len(c.funcs))
	for id := range c.defs {
		ids = append(ids, id)
	}
	for id := range c.funcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
