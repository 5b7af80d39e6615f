package plugin

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// API versions a module may declare. Modules outside [APIVersionMin,
// APIVersionCurrent] are disabled during validation.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a module to the registry.
type PluginInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
	// Required modules abort startup when they cannot be validated or
	// initialized. Optional ones are disabled instead.
	Required   bool `json:"required"`
	APIVersion int  `json:"api_version"`
}

// Plugin is the lifecycle contract every keepalived module implements.
type Plugin interface {
	Info() PluginInfo
	Init(ctx context.Context, deps Dependencies) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Dependencies are handed to a module at Init. Any field may be nil in tests.
type Dependencies struct {
	Config Config
	Logger *zap.Logger
	Store  Store
	Bus    EventBus
}

// Config is the read-only configuration view a module receives, scoped to
// its own section.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	IsSet(key string) bool
	Sub(key string) Config
	Unmarshal(target any) error
}

// Route is an HTTP route exposed by a module, mounted under /api/v1/{name}.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Subscription binds an event handler to a topic. An empty topic receives
// every event.
type Subscription struct {
	Topic   string
	Handler EventHandler
}
