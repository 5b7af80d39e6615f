// Package config wraps viper behind the plugin.Config interface and loads
// keepalived's configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/keepalive/pkg/plugin"
)

// EnvPrefix is prepended to environment overrides, e.g. KEEPALIVE_SERVER_PORT.
const EnvPrefix = "KEEPALIVE"

var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig adapts a viper instance. A nil viper behaves as an empty config.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) GetStringSlice(key string) []string   { return c.v.GetStringSlice(key) }
func (c *ViperConfig) GetFloat64(key string) float64        { return c.v.GetFloat64(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }
func (c *ViperConfig) Unmarshal(target any) error           { return c.v.Unmarshal(target) }
func (c *ViperConfig) Viper() *viper.Viper                  { return c.v }

// Sub returns the section under key. A missing section yields an empty
// config, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	sub := c.v.Sub(key)
	if sub == nil {
		sub = viper.New()
	}
	return &ViperConfig{v: sub}
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8470)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("database.path", "keepalive.db")

	v.SetDefault("tasks.file", "tasks.yaml")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "keepalived")
	v.SetDefault("mqtt.topic_prefix", "keepalived")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.timeout", "5s")

	v.SetDefault("plugins.keepalive.enabled", true)
	v.SetDefault("plugins.keepalive.watchdog_delay", "5s")
	v.SetDefault("plugins.bridge.enabled", true)
	v.SetDefault("plugins.bridge.allowed_origins", []string{})
	v.SetDefault("plugins.notify.enabled", true)
}

// Load reads path (if non-empty) on top of the defaults and applies
// KEEPALIVE_* environment overrides. Without a path, keepalived.yaml is
// searched for in the working directory and /etc/keepalived; not finding
// one is not an error.
func Load(path string) (*ViperConfig, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return New(v), nil
	}

	v.SetConfigName("keepalived")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/keepalived")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return New(v), nil
}
