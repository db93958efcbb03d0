// Package config provides centralized configuration management for the
// application pool manager.
//
// Configuration can be loaded from:
//   - a YAML/TOML/JSON file (any format viper supports; default search is
//     ./config.yaml then /etc/apppool/config.yaml)
//   - environment variables prefixed APPPOOL_, nested sections joined by "_"
//     (e.g. APPPOOL_POOL_MAX)
//
// Command-line flags of cmd/poolctl and cmd/poold only choose the config
// file path; no configuration field is read from a flag.
//
// Configuration is organized into sections matching the domain components:
// Pool, Spawner, Restart, Metrics, Log.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pool daemon and CLI.
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool"`
	Spawner SpawnerConfig `mapstructure:"spawner"`
	Restart RestartConfig `mapstructure:"restart"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// PoolConfig mirrors pool.Config; kept as a separate struct so this package
// has no import-cycle dependency on pkg/pool.
type PoolConfig struct {
	Max             int           `mapstructure:"max"`
	MaxPerApp       int           `mapstructure:"max_per_app"`
	UseGlobalQueue  bool          `mapstructure:"use_global_queue"`
	MaxIdleTime     time.Duration `mapstructure:"max_idle_time"`
	CleanInterval   time.Duration `mapstructure:"clean_interval"`
	MinIdlePerApp   int           `mapstructure:"min_idle_per_app"`
	WarmInterval    time.Duration `mapstructure:"warm_interval"`
	WarmConcurrency int64         `mapstructure:"warm_concurrency"`
}

// SpawnerConfig configures the concrete process spawner.
type SpawnerConfig struct {
	Command        string        `mapstructure:"command"`
	Args           []string      `mapstructure:"args"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// RestartConfig configures the restart probe. Currently empty beyond the
// section's existence — the probe has no tunables beyond the sentinel path
// convention, but the section is kept so future knobs have a home without
// a breaking change.
type RestartConfig struct{}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

const envPrefix = "APPPOOL"

// Load reads configuration from configPath (if non-empty), environment
// variables, and the defaults below, in increasing precedence order
// (defaults < file < env).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/apppool")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.max", 16)
	v.SetDefault("pool.max_per_app", 0)
	v.SetDefault("pool.use_global_queue", false)
	v.SetDefault("pool.max_idle_time", 5*time.Minute)
	v.SetDefault("pool.clean_interval", 30*time.Second)
	v.SetDefault("pool.min_idle_per_app", 0)
	v.SetDefault("pool.warm_interval", time.Minute)
	v.SetDefault("pool.warm_concurrency", 2)

	v.SetDefault("spawner.command", "")
	v.SetDefault("spawner.args", []string{})
	v.SetDefault("spawner.startup_timeout", 10*time.Second)
	v.SetDefault("spawner.shutdown_grace", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks structural constraints across all sections, including the
// pool.max and pool.max_per_app bounds that pool.Config re-validates on
// construction; this catches configuration errors before any collaborator
// is constructed.
func (c *Config) Validate() error {
	if c.Pool.Max <= 0 {
		return fmt.Errorf("pool.max must be positive, got %d", c.Pool.Max)
	}
	if c.Pool.MaxPerApp < 0 {
		return fmt.Errorf("pool.max_per_app must be >= 0, got %d", c.Pool.MaxPerApp)
	}
	if c.Spawner.Command == "" {
		return fmt.Errorf("spawner.command must not be empty")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}
