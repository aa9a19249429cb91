// Package config loads agentcore configuration from YAML files, AGENTCORE_
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ShayCichocki/agentcore/internal/agent"
	"github.com/ShayCichocki/agentcore/internal/lifecycle"
	"github.com/ShayCichocki/agentcore/internal/logging"
	"github.com/ShayCichocki/agentcore/internal/parallel"
	"github.com/ShayCichocki/agentcore/internal/pool"
	"github.com/ShayCichocki/agentcore/internal/queue"
)

// EnvPrefix prefixes every environment override, e.g. AGENTCORE_POOL_MAX_AGENTS.
const EnvPrefix = "AGENTCORE"

// ProjectFile is the config file looked up in the working directory.
const ProjectFile = "agentcore.yaml"

// Config holds all configuration for agentcore.
type Config struct {
	Pool      pool.Config     `mapstructure:"pool"`
	Queue     queue.Config    `mapstructure:"queue"`
	Parallel  parallel.Config `mapstructure:"parallel"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Logger    logging.Config  `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LifecycleConfig sizes the event history.
type LifecycleConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// ExecutorConfig wraps the task executor in rate limiting, a circuit breaker
// and retries. SimulatedDelay applies when no model backend is used.
type ExecutorConfig struct {
	agent.ProtectionConfig `mapstructure:",squash"`
	SimulatedDelay         time.Duration `mapstructure:"simulated_delay"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	BaseURL    string `mapstructure:"base_url"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// MetricsConfig controls the prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// NewViper returns a viper instance with defaults and environment bindings.
// path names an explicit config file. When empty, ./agentcore.yaml and then
// the user config file are used if present.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads configuration from path, or from the default locations when
// path is empty. A missing default file is not an error; a missing explicit
// file is.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadViper(path)
	return cfg, err
}

// LoadViper is Load that also returns the viper instance, for Watch.
func LoadViper(path string) (*Config, *viper.Viper, error) {
	v := NewViper(path)
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the settings currently held by v.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate reports settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.MaxAgents <= 0 {
		errs = append(errs, fmt.Errorf("pool.max_agents must be positive, got %d", c.Pool.MaxAgents))
	}
	if c.Pool.MinAgents > c.Pool.MaxAgents {
		errs = append(errs, fmt.Errorf("pool.min_agents %d exceeds pool.max_agents %d", c.Pool.MinAgents, c.Pool.MaxAgents))
	}
	if !c.Parallel.Mode.Valid() {
		errs = append(errs, fmt.Errorf("parallel.mode %q is not race, any or all", c.Parallel.Mode))
	}
	if c.Queue.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_size must be positive, got %d", c.Queue.MaxSize))
	}
	if c.Executor.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("executor.rate_limit must not be negative, got %v", c.Executor.RateLimit))
	}
	return errors.Join(errs...)
}

// Watch calls fn with the reloaded configuration each time the file backing
// v is written. fn receives the decode error instead when the new contents
// are invalid.
func Watch(v *viper.Viper, fn func(*Config, error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(Decode(v))
	})
	v.WatchConfig()
}

// UserConfigPath returns the path of the per-user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	p := pool.DefaultConfig()
	v.SetDefault("pool.min_agents", p.MinAgents)
	v.SetDefault("pool.max_agents", p.MaxAgents)
	v.SetDefault("pool.max_concurrent_tasks", p.MaxConcurrentTasks)
	v.SetDefault("pool.idle_timeout", p.IdleTimeout)
	v.SetDefault("pool.default_task_timeout", p.DefaultTaskTimeout)
	v.SetDefault("pool.health_check_enabled", p.HealthCheckEnabled)
	v.SetDefault("pool.health_check_interval", p.HealthCheckInterval)
	v.SetDefault("pool.auto_restart", p.AutoRestart)
	v.SetDefault("pool.max_task_retries", p.MaxTaskRetries)
	v.SetDefault("pool.retry_delay", p.RetryDelay)

	q := queue.DefaultConfig()
	v.SetDefault("queue.max_size", q.MaxSize)
	v.SetDefault("queue.priority_ordering", q.PriorityOrdering)
	v.SetDefault("queue.dependency_tracking", q.DependencyTracking)
	v.SetDefault("queue.reject_unknown_dependencies", q.RejectUnknownDependencies)

	par := parallel.DefaultConfig()
	v.SetDefault("parallel.max_parallel", par.MaxParallel)
	v.SetDefault("parallel.mode", string(par.Mode))
	v.SetDefault("parallel.timeout", par.Timeout)

	v.SetDefault("lifecycle.history_size", lifecycle.DefaultHistorySize)

	e := agent.DefaultProtectionConfig()
	v.SetDefault("executor.rate_limit", e.RateLimit)
	v.SetDefault("executor.burst", e.Burst)
	v.SetDefault("executor.breaker_failures", e.BreakerFailures)
	v.SetDefault("executor.breaker_timeout", e.BreakerTimeout)
	v.SetDefault("executor.retry_attempts", e.RetryAttempts)
	v.SetDefault("executor.retry_delay", e.RetryDelay)
	v.SetDefault("executor.simulated_delay", 200*time.Millisecond)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("metrics.addr", "")
}

// userConfigDir returns the XDG config directory for agentcore.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentcore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "agentcore")
	}
	return filepath.Join(home, ".config", "agentcore")
}

// findConfigFile returns the first existing default config file, or "".
func findConfigFile() string {
	for _, path := range []string{ProjectFile, UserConfigPath()} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
