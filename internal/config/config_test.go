package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/agentcore/internal/agent"
	"github.com/ShayCichocki/agentcore/internal/lifecycle"
	"github.com/ShayCichocki/agentcore/internal/parallel"
	"github.com/ShayCichocki/agentcore/internal/pool"
	"github.com/ShayCichocki/agentcore/internal/queue"
)

func writeConfig(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// isolate points every default lookup location at empty temp dirs.
func isolate(t *testing.T) (cwd, xdg string) {
	t.Helper()
	cwd, xdg = t.TempDir(), t.TempDir()
	t.Chdir(cwd)
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("ANTHROPIC_API_KEY", "")
	return cwd, xdg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Pool != pool.DefaultConfig() {
		t.Errorf("pool = %+v, want %+v", cfg.Pool, pool.DefaultConfig())
	}
	if cfg.Queue != queue.DefaultConfig() {
		t.Errorf("queue = %+v, want %+v", cfg.Queue, queue.DefaultConfig())
	}
	if cfg.Parallel.Mode != parallel.ModeAll || cfg.Parallel.MaxParallel != 3 {
		t.Errorf("parallel = %+v", cfg.Parallel)
	}
	if cfg.Lifecycle.HistorySize != lifecycle.DefaultHistorySize {
		t.Errorf("history size = %d", cfg.Lifecycle.HistorySize)
	}
	if cfg.Executor.ProtectionConfig != agent.DefaultProtectionConfig() {
		t.Errorf("executor = %+v, want %+v", cfg.Executor.ProtectionConfig, agent.DefaultProtectionConfig())
	}
	if cfg.Anthropic.Model != "claude-sonnet-4-20250514" || cfg.Anthropic.MaxTokens != 4096 {
		t.Errorf("anthropic = %+v", cfg.Anthropic)
	}
	if cfg.Logger.Level != "info" || cfg.Logger.Format != "console" {
		t.Errorf("logger = %+v", cfg.Logger)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	t.Setenv("AGENTCORE_TEST_FILE_KEY", "sk-ant-from-reference")
	path := writeConfig(t, filepath.Join(t.TempDir(), "custom.yaml"), `
pool:
  max_agents: 4
  min_agents: 2
  health_check_interval: 5s
  max_task_retries: 2
queue:
  reject_unknown_dependencies: true
parallel:
  mode: race
  max_parallel: 6
  timeout: 1m
executor:
  rate_limit: 2.5
  retry_attempts: 5
  simulated_delay: 10ms
anthropic:
  api_key: ${AGENTCORE_TEST_FILE_KEY}
  use_bedrock: true
  aws_region: us-west-2
logger:
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pool.MaxAgents != 4 || cfg.Pool.MinAgents != 2 || cfg.Pool.HealthCheckInterval != 5*time.Second || cfg.Pool.MaxTaskRetries != 2 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if !cfg.Pool.AutoRestart {
		t.Error("unset pool key lost its default")
	}
	if !cfg.Queue.RejectUnknownDependencies || cfg.Queue.MaxSize != queue.DefaultMaxSize {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Parallel.Mode != parallel.ModeRace || cfg.Parallel.MaxParallel != 6 || cfg.Parallel.Timeout != time.Minute {
		t.Errorf("parallel = %+v", cfg.Parallel)
	}
	if cfg.Executor.RateLimit != 2.5 || cfg.Executor.RetryAttempts != 5 || cfg.Executor.SimulatedDelay != 10*time.Millisecond {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-reference" || !cfg.Anthropic.UseBedrock || cfg.Anthropic.AWSRegion != "us-west-2" {
		t.Errorf("anthropic = %+v", cfg.Anthropic)
	}
	if cfg.Logger.Format != "json" || cfg.Logger.Level != "info" {
		t.Errorf("logger = %+v", cfg.Logger)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	path := writeConfig(t, filepath.Join(t.TempDir(), "c.yaml"), "pool:\n  max_agents: 4\n")
	t.Setenv("AGENTCORE_POOL_MAX_AGENTS", "7")
	t.Setenv("AGENTCORE_POOL_IDLE_TIMEOUT", "90s")
	t.Setenv("AGENTCORE_PARALLEL_MODE", "any")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pool.MaxAgents != 7 || cfg.Pool.IdleTimeout != 90*time.Second {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Parallel.Mode != parallel.ModeAny {
		t.Errorf("mode = %s, want any", cfg.Parallel.Mode)
	}
	if cfg.Anthropic.APIKey != "sk-ant-env" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
}

func TestLoad_DefaultLocations(t *testing.T) {
	cwd, xdg := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without files failed: %v", err)
	}
	if cfg.Pool.MaxAgents != pool.DefaultConfig().MaxAgents {
		t.Errorf("max agents = %d, want default", cfg.Pool.MaxAgents)
	}

	writeConfig(t, filepath.Join(xdg, "agentcore", "config.yaml"), "pool:\n  max_agents: 3\n")
	if cfg, err = Load(""); err != nil {
		t.Fatalf("Load with user config failed: %v", err)
	}
	if cfg.Pool.MaxAgents != 3 {
		t.Errorf("user config: max agents = %d, want 3", cfg.Pool.MaxAgents)
	}

	writeConfig(t, filepath.Join(cwd, ProjectFile), "pool:\n  max_agents: 5\n")
	if cfg, err = Load(""); err != nil {
		t.Fatalf("Load with project config failed: %v", err)
	}
	if cfg.Pool.MaxAgents != 5 {
		t.Errorf("project config: max agents = %d, want 5", cfg.Pool.MaxAgents)
	}
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantMsg string
	}{
		{
			name:    "missing explicit file",
			path:    filepath.Join(dir, "absent.yaml"),
			wantMsg: "reading config",
		},
		{
			name:    "malformed yaml",
			path:    writeConfig(t, filepath.Join(dir, "bad.yaml"), "pool: [unterminated\n"),
			wantMsg: "reading config",
		},
		{
			name:    "zero max agents",
			path:    writeConfig(t, filepath.Join(dir, "zero.yaml"), "pool:\n  max_agents: 0\n"),
			wantMsg: "pool.max_agents",
		},
		{
			name:    "unknown mode",
			path:    writeConfig(t, filepath.Join(dir, "mode.yaml"), "parallel:\n  mode: first\n"),
			wantMsg: "parallel.mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	isolate(t)
	path := writeConfig(t, filepath.Join(t.TempDir(), "watched.yaml"), "pool:\n  max_agents: 4\n")

	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}
	reloads := make(chan *Config, 16)
	Watch(v, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloads <- cfg:
		default:
		}
	})

	writeConfig(t, path, "pool:\n  max_agents: 9\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloads:
			if cfg.Pool.MaxAgents == 9 {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
