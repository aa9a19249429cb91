package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/internal/config"
	"github.com/ShayCichocki/agentcore/internal/parallel"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

func init() {
	color.NoColor = true
}

// testApp builds an app over defaults with instant simulated agents, isolated
// from any config file on the machine.
func testApp(t *testing.T) *app {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("AGENTCORE_ANTHROPIC_API_KEY", "")

	cfg := config.Default()
	cfg.Pool.HealthCheckEnabled = false
	cfg.Pool.RetryDelay = 0
	cfg.Executor.SimulatedDelay = 0
	cfg.Executor.RateLimit = 0
	return &app{
		cfg:      cfg,
		viper:    config.NewViper(""),
		logger:   zap.NewNop(),
		level:    zap.NewAtomicLevel(),
		registry: prometheus.NewRegistry(),
	}
}

func writeTaskFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write task file: %v", err)
	}
	return path
}

func TestParseTaskFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
		check   func(t *testing.T, tf *taskFile)
	}{
		{
			name: "full file",
			content: `
agents:
  - role: reviewer
    model: claude-haiku-4-5-20251001
  - role: developer
    count: 2
tasks:
  - id: a
    description: first
    priority: high
  - id: b
    description: second
    dependencies: [a]
    role: reviewer
    metadata:
      simulate_fail: "true"
`,
			check: func(t *testing.T, tf *taskFile) {
				if len(tf.Agents) != 2 || tf.Agents[0].Count != 1 || tf.Agents[1].Count != 2 {
					t.Errorf("agents = %+v", tf.Agents)
				}
				if tf.Agents[0].Model != "claude-haiku-4-5-20251001" {
					t.Errorf("model = %q", tf.Agents[0].Model)
				}
				b := tf.Tasks[1]
				if b.Role != models.RoleReviewer || len(b.Dependencies) != 1 || b.Metadata["simulate_fail"] != "true" {
					t.Errorf("task b = %+v", b)
				}
				if tf.Tasks[0].Priority != models.PriorityHigh {
					t.Errorf("priority = %s", tf.Tasks[0].Priority)
				}
			},
		},
		{
			name:    "default agents",
			content: "tasks:\n  - description: only\n",
			check: func(t *testing.T, tf *taskFile) {
				groups := tf.agentGroups(4)
				if len(groups) != 1 || groups[0].Role != models.RoleDeveloper || groups[0].Count != 4 {
					t.Errorf("groups = %+v", groups)
				}
			},
		},
		{name: "empty", content: "", wantErr: "no tasks"},
		{name: "unknown field", content: "tasks:\n  - descripton: typo\n", wantErr: "descripton"},
		{name: "bad priority", content: "tasks:\n  - priority: urgent\n", wantErr: "unknown priority"},
		{name: "bad task role", content: "tasks:\n  - role: pilot\n", wantErr: "unknown role"},
		{name: "bad agent role", content: "agents:\n  - role: pilot\ntasks:\n  - id: a\n", wantErr: "agent group 0"},
		{name: "negative count", content: "agents:\n  - role: tester\n    count: -1\ntasks:\n  - id: a\n", wantErr: "negative count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tf, err := parseTaskFile([]byte(tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTaskFile failed: %v", err)
			}
			tt.check(t, tf)
		})
	}
}

func TestLoadTaskFile_Missing(t *testing.T) {
	if _, err := loadTaskFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRunBatch(t *testing.T) {
	a := testApp(t)
	path := writeTaskFile(t, `
tasks:
  - id: schema
    description: design schema
  - id: api
    description: build api
    dependencies: [schema]
  - id: docs
    description: write docs
    priority: low
`)
	var out bytes.Buffer
	if err := runBatch(context.Background(), a, &out, batchOptions{file: path, agents: 2}); err != nil {
		t.Fatalf("runBatch failed: %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{"✓ schema on agent-", "✓ api on agent-", "✓ docs on agent-", "Summary: 3 completed, 0 failed, 0 starved", "Agents: 2 live"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	n, err := testutil.GatherAndCount(a.registry, "agentcore_tasks_total")
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if n != 1 {
		t.Errorf("agentcore_tasks_total series = %d, want 1", n)
	}
}

func TestRunBatch_FailureAndStarvation(t *testing.T) {
	a := testApp(t)
	path := writeTaskFile(t, `
tasks:
  - id: flaky
    metadata:
      simulate_fail: "true"
  - id: after
    dependencies: [flaky]
`)
	var out bytes.Buffer
	err := runBatch(context.Background(), a, &out, batchOptions{file: path, agents: 1})
	if err == nil || !strings.Contains(err.Error(), "1 tasks failed, 1 starved") {
		t.Fatalf("err = %v", err)
	}
	got := out.String()
	for _, want := range []string{"✗ flaky on agent-", "simulated failure", "⚠ after never became eligible"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunBatch_WarmsToMinAgents(t *testing.T) {
	a := testApp(t)
	a.cfg.Pool.MinAgents = 4
	path := writeTaskFile(t, `
agents:
  - role: reviewer
tasks:
  - id: review
    role: reviewer
`)
	var out bytes.Buffer
	if err := runBatch(context.Background(), a, &out, batchOptions{file: path, agents: 1}); err != nil {
		t.Fatalf("runBatch failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Agents: 4 live") {
		t.Errorf("output missing warmed pool size:\n%s", out.String())
	}
}

func TestRunBatch_PoolCapacity(t *testing.T) {
	a := testApp(t)
	a.cfg.Pool.MaxAgents = 1
	path := writeTaskFile(t, "tasks:\n  - id: a\n")
	err := runBatch(context.Background(), a, &bytes.Buffer{}, batchOptions{file: path, agents: 2})
	if err == nil || !strings.Contains(err.Error(), "capacity") {
		t.Fatalf("err = %v, want capacity error", err)
	}
}

func TestFanoutBatch(t *testing.T) {
	tests := []struct {
		name    string
		cfg     parallel.Config
		content string
		want    []string
		wantErr string
	}{
		{
			name:    "all in batches",
			cfg:     parallel.Config{Mode: parallel.ModeAll, MaxParallel: 2},
			content: "tasks:\n  - id: a\n  - id: b\n  - id: c\n",
			want:    []string{"2/3 settled", "3/3 settled", "✓ c on agent-", "all mode, 3 succeeded, 0 failed of 3"},
		},
		{
			name:    "all with a failure",
			cfg:     parallel.Config{Mode: parallel.ModeAll, MaxParallel: 2},
			content: "tasks:\n  - id: a\n  - id: b\n    metadata: {simulate_fail: \"true\"}\n",
			want:    []string{"✗ b on agent-"},
			wantErr: "1 of 2 tasks failed",
		},
		{
			name:    "race returns one",
			cfg:     parallel.Config{Mode: parallel.ModeRace},
			content: "tasks:\n  - id: a\n  - id: b\n",
			want:    []string{"race mode, 1 succeeded, 0 failed of 2"},
		},
		{
			name:    "unknown mode",
			cfg:     parallel.Config{Mode: "first"},
			content: "tasks:\n  - id: a\n",
			wantErr: "unknown mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testApp(t)
			var out bytes.Buffer
			err := fanoutBatch(context.Background(), a, &out, batchOptions{file: writeTaskFile(t, tt.content), agents: 2}, tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("fanoutBatch failed: %v\n%s", err, out.String())
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestShowConfig(t *testing.T) {
	a := testApp(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")

	var out bytes.Buffer
	if err := showConfig(&out, a); err != nil {
		t.Fatalf("showConfig failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"# config file: (defaults only", "max_agents: 10", "health_check_interval: 30s", "sk-ant-...cret (environment)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "secretsecretsecret") {
		t.Error("API key printed unmasked")
	}
}

func TestShowConfigKey(t *testing.T) {
	a := testApp(t)
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "pool.max_agents", want: "10\n"},
		{key: "Parallel.Mode", want: "all\n"},
		{key: "pool.retry_delay", want: "1s\n"},
		{key: "anthropic.api_key", want: "(not set)\n"},
		{key: "pool", wantErr: true},
		{key: "pool.nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var out bytes.Buffer
			err := showConfigKey(&out, a, tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("showConfigKey failed: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "agentcore ") {
		t.Errorf("output = %q", out.String())
	}
}
