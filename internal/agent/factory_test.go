package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

func TestLocalFactory_Spawn(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := NewLocalFactory(clockwork.NewFakeClockAt(now))

	cfg := models.AgentConfig{
		Role:     models.RoleDeveloper,
		Name:     "dev-1",
		Tools:    []string{"read_file", "edit_file"},
		ParentID: "agent-parent",
		Metadata: map[string]string{"team": "core"},
	}
	a, err := f.Spawn(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if !strings.HasPrefix(a.ID, "agent-") || len(a.ID) != len("agent-")+8 {
		t.Errorf("ID = %q, want agent-<8 chars>", a.ID)
	}
	if a.State != models.AgentStateIdle {
		t.Errorf("State = %s, want idle", a.State)
	}
	if a.Role != models.RoleDeveloper || a.ParentID != "agent-parent" {
		t.Errorf("Role/ParentID = %s/%s", a.Role, a.ParentID)
	}
	if !a.CreatedAt.Equal(now) || !a.Health.Healthy {
		t.Errorf("CreatedAt = %v, Healthy = %v", a.CreatedAt, a.Health.Healthy)
	}

	cfg.Metadata["team"] = "changed"
	cfg.Tools[0] = "run_command"
	if a.Config.Metadata["team"] != "core" || a.Config.Tools[0] != "read_file" {
		t.Error("agent config shares storage with caller")
	}
}

func TestLocalFactory_SpawnUniqueIDs(t *testing.T) {
	f := NewLocalFactory(nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		a, err := f.Spawn(context.Background(), models.AgentConfig{Role: models.RoleTester})
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if seen[a.ID] {
			t.Fatalf("duplicate id %s", a.ID)
		}
		seen[a.ID] = true
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     models.AgentConfig
		wantErr string
	}{
		{"valid role", models.AgentConfig{Role: models.RoleReviewer}, ""},
		{"unknown role", models.AgentConfig{Role: "wizard"}, "unknown role"},
		{"empty role", models.AgentConfig{}, "unknown role"},
		{"tool not allowed", models.AgentConfig{Role: models.RolePlanner, Tools: []string{"run_command"}}, "may not use tool"},
		{"model allowed", models.AgentConfig{Role: models.RoleTester, Model: "claude-3-5-haiku-20241022"}, ""},
		{"model not allowed", models.AgentConfig{Role: models.RoleDesigner, Model: "claude-opus-4-1-20250805"}, "may not run on model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLocalFactory_SpawnCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLocalFactory(nil).Spawn(ctx, models.AgentConfig{Role: models.RoleTester}); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestModelFor(t *testing.T) {
	tests := []struct {
		name  string
		agent *models.AgentInstance
		want  string
	}{
		{"role default", &models.AgentInstance{Role: models.RoleTester}, "claude-3-5-haiku-20241022"},
		{"explicit", &models.AgentInstance{Role: models.RoleTester, Config: models.AgentConfig{Model: "claude-sonnet-4-20250514"}}, "claude-sonnet-4-20250514"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModelFor(tt.agent); got != tt.want {
				t.Errorf("ModelFor = %q, want %q", got, tt.want)
			}
		})
	}
}
