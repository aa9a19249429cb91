// Package agent defines the collaborators an agent pool depends on: a Factory
// that materializes agents and a TaskExecutor that performs work on them.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// Factory materializes agents for a pool.
type Factory interface {
	Spawn(ctx context.Context, cfg models.AgentConfig) (*models.AgentInstance, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, cfg models.AgentConfig) (*models.AgentInstance, error)

// Spawn calls f.
func (f FactoryFunc) Spawn(ctx context.Context, cfg models.AgentConfig) (*models.AgentInstance, error) {
	return f(ctx, cfg)
}

// LocalFactory builds in-process agents checked against the role capability
// table. It holds no runtime of its own; the pool's TaskExecutor does the work.
type LocalFactory struct {
	clock clockwork.Clock
}

// NewLocalFactory creates a LocalFactory. A nil clock uses the real clock.
func NewLocalFactory(clock clockwork.Clock) *LocalFactory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalFactory{clock: clock}
}

// Spawn validates cfg and returns a new idle agent.
func (f *LocalFactory) Spawn(ctx context.Context, cfg models.AgentConfig) (*models.AgentInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	now := f.clock.Now()
	agent := &models.AgentInstance{
		ID:             NewAgentID(),
		Role:           cfg.Role,
		Config:         cfg,
		State:          models.AgentStateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
		ParentID:       cfg.ParentID,
		Health: models.AgentHealth{
			Healthy:     true,
			LastChecked: now,
		},
	}
	// Detach caller-owned slices and maps.
	return agent.Clone(), nil
}

// NewAgentID returns a short unique agent identifier.
func NewAgentID() string {
	return "agent-" + uuid.New().String()[:8]
}

// Validate checks cfg against the capability table of its role.
func Validate(cfg models.AgentConfig) error {
	capability, ok := models.CapabilityFor(cfg.Role)
	if !ok {
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
	for _, tool := range cfg.Tools {
		if !capability.Allows(tool) {
			return fmt.Errorf("role %s may not use tool %q", cfg.Role, tool)
		}
	}
	if cfg.Model != "" && !capability.AllowsModel(cfg.Model) {
		return fmt.Errorf("role %s may not run on model %q", cfg.Role, cfg.Model)
	}
	return nil
}

// ModelFor returns the model an agent should run on.
func ModelFor(agent *models.AgentInstance) string {
	if agent.Config.Model != "" {
		return agent.Config.Model
	}
	capability, _ := models.CapabilityFor(agent.Role)
	return capability.DefaultModel
}
