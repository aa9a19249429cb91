package main

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/internal/agent"
	"github.com/ShayCichocki/agentcore/internal/api"
	"github.com/ShayCichocki/agentcore/internal/config"
	"github.com/ShayCichocki/agentcore/internal/lifecycle"
	"github.com/ShayCichocki/agentcore/internal/pool"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

// runtime is a pool wired to its executor, event bus and metrics.
type runtime struct {
	pool      *pool.Pool
	lifecycle *lifecycle.Manager
	executor  *agent.ProtectedExecutor
	client    *api.Client
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer, useAnthropic bool) (*runtime, error) {
	rt := &runtime{
		lifecycle: lifecycle.New(lifecycle.Options{HistorySize: cfg.Lifecycle.HistorySize, Logger: logger}),
	}

	var exec agent.TaskExecutor = &agent.SimulatedExecutor{Delay: cfg.Executor.SimulatedDelay}
	if useAnthropic {
		client, err := newAPIClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.client = client
		exec = agent.NewAnthropicExecutor(client, cfg.Anthropic.MaxTokens)
	}
	rt.executor = agent.NewProtectedExecutor(exec, cfg.Executor.ProtectionConfig, logger)

	p, err := pool.New(cfg.Pool, agent.NewLocalFactory(nil), rt.executor,
		pool.WithLogger(logger),
		pool.WithLifecycle(rt.lifecycle),
		pool.WithMetrics(pool.NewMetrics(reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	rt.pool = p

	rt.lifecycle.On(lifecycle.EventAll, func(ev lifecycle.Event) {
		logger.Debug("lifecycle",
			zap.String("kind", string(ev.Kind)),
			zap.String("agent", ev.AgentID),
			zap.String("task", ev.TaskID),
			zap.Error(ev.Err))
	})
	return rt, nil
}

func newAPIClient(ctx context.Context, cfg *config.Config) (*api.Client, error) {
	cc := api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		MaxTokens:     cfg.Anthropic.MaxTokens,
		BaseURL:       cfg.Anthropic.BaseURL,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !cc.UseAWSBedrock {
		key, _, err := config.APIKey(cfg)
		if err != nil {
			return nil, err
		}
		if err := config.ValidateAPIKey(key); err != nil {
			return nil, err
		}
		cc.APIKey = key
	}
	return api.NewClient(ctx, cc)
}

// spawn creates every agent the groups describe, then tops the pool up to
// pool.min_agents with agents like the first group's.
func (rt *runtime) spawn(ctx context.Context, groups []agentGroup) error {
	for _, g := range groups {
		for i := 0; i < g.Count; i++ {
			if _, err := rt.pool.Spawn(ctx, g.AgentConfig); err != nil {
				return err
			}
		}
	}
	warm := models.AgentConfig{Role: models.RoleDeveloper}
	if len(groups) > 0 {
		warm = groups[0].AgentConfig
	}
	if _, err := rt.pool.Warm(ctx, warm); err != nil {
		return fmt.Errorf("warming pool to min_agents: %w", err)
	}
	return nil
}

func (rt *runtime) close() {
	rt.pool.Destroy()
}
