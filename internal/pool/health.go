package pool

import (
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/internal/lifecycle"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

// HealthReport summarizes one supervision tick.
type HealthReport struct {
	Checked   int
	Unhealthy []string
	Restarted []string
	Reaped    []string
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.ticker.Chan():
			p.CheckHealth()
		}
	}
}

// CheckHealth runs one supervision tick. It recomputes every agent's health.
// Unhealthy agents are stopped and, when AutoRestart is set, replaced
// asynchronously. Idle agents above MinAgents are reaped once IdleTimeout has
// passed. Healthy agents in the error state are left for Execute to restart.
func (p *Pool) CheckHealth() HealthReport {
	now := p.clock.Now()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return HealthReport{}
	}
	report := HealthReport{Checked: len(p.agents)}
	var unhealthy []*models.AgentInstance
	var idle []string
	for _, id := range p.order {
		a := p.agents[id]
		a.Health.Recompute(now)
		switch {
		case !a.Health.Healthy:
			unhealthy = append(unhealthy, a.Clone())
		case p.cfg.IdleTimeout > 0 &&
			a.State == models.AgentStateIdle &&
			now.Sub(a.LastActivityAt) >= p.cfg.IdleTimeout:
			idle = append(idle, id)
		}
	}
	surplus := len(p.agents) - len(unhealthy) - p.cfg.MinAgents
	if surplus < 0 {
		surplus = 0
	}
	if len(idle) > surplus {
		idle = idle[:surplus]
	}
	p.refreshGaugesLocked()
	p.mu.Unlock()

	for _, a := range unhealthy {
		report.Unhealthy = append(report.Unhealthy, a.ID)
		p.logger.Warn("agent unhealthy",
			zap.String("agent", a.ID),
			zap.Int("consecutive_failures", a.Health.ConsecutiveFailures))
		p.emit(lifecycle.EventHealthCheck, a, "", nil, map[string]any{
			"healthy":              false,
			"consecutive_failures": a.Health.ConsecutiveFailures,
			"issues":               a.Health.Issues,
		})

		if !p.cfg.AutoRestart {
			continue
		}
		if err := p.Stop(a.ID); err != nil {
			// Stopped concurrently; nothing to replace.
			continue
		}
		report.Restarted = append(report.Restarted, a.ID)
		p.respawn(a)
	}

	for _, id := range idle {
		if err := p.Stop(id); err == nil {
			p.logger.Debug("idle agent reaped", zap.String("agent", id))
			report.Reaped = append(report.Reaped, id)
		}
	}

	p.logger.Debug("health tick",
		zap.Int("checked", report.Checked),
		zap.Int("unhealthy", len(report.Unhealthy)),
		zap.Int("reaped", len(report.Reaped)))
	return report
}

// respawn replaces old with a fresh agent built from the same config. A
// failure is emitted as EventRespawnFailed carrying a *models.RespawnError.
func (p *Pool) respawn(old *models.AgentInstance) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		a, err := p.Spawn(p.ctx, old.Config)
		if err != nil {
			p.metrics.Respawns.WithLabelValues("failure").Inc()
			rerr := &models.RespawnError{AgentID: old.ID, Role: old.Role, Err: err}
			p.logger.Error("agent respawn failed", zap.String("agent", old.ID), zap.Error(err))
			p.emit(lifecycle.EventRespawnFailed, old, "", rerr, nil)
			return
		}
		p.metrics.Respawns.WithLabelValues("success").Inc()
		p.logger.Info("agent respawned", zap.String("old", old.ID), zap.String("new", a.ID))
	}()
}
