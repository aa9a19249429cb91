package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ShayCichocki/agentcore/internal/agent"
	"github.com/ShayCichocki/agentcore/internal/lifecycle"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

func failTimes(t *testing.T, p *testPool, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := p.Execute(context.Background(), id, &models.Task{ID: "t"})
		if err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}
		if res.Success {
			t.Fatalf("Execute %d succeeded, want failure", i)
		}
	}
}

func liveIDs(p *testPool) map[string]bool {
	ids := make(map[string]bool)
	for _, a := range p.GetAll() {
		ids[a.ID] = true
	}
	return ids
}

func TestCheckHealth_BelowThreshold(t *testing.T) {
	p := newTestPool(t, manualConfig(1), fail("boom"))
	id := spawnN(t, p, 1)[0]
	failTimes(t, p, id, models.UnhealthyFailureThreshold-1)

	p.clock.Advance(time.Minute)
	before := len(p.Lifecycle().AgentTimeline(id))
	report := p.CheckHealth()

	if report.Checked != 1 || len(report.Unhealthy) != 0 {
		t.Errorf("report = %+v", report)
	}
	a, _ := p.Get(id)
	if !a.Health.Healthy || !a.Health.LastChecked.Equal(p.clock.Now()) {
		t.Errorf("health = %+v", a.Health)
	}
	// error -> idle is not a legal transition; the tick leaves state alone.
	if a.State != models.AgentStateError {
		t.Errorf("state = %s, want error", a.State)
	}
	if after := len(p.Lifecycle().AgentTimeline(id)); after != before {
		t.Errorf("tick emitted %d events for a healthy agent", after-before)
	}
}

func TestCheckHealth_RestartsUnhealthyAgent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := newTestPool(t, manualConfig(2), fail("boom"), WithMetrics(m))
	rec := record(p.Pool)
	ids := spawnN(t, p, 2)
	sick, well := ids[0], ids[1]
	failTimes(t, p, sick, models.UnhealthyFailureThreshold)

	report := p.CheckHealth()
	if len(report.Unhealthy) != 1 || report.Unhealthy[0] != sick {
		t.Fatalf("Unhealthy = %v, want [%s]", report.Unhealthy, sick)
	}
	if len(report.Restarted) != 1 {
		t.Fatalf("Restarted = %v", report.Restarted)
	}

	hc := rec.waitFor(t, lifecycle.EventHealthCheck)
	if hc.AgentID != sick || hc.Data["healthy"] != false {
		t.Errorf("health-check event = %+v", hc)
	}
	created := rec.waitFor(t, lifecycle.EventCreated)
	for created.AgentID == sick || created.AgentID == well {
		created = rec.waitFor(t, lifecycle.EventCreated)
	}

	live := liveIDs(p)
	if live[sick] {
		t.Error("unhealthy agent still live after tick")
	}
	if !live[well] || !live[created.AgentID] || len(live) != 2 {
		t.Errorf("live ids = %v, want %s and replacement %s", live, well, created.AgentID)
	}
	replacement, _ := p.Get(created.AgentID)
	if replacement.Role != models.RoleDeveloper || replacement.Health.ConsecutiveFailures != 0 {
		t.Errorf("replacement = %+v", replacement)
	}

	// Destroy waits for the restart goroutine.
	p.Destroy()
	if got := testutil.ToFloat64(m.Respawns.WithLabelValues("success")); got != 1 {
		t.Errorf("respawn successes = %v, want 1", got)
	}
}

func TestCheckHealth_NoAutoRestart(t *testing.T) {
	cfg := manualConfig(1)
	cfg.AutoRestart = false
	p := newTestPool(t, cfg, fail("boom"))
	id := spawnN(t, p, 1)[0]
	failTimes(t, p, id, models.UnhealthyFailureThreshold)

	report := p.CheckHealth()
	if len(report.Unhealthy) != 1 || len(report.Restarted) != 0 {
		t.Errorf("report = %+v", report)
	}
	a, ok := p.Get(id)
	if !ok {
		t.Fatal("agent removed without auto-restart")
	}
	if a.Health.Healthy || len(a.Health.Issues) == 0 {
		t.Errorf("health = %+v, want unhealthy with issues", a.Health)
	}
	if s := p.Stats(); s.Healthy != 0 {
		t.Errorf("Healthy = %d, want 0", s.Healthy)
	}
}

func TestCheckHealth_RespawnFailureIsEmitted(t *testing.T) {
	var spawns atomic.Int32
	clock := clockwork.NewFakeClock()
	local := agent.NewLocalFactory(clock)
	factory := agent.FactoryFunc(func(ctx context.Context, cfg models.AgentConfig) (*models.AgentInstance, error) {
		if spawns.Add(1) > 1 {
			return nil, errors.New("runtime quota exhausted")
		}
		return local.Spawn(ctx, cfg)
	})
	cfg := manualConfig(1)
	cfg.RetryDelay = 0
	p, err := New(cfg, factory, fail("boom"), WithClock(clock))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Destroy()
	tp := &testPool{Pool: p, clock: clock}
	rec := record(p)

	id := spawnN(t, tp, 1)[0]
	failTimes(t, tp, id, models.UnhealthyFailureThreshold)
	p.CheckHealth()

	ev := rec.waitFor(t, lifecycle.EventRespawnFailed)
	var rerr *models.RespawnError
	if !errors.As(ev.Err, &rerr) {
		t.Fatalf("event error = %v, want *RespawnError", ev.Err)
	}
	if rerr.AgentID != id || rerr.Role != models.RoleDeveloper || !errors.Is(ev.Err, models.ErrRespawn) {
		t.Errorf("respawn error = %+v", rerr)
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0", p.Len())
	}
}

func TestCheckHealth_ReapsIdleAboveMinimum(t *testing.T) {
	cfg := manualConfig(4)
	cfg.MinAgents = 1
	cfg.IdleTimeout = time.Minute
	p := newTestPool(t, cfg, succeed())
	ids := spawnN(t, p, 3)

	p.clock.Advance(30 * time.Second)
	if report := p.CheckHealth(); len(report.Reaped) != 0 {
		t.Fatalf("reaped %v before idle timeout", report.Reaped)
	}

	// Refresh the newest agent's last activity.
	if _, err := p.Execute(context.Background(), ids[2], &models.Task{ID: "t"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	p.clock.Advance(45 * time.Second)

	report := p.CheckHealth()
	if len(report.Reaped) != 2 {
		t.Fatalf("Reaped = %v, want 2 stale agents", report.Reaped)
	}
	if _, ok := p.Get(ids[2]); !ok {
		t.Error("recently active agent was reaped")
	}

	p.clock.Advance(2 * time.Minute)
	if report := p.CheckHealth(); len(report.Reaped) != 0 {
		t.Errorf("reaped %v below MinAgents", report.Reaped)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want MinAgents 1", p.Len())
	}
}

func TestHealthLoop_TicksOnClock(t *testing.T) {
	cfg := manualConfig(1)
	cfg.HealthCheckEnabled = true
	cfg.HealthCheckInterval = 10 * time.Second
	cfg.AutoRestart = false
	p := newTestPool(t, cfg, fail("boom"))
	rec := record(p.Pool)
	id := spawnN(t, p, 1)[0]
	failTimes(t, p, id, models.UnhealthyFailureThreshold)

	p.clock.Advance(10 * time.Second)

	ev := rec.waitFor(t, lifecycle.EventHealthCheck)
	if ev.AgentID != id {
		t.Errorf("health-check for %s, want %s", ev.AgentID, id)
	}
}

func TestAvailable(t *testing.T) {
	p := newTestPool(t, manualConfig(3), fail("boom"))
	ids := spawnN(t, p, 3)
	failTimes(t, p, ids[0], 1)
	failTimes(t, p, ids[1], models.UnhealthyFailureThreshold)

	got := p.Available()
	if len(got) != 2 || got[0].ID != ids[0] || got[1].ID != ids[2] {
		t.Fatalf("Available = %v, want [%s %s]", agentIDs(got), ids[0], ids[2])
	}
	if got[0].State != models.AgentStateError || got[1].State != models.AgentStateIdle {
		t.Errorf("states = %s, %s", got[0].State, got[1].State)
	}
	if idle := p.Idle(); len(idle) != 1 || idle[0].ID != ids[2] {
		t.Errorf("Idle = %v, want [%s]", agentIDs(idle), ids[2])
	}
}

func agentIDs(agents []*models.AgentInstance) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}
