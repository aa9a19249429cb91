// Package pool manages a bounded set of live agents: spawning them through a
// factory, running tasks on them through an executor, and supervising their
// health.
//
// The pool owns agent state. It forces states directly rather than going
// through lifecycle.Manager.Transition, because a forced stop or a failed task
// must always land regardless of the state the agent was in. Every change is
// still reported through the lifecycle event bus and to pool-local listeners.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/internal/agent"
	"github.com/ShayCichocki/agentcore/internal/lifecycle"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

var (
	// ErrClosed is returned by Spawn and Execute after Destroy.
	ErrClosed = errors.New("pool destroyed")
	// ErrAgentBusy is returned by Execute when the agent cannot take a task.
	ErrAgentBusy = errors.New("agent busy")
)

// Config controls pool sizing, timeouts and supervision.
type Config struct {
	// MinAgents is the floor kept by Warm and by idle reaping.
	MinAgents int `mapstructure:"min_agents"`
	// MaxAgents is the hard cap on live agents. Required.
	MaxAgents int `mapstructure:"max_agents"`
	// MaxConcurrentTasks bounds simultaneous executions. Zero means no bound
	// beyond MaxAgents.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	// IdleTimeout stops idle agents above MinAgents after this long. Zero
	// disables reaping.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// DefaultTaskTimeout bounds a single Execute call. Zero means none.
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"`
	// HealthCheckEnabled starts the background supervision loop.
	HealthCheckEnabled bool `mapstructure:"health_check_enabled"`
	// HealthCheckInterval is the period of the supervision loop.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	// AutoRestart replaces unhealthy agents with fresh ones.
	AutoRestart bool `mapstructure:"auto_restart"`
	// MaxTaskRetries is how many extra attempts a failed task gets.
	MaxTaskRetries int `mapstructure:"max_task_retries"`
	// RetryDelay is the pause between task attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxAgents:           10,
		MaxConcurrentTasks:  10,
		HealthCheckEnabled:  true,
		HealthCheckInterval: 30 * time.Second,
		AutoRestart:         true,
		RetryDelay:          time.Second,
	}
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	Total          int                       `json:"total"`
	ByState        map[models.AgentState]int `json:"by_state"`
	Healthy        int                       `json:"healthy"`
	TasksCompleted int                       `json:"tasks_completed"`
	TasksFailed    int                       `json:"tasks_failed"`
}

type listenerEntry struct {
	id uint64
	fn lifecycle.Listener
}

// Pool is a bounded, supervised set of agents. It is safe for concurrent use.
type Pool struct {
	cfg       Config
	factory   agent.Factory
	executor  agent.TaskExecutor
	lifecycle *lifecycle.Manager
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *Metrics

	mu        sync.RWMutex
	agents    map[string]*models.AgentInstance
	order     []string
	spawning  int
	destroyed bool

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener uint64

	sem    chan struct{}
	ticker clockwork.Ticker
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the clock used for timestamps and the health ticker.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithLifecycle routes pool events through m. Without it the pool uses a
// private manager.
func WithLifecycle(m *lifecycle.Manager) Option {
	return func(p *Pool) { p.lifecycle = m }
}

// WithMetrics sets the collectors the pool updates.
func WithMetrics(m *Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a pool and, when enabled, starts its health loop.
func New(cfg Config, factory agent.Factory, executor agent.TaskExecutor, opts ...Option) (*Pool, error) {
	if cfg.MaxAgents <= 0 {
		return nil, fmt.Errorf("max agents must be positive, got %d", cfg.MaxAgents)
	}
	if cfg.MinAgents > cfg.MaxAgents {
		return nil, fmt.Errorf("min agents %d exceeds max agents %d", cfg.MinAgents, cfg.MaxAgents)
	}
	if factory == nil || executor == nil {
		return nil, errors.New("factory and executor are required")
	}
	if cfg.HealthCheckEnabled && cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultConfig().HealthCheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		executor: executor,
		agents:   make(map[string]*models.AgentInstance),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("mod", "pool"))
	if p.lifecycle == nil {
		p.lifecycle = lifecycle.New(lifecycle.Options{Clock: p.clock, Logger: p.logger})
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if cfg.MaxConcurrentTasks > 0 {
		p.sem = make(chan struct{}, cfg.MaxConcurrentTasks)
	}

	if cfg.HealthCheckEnabled {
		p.ticker = p.clock.NewTicker(cfg.HealthCheckInterval)
		p.wg.Add(1)
		go p.healthLoop()
	}
	p.refreshGauges()
	return p, nil
}

// Lifecycle returns the event bus the pool emits on.
func (p *Pool) Lifecycle() *lifecycle.Manager {
	return p.lifecycle
}

// Spawn materializes a new agent through the factory and adds it to the pool.
func (p *Pool) Spawn(ctx context.Context, cfg models.AgentConfig) (*models.AgentInstance, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.agents)+p.spawning >= p.cfg.MaxAgents {
		p.mu.Unlock()
		return nil, &models.CapacityError{Resource: "agents", Limit: p.cfg.MaxAgents}
	}
	p.spawning++
	p.mu.Unlock()

	a, err := p.factory.Spawn(ctx, cfg)

	p.mu.Lock()
	p.spawning--
	if err == nil && a == nil {
		err = errors.New("factory returned no agent")
	}
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("spawn %s agent: %w", cfg.Role, err)
	}
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := p.agents[a.ID]; dup {
		p.mu.Unlock()
		return nil, fmt.Errorf("spawn %s agent: duplicate id %s", cfg.Role, a.ID)
	}
	a = a.Clone()
	a.State = models.AgentStateIdle
	p.agents[a.ID] = a
	p.order = append(p.order, a.ID)
	snapshot := a.Clone()
	p.refreshGaugesLocked()
	p.mu.Unlock()

	p.logger.Info("agent spawned", zap.String("agent", snapshot.ID), zap.String("role", string(snapshot.Role)))
	p.emit(lifecycle.EventCreated, snapshot, "", nil, nil)
	return snapshot.Clone(), nil
}

// Warm spawns agents from cfg until the pool holds MinAgents.
func (p *Pool) Warm(ctx context.Context, cfg models.AgentConfig) ([]*models.AgentInstance, error) {
	var spawned []*models.AgentInstance
	for {
		p.mu.RLock()
		n := len(p.agents) + p.spawning
		p.mu.RUnlock()
		if n >= p.cfg.MinAgents {
			return spawned, nil
		}
		a, err := p.Spawn(ctx, cfg)
		if err != nil {
			return spawned, err
		}
		spawned = append(spawned, a)
	}
}

// Execute runs task on the agent with the given id. An agent in the error
// state is restarted first (error -> starting -> running, emitting
// EventStarted). Execution failures are reported in the returned result,
// never as an error. Errors are returned only
// when the task could not be started: unknown agent, busy agent, destroyed
// pool, or ctx ending while waiting for a concurrency slot.
func (p *Pool) Execute(ctx context.Context, agentID string, task *models.Task) (*models.TaskResult, error) {
	return p.execute(ctx, task, true, func() (*models.AgentInstance, error) {
		a, ok := p.agents[agentID]
		if !ok {
			return nil, &models.NotFoundError{Kind: "agent", ID: agentID}
		}
		if a.State != models.AgentStateIdle && a.State != models.AgentStateError {
			return nil, fmt.Errorf("agent %s is %s: %w", agentID, a.State, ErrAgentBusy)
		}
		return a, nil
	})
}

// ExecuteOnIdle claims the oldest idle agent and runs task on it. When the
// task names a role only agents of that role are considered. It never waits:
// models.ErrNoIdleAgents is returned when no suitable agent is idle, or when
// every MaxConcurrentTasks slot is taken, at the moment of the call.
func (p *Pool) ExecuteOnIdle(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	return p.execute(ctx, task, false, func() (*models.AgentInstance, error) {
		for _, id := range p.order {
			a := p.agents[id]
			if a.State != models.AgentStateIdle {
				continue
			}
			if task.Role != "" && a.Role != task.Role {
				continue
			}
			return a, nil
		}
		return nil, models.ErrNoIdleAgents
	})
}

// execute claims the agent returned by pick under the pool lock, marks it
// running and runs task on it. With wait unset a full concurrency bound
// fails fast with models.ErrNoIdleAgents.
func (p *Pool) execute(ctx context.Context, task *models.Task, wait bool, pick func() (*models.AgentInstance, error)) (*models.TaskResult, error) {
	if task == nil {
		return nil, errors.New("nil task")
	}
	if p.sem != nil {
		if wait {
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			select {
			case p.sem <- struct{}{}:
			default:
				return nil, fmt.Errorf("%w: %d tasks already running", models.ErrNoIdleAgents, cap(p.sem))
			}
		}
		defer func() { <-p.sem }()
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	a, err := pick()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	start := p.clock.Now()
	var restarted *models.AgentInstance
	if a.State == models.AgentStateError {
		a.State = models.AgentStateStarting
		restarted = a.Clone()
	}
	a.State = models.AgentStateRunning
	a.CurrentTask = task.Clone()
	a.TaskStartedAt = start
	snapshot := a.Clone()
	p.refreshGaugesLocked()
	p.mu.Unlock()

	if restarted != nil {
		p.logger.Debug("agent restarted", zap.String("agent", restarted.ID), zap.String("task", task.ID))
		p.emit(lifecycle.EventStarted, restarted, task.ID, nil, nil)
	}
	p.emit(lifecycle.EventTaskStarted, snapshot, task.ID, nil, nil)

	res, attempts, runErr := p.run(ctx, snapshot, task)
	duration := p.clock.Since(start)
	now := p.clock.Now()

	result := &models.TaskResult{
		TaskID:   task.ID,
		AgentID:  snapshot.ID,
		Duration: duration,
		Attempts: attempts,
	}
	if res != nil {
		result.Output = res.Output
		result.TokensIn = res.TokensIn
		result.TokensOut = res.TokensOut
	}
	if runErr == nil {
		result.Success = true
	} else {
		result.Error = runErr.Error()
	}

	p.mu.Lock()
	if live, ok := p.agents[snapshot.ID]; ok {
		live.CurrentTask = nil
		live.LastActivityAt = now
		if result.Success {
			live.State = models.AgentStateIdle
			live.TasksCompleted++
			live.TotalExecutionTime += duration
			live.Health.ConsecutiveFailures = 0
		} else {
			live.State = models.AgentStateError
			live.TasksFailed++
			live.Health.ConsecutiveFailures++
		}
		snapshot = live.Clone()
	}
	p.refreshGaugesLocked()
	p.mu.Unlock()

	p.metrics.TaskDuration.WithLabelValues(string(snapshot.Role)).Observe(duration.Seconds())
	data := map[string]any{"duration_ms": duration.Milliseconds(), "attempts": attempts}
	if result.Success {
		p.metrics.Tasks.WithLabelValues("success").Inc()
		p.emit(lifecycle.EventTaskCompleted, snapshot, task.ID, nil, data)
	} else {
		p.metrics.Tasks.WithLabelValues("failure").Inc()
		p.logger.Warn("task failed",
			zap.String("agent", snapshot.ID),
			zap.String("task", task.ID),
			zap.Int("attempts", attempts),
			zap.Error(runErr))
		p.emit(lifecycle.EventTaskFailed, snapshot, task.ID, runErr, data)
	}
	return result, nil
}

// run calls the executor up to MaxTaskRetries+1 times. The returned error is
// the last attempt's failure, or nil on success.
func (p *Pool) run(ctx context.Context, a *models.AgentInstance, task *models.Task) (*models.TaskResult, int, error) {
	execCtx := ctx
	if p.cfg.DefaultTaskTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.cfg.DefaultTaskTimeout)
		defer cancel()
	}

	var (
		res      *models.TaskResult
		lastErr  error
		attempts int
	)
	retries := p.cfg.MaxTaskRetries
	if retries < 0 {
		retries = 0
	}
	r := retry.New(
		retry.Context(execCtx),
		retry.Attempts(uint(retries+1)),
		retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
			return p.cfg.RetryDelay
		}),
	)
	_ = r.Do(func() error {
		attempts++
		res, lastErr = p.invoke(execCtx, a, task)
		return lastErr
	})

	if lastErr == nil && execCtx.Err() != nil && res == nil {
		lastErr = execCtx.Err()
	}
	if lastErr != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		lastErr = &models.TimeoutError{After: p.cfg.DefaultTaskTimeout}
	}
	return res, attempts, lastErr
}

// invoke makes one executor call, turning a failed result or a panic into an
// error.
func (p *Pool) invoke(ctx context.Context, a *models.AgentInstance, task *models.Task) (res *models.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	res, err = p.executor.ExecuteTask(ctx, a.Clone(), task.Clone())
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, errors.New("executor returned no result")
	}
	if !res.Success {
		if res.Error == "" {
			return res, errors.New("task failed")
		}
		return res, errors.New(res.Error)
	}
	return res, nil
}

// Stop force-stops an agent and removes it from the pool.
func (p *Pool) Stop(agentID string) error {
	p.mu.Lock()
	a, ok := p.agents[agentID]
	if !ok {
		p.mu.Unlock()
		return &models.NotFoundError{Kind: "agent", ID: agentID}
	}
	a.State = models.AgentStateStopped
	a.CurrentTask = nil
	delete(p.agents, agentID)
	for i, id := range p.order {
		if id == agentID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	snapshot := a.Clone()
	p.refreshGaugesLocked()
	p.mu.Unlock()

	p.logger.Info("agent stopped", zap.String("agent", agentID))
	p.emit(lifecycle.EventStopped, snapshot, "", nil, nil)
	return nil
}

// StopAll force-stops every agent.
func (p *Pool) StopAll() {
	p.mu.RLock()
	ids := append([]string(nil), p.order...)
	p.mu.RUnlock()

	for _, id := range ids {
		// Already gone is fine.
		_ = p.Stop(id)
	}
}

// Get returns a copy of the agent with the given id.
func (p *Pool) Get(agentID string) (*models.AgentInstance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[agentID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// GetAll returns copies of every agent in creation order.
func (p *Pool) GetAll() []*models.AgentInstance {
	return p.filter(func(*models.AgentInstance) bool { return true })
}

// Idle returns copies of the idle agents in creation order.
func (p *Pool) Idle() []*models.AgentInstance {
	return p.filter(func(a *models.AgentInstance) bool { return a.State == models.AgentStateIdle })
}

// Available returns copies of the agents that can take a task now, in creation
// order: idle agents, and agents in the error state still below the unhealthy
// failure threshold, which Execute restarts.
func (p *Pool) Available() []*models.AgentInstance {
	return p.filter(func(a *models.AgentInstance) bool {
		switch a.State {
		case models.AgentStateIdle:
			return true
		case models.AgentStateError:
			return a.Health.ConsecutiveFailures < models.UnhealthyFailureThreshold
		}
		return false
	})
}

// Running returns copies of the running agents in creation order.
func (p *Pool) Running() []*models.AgentInstance {
	return p.filter(func(a *models.AgentInstance) bool { return a.State == models.AgentStateRunning })
}

func (p *Pool) filter(keep func(*models.AgentInstance) bool) []*models.AgentInstance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.AgentInstance, 0, len(p.order))
	for _, id := range p.order {
		if a := p.agents[id]; keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Len returns the number of live agents.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// Stats returns counts by state plus the healthy count.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		Total:   len(p.agents),
		ByState: make(map[models.AgentState]int, len(models.AllAgentStates)),
	}
	for _, st := range models.AllAgentStates {
		s.ByState[st] = 0
	}
	for _, a := range p.agents {
		s.ByState[a.State]++
		if a.Health.Healthy {
			s.Healthy++
		}
		s.TasksCompleted += a.TasksCompleted
		s.TasksFailed += a.TasksFailed
	}
	return s
}

// OnLifecycleEvent registers a pool-local listener for every event this pool
// emits. The returned function unsubscribes it.
func (p *Pool) OnLifecycleEvent(l lifecycle.Listener) func() {
	p.listenersMu.Lock()
	p.nextListener++
	id := p.nextListener
	p.listeners = append(p.listeners, listenerEntry{id: id, fn: l})
	p.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.listenersMu.Lock()
			defer p.listenersMu.Unlock()
			for i, e := range p.listeners {
				if e.id == id {
					p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Destroy stops the health loop, waits for in-flight restarts and force-stops
// every agent. The pool rejects new work afterwards.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.cancel()
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.wg.Wait()
	p.StopAll()

	p.logger.Info("pool destroyed")
	p.emit(lifecycle.EventDestroyed, nil, "", nil, nil)
}

// emit records the event on the lifecycle bus and then notifies pool-local
// listeners. Must not be called with p.mu held.
func (p *Pool) emit(kind lifecycle.EventKind, a *models.AgentInstance, taskID string, err error, data map[string]any) {
	ev := p.lifecycle.Emit(kind, a, taskID, err, data)

	p.listenersMu.RLock()
	targets := append([]listenerEntry(nil), p.listeners...)
	p.listenersMu.RUnlock()

	for _, t := range targets {
		p.notify(t, ev)
	}
}

func (p *Pool) notify(t listenerEntry, ev lifecycle.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool listener panicked", zap.String("event", string(ev.Kind)), zap.Any("panic", r))
		}
	}()
	t.fn(ev)
}

func (p *Pool) refreshGauges() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.refreshGaugesLocked()
}

func (p *Pool) refreshGaugesLocked() {
	counts := make(map[models.AgentState]int, len(models.AllAgentStates))
	for _, a := range p.agents {
		counts[a.State]++
	}
	for _, st := range models.AllAgentStates {
		p.metrics.Agents.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
