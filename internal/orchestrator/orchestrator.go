// Package orchestrator drains a task queue onto a pool of agents.
//
// Run claims every task that is ready and has a free agent of a suitable role,
// executes it, and records the outcome back on the queue. Completions unblock
// dependents, so the loop keeps dispatching until no pending task can still
// become eligible.
package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/internal/pool"
	"github.com/ShayCichocki/agentcore/internal/queue"
	"github.com/ShayCichocki/agentcore/pkg/models"
)

// Agents is the part of *pool.Pool the dispatch loop needs.
type Agents interface {
	// Available lists agents that can take a task now. Execute restarts
	// any that are in the error state.
	Available() []*models.AgentInstance
	Execute(ctx context.Context, agentID string, task *models.Task) (*models.TaskResult, error)
}

// Summary counts the outcomes of one Run.
type Summary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// Starved lists tasks still pending when the loop stopped, because a
	// dependency failed or is missing, or because no agent has their role.
	Starved []string `json:"starved,omitempty"`
}

// ResultFunc observes each finished task.
type ResultFunc func(task *models.Task, result *models.TaskResult)

// Orchestrator runs queued tasks on agents.
type Orchestrator struct {
	queue    *queue.TaskQueue
	agents   Agents
	logger   *zap.Logger
	onResult ResultFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResultHandler registers fn to be called after every task finishes.
func WithResultHandler(fn ResultFunc) Option {
	return func(o *Orchestrator) { o.onResult = fn }
}

// New creates an Orchestrator. A nil logger discards output.
func New(q *queue.TaskQueue, agents Agents, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		queue:  q,
		agents: agents,
		logger: logger.With(zap.String("mod", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type finished struct {
	task    *models.Task
	agentID string
	result  *models.TaskResult
	err     error
}

// Run dispatches until nothing more can run or ctx ends. On cancellation it
// waits for in-flight tasks to settle, records them, and returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	busy := make(map[string]bool)
	done := make(chan finished)
	inflight := 0

	for {
		if err := ctx.Err(); err != nil {
			for ; inflight > 0; inflight-- {
				o.finish(ctx, <-done, &sum)
			}
			sum.Starved = o.pending()
			o.logger.Warn("dispatch interrupted", zap.Error(err))
			return sum, err
		}

		inflight += o.dispatch(ctx, busy, done)
		if inflight == 0 {
			break
		}

		select {
		case f := <-done:
			inflight--
			delete(busy, f.agentID)
			o.finish(ctx, f, &sum)
		case <-ctx.Done():
		}
	}

	sum.Starved = o.pending()
	o.logger.Info("dispatch finished",
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
		zap.Int("starved", len(sum.Starved)))
	return sum, nil
}

// dispatch starts every ready task that has a free agent and returns how many
// were started.
func (o *Orchestrator) dispatch(ctx context.Context, busy map[string]bool, done chan<- finished) int {
	var free []*models.AgentInstance
	for _, a := range o.agents.Available() {
		if !busy[a.ID] {
			free = append(free, a)
		}
	}

	started := 0
	for len(free) > 0 {
		task := o.queue.ClaimMatching(func(t *models.Task) bool {
			return pickAgent(free, t.Role) >= 0
		})
		if task == nil {
			break
		}
		i := pickAgent(free, task.Role)
		a := free[i]
		free = append(free[:i], free[i+1:]...)

		if err := o.queue.UpdateStatus(task.ID, models.TaskStatusRunning); err != nil {
			// Removed from the queue after the claim.
			continue
		}
		busy[a.ID] = true
		started++
		o.logger.Debug("task dispatched", zap.String("task", task.ID), zap.String("agent", a.ID))

		go func(agentID string, task *models.Task) {
			res, err := o.agents.Execute(ctx, agentID, task)
			done <- finished{task: task, agentID: agentID, result: res, err: err}
		}(a.ID, task)
	}
	return started
}

// pickAgent returns the index of the first agent able to take role, or -1.
func pickAgent(agents []*models.AgentInstance, role models.Role) int {
	for i, a := range agents {
		if role == "" || a.Role == role {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) finish(ctx context.Context, f finished, sum *Summary) {
	if f.err != nil {
		// The agent went away between listing and execution.
		if ctx.Err() == nil && (errors.Is(f.err, pool.ErrAgentBusy) || errors.Is(f.err, models.ErrNotFound)) {
			o.logger.Debug("task requeued", zap.String("task", f.task.ID), zap.Error(f.err))
			_ = o.queue.UpdateStatus(f.task.ID, models.TaskStatusPending)
			return
		}
		f.result = &models.TaskResult{TaskID: f.task.ID, AgentID: f.agentID, Success: false, Error: f.err.Error()}
	}

	if err := o.queue.Finish(f.task.ID, f.result); err != nil {
		o.logger.Warn("task result not recorded", zap.String("task", f.task.ID), zap.Error(err))
		return
	}
	if f.result.Success {
		sum.Completed++
		o.logger.Info("task completed", zap.String("task", f.task.ID), zap.String("agent", f.agentID))
	} else {
		sum.Failed++
		o.logger.Warn("task failed", zap.String("task", f.task.ID), zap.String("agent", f.agentID), zap.String("error", f.result.Error))
	}

	if o.onResult != nil {
		task, ok := o.queue.Get(f.task.ID)
		if !ok {
			task = f.task
		}
		o.onResult(task, f.result)
	}
}

func (o *Orchestrator) pending() []string {
	var ids []string
	for _, t := range o.queue.GetByStatus(models.TaskStatusPending) {
		ids = append(ids, t.ID)
	}
	return ids
}
