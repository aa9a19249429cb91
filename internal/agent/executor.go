package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// TaskExecutor performs one task on one agent.
//
// A returned error means the attempt could not be carried out (transport,
// rate limit, cancellation). A result with Success false means the work ran
// and failed. Callers treat both as an execution failure.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, agent *models.AgentInstance, task *models.Task) (*models.TaskResult, error)
}

// ExecutorFunc adapts a function to the TaskExecutor interface.
type ExecutorFunc func(ctx context.Context, agent *models.AgentInstance, task *models.Task) (*models.TaskResult, error)

// ExecuteTask calls f.
func (f ExecutorFunc) ExecuteTask(ctx context.Context, agent *models.AgentInstance, task *models.Task) (*models.TaskResult, error) {
	return f(ctx, agent, task)
}

// SimulateFailKey is the task metadata key that makes a SimulatedExecutor
// report failure.
const SimulateFailKey = "simulate_fail"

// SimulatedExecutor completes every task after a fixed delay without calling
// out. Tasks whose metadata sets SimulateFailKey to "true" fail.
type SimulatedExecutor struct {
	Delay time.Duration
	Clock clockwork.Clock
}

// ExecuteTask waits Delay on Clock and reports the outcome.
func (s *SimulatedExecutor) ExecuteTask(ctx context.Context, agent *models.AgentInstance, task *models.Task) (*models.TaskResult, error) {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if s.Delay > 0 {
		select {
		case <-clock.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &models.TaskResult{
		TaskID:  task.ID,
		AgentID: agent.ID,
		Success: true,
		Output:  fmt.Sprintf("%s %s finished %q", agent.Role, agent.ID, task.Description),
	}
	if task.Metadata[SimulateFailKey] == "true" {
		res.Success = false
		res.Output = ""
		res.Error = "simulated failure"
	}
	return res, nil
}
