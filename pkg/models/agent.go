package models

import "time"

// UnhealthyFailureThreshold is the number of consecutive task failures at
// which an agent is reported unhealthy on the next health tick.
const UnhealthyFailureThreshold = 3

// AgentState represents the lifecycle state of an agent.
type AgentState string

const (
	// AgentStateIdle indicates the agent is available for work.
	AgentStateIdle AgentState = "idle"
	// AgentStateStarting indicates the agent is being brought up.
	AgentStateStarting AgentState = "starting"
	// AgentStateRunning indicates the agent is executing a task.
	AgentStateRunning AgentState = "running"
	// AgentStatePaused indicates the agent is temporarily suspended.
	AgentStatePaused AgentState = "paused"
	// AgentStateStopping indicates the agent is shutting down.
	AgentStateStopping AgentState = "stopping"
	// AgentStateStopped indicates the agent has shut down.
	AgentStateStopped AgentState = "stopped"
	// AgentStateError indicates the agent's last task failed.
	AgentStateError AgentState = "error"
)

// AllAgentStates lists every agent state in declaration order.
var AllAgentStates = []AgentState{
	AgentStateIdle, AgentStateStarting, AgentStateRunning, AgentStatePaused,
	AgentStateStopping, AgentStateStopped, AgentStateError,
}

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentStateIdle, AgentStateStarting, AgentStateRunning, AgentStatePaused,
		AgentStateStopping, AgentStateStopped, AgentStateError:
		return true
	default:
		return false
	}
}

// AgentHealth is the health record embedded in every agent.
type AgentHealth struct {
	// Healthy is recomputed at each health tick, not continuously.
	Healthy bool `json:"healthy"`
	// ConsecutiveFailures counts task failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// LastChecked is when the last health tick visited this agent.
	LastChecked time.Time `json:"last_checked"`
	// Issues is a free-form list of observations from the last tick.
	Issues []string `json:"issues,omitempty"`
}

// Recompute stamps the check time and derives Healthy from the failure count.
func (h *AgentHealth) Recompute(now time.Time) {
	h.LastChecked = now
	h.Healthy = h.ConsecutiveFailures < UnhealthyFailureThreshold
	h.Issues = h.Issues[:0]
	if !h.Healthy {
		h.Issues = append(h.Issues, "consecutive failure threshold reached")
	}
}

// AgentConfig describes how an agent should be materialized.
type AgentConfig struct {
	// Role selects the agent's capability set.
	Role Role `json:"role" yaml:"role" mapstructure:"role"`
	// Name is an optional human-readable label.
	Name string `json:"name,omitempty" yaml:"name" mapstructure:"name"`
	// Model overrides the role's default model.
	Model string `json:"model,omitempty" yaml:"model" mapstructure:"model"`
	// SystemPrompt is prepended to every task the agent runs.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt" mapstructure:"system_prompt"`
	// Tools restricts the agent to a subset of its role's tools.
	Tools []string `json:"tools,omitempty" yaml:"tools" mapstructure:"tools"`
	// ParentID is set when the agent is spawned by another agent.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id" mapstructure:"parent_id"`
	// Metadata carries caller-defined labels.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata" mapstructure:"metadata"`
}

// AgentInstance is a live, stateful worker. It runs at most one task at a
// time: CurrentTask is non-nil if and only if State is AgentStateRunning.
type AgentInstance struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Role is the agent's role.
	Role Role `json:"role"`
	// Config is the configuration the agent was spawned with.
	Config AgentConfig `json:"config"`
	// State is the current lifecycle state.
	State AgentState `json:"state"`
	// CurrentTask is the task being executed, if any.
	CurrentTask *Task `json:"current_task,omitempty"`
	// CreatedAt is when the agent was materialized.
	CreatedAt time.Time `json:"created_at"`
	// LastActivityAt is when the agent last finished a task.
	LastActivityAt time.Time `json:"last_activity_at"`
	// TaskStartedAt is when CurrentTask began.
	TaskStartedAt time.Time `json:"task_started_at,omitempty"`
	// TasksCompleted counts successful tasks.
	TasksCompleted int `json:"tasks_completed"`
	// TasksFailed counts failed tasks.
	TasksFailed int `json:"tasks_failed"`
	// TotalExecutionTime sums the duration of successful tasks.
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	// ParentID is the spawning agent, if any.
	ParentID string `json:"parent_id,omitempty"`
	// ChildIDs lists sub-agents spawned by this agent.
	ChildIDs []string `json:"child_ids,omitempty"`
	// Health is the embedded health record.
	Health AgentHealth `json:"health"`
}

// Clone returns a deep copy safe to hand to callers outside the pool lock.
func (a *AgentInstance) Clone() *AgentInstance {
	if a == nil {
		return nil
	}
	c := *a
	c.CurrentTask = a.CurrentTask.Clone()
	c.ChildIDs = append([]string(nil), a.ChildIDs...)
	c.Health.Issues = append([]string(nil), a.Health.Issues...)
	c.Config.Tools = append([]string(nil), a.Config.Tools...)
	if a.Config.Metadata != nil {
		c.Config.Metadata = make(map[string]string, len(a.Config.Metadata))
		for k, v := range a.Config.Metadata {
			c.Config.Metadata[k] = v
		}
	}
	return &c
}
