package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates the task has been claimed for an agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusRunning indicates an agent is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Priority orders pending tasks. Lower rank is dispatched first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the dispatch rank: critical=0, high=1, normal=2, low=3.
// Unknown priorities rank with normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// TaskSpec is the caller-supplied part of a task. Everything else is filled
// in when the task is materialized.
type TaskSpec struct {
	// ID is optional; a fresh id is generated when empty.
	ID string `json:"id,omitempty" yaml:"id"`
	// Description is a short summary of the work.
	Description string `json:"description" yaml:"description"`
	// Prompt is the payload handed to the executing agent.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`
	// Priority defaults to normal.
	Priority Priority `json:"priority,omitempty" yaml:"priority"`
	// Dependencies lists task ids that must complete first.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`
	// Role optionally restricts which agents may run the task.
	Role Role `json:"role,omitempty" yaml:"role"`
	// Metadata carries caller-defined labels.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// Task represents a unit of work. Once Status is terminal the record is
// only changed by explicit cleanup or removal.
type Task struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	Prompt       string            `json:"prompt,omitempty"`
	Priority     Priority          `json:"priority"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Role         Role              `json:"role,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Status       TaskStatus        `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	// Attempts is the number of execution attempts made so far.
	Attempts int         `json:"attempts"`
	Result   *TaskResult `json:"result,omitempty"`
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "task-" + uuid.New().String()[:8]
}

// NewTask materializes a pending task from spec.
func NewTask(spec TaskSpec, now time.Time) *Task {
	id := spec.ID
	if id == "" {
		id = NewTaskID()
	}
	priority := spec.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:           id,
		Description:  spec.Description,
		Prompt:       spec.Prompt,
		Priority:     priority,
		Dependencies: append([]string(nil), spec.Dependencies...),
		Role:         spec.Role,
		Metadata:     copyMetadata(spec.Metadata),
		Status:       TaskStatusPending,
		CreatedAt:    now,
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Metadata = copyMetadata(t.Metadata)
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

// TaskResult is the outcome of one task execution. A failed execution is
// reported as data (Success=false, Error set) rather than as a Go error.
type TaskResult struct {
	TaskID    string        `json:"task_id"`
	AgentID   string        `json:"agent_id,omitempty"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts,omitempty"`
	TokensIn  int64         `json:"tokens_in,omitempty"`
	TokensOut int64         `json:"tokens_out,omitempty"`
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
