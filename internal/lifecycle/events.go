package lifecycle

import (
	"time"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// EventKind identifies a lifecycle event.
type EventKind string

const (
	// EventAll subscribes a listener to every event kind.
	EventAll EventKind = "*"

	// EventCreated indicates an agent was spawned into a pool.
	EventCreated EventKind = "created"
	// EventStarted indicates an agent entered the starting state.
	EventStarted EventKind = "started"
	// EventStopped indicates an agent was stopped.
	EventStopped EventKind = "stopped"
	// EventPaused indicates an agent was paused.
	EventPaused EventKind = "paused"
	// EventResumed indicates an agent returned to running.
	EventResumed EventKind = "resumed"
	// EventError indicates an agent entered the error state.
	EventError EventKind = "error"
	// EventTaskStarted indicates an agent began executing a task.
	EventTaskStarted EventKind = "task-started"
	// EventTaskCompleted indicates a task finished successfully.
	EventTaskCompleted EventKind = "task-completed"
	// EventTaskFailed indicates a task execution failed.
	EventTaskFailed EventKind = "task-failed"
	// EventHealthCheck reports an unhealthy agent found during a health tick.
	EventHealthCheck EventKind = "health-check"
	// EventRespawnFailed reports a failed automatic restart. Err holds a
	// *models.RespawnError.
	EventRespawnFailed EventKind = "respawn-failed"
	// EventDestroyed indicates a pool was torn down.
	EventDestroyed EventKind = "destroyed"
)

// stateEvents maps a target state to the event a successful transition emits.
// States not listed emit nothing.
var stateEvents = map[models.AgentState]EventKind{
	models.AgentStateStarting: EventStarted,
	models.AgentStateStopped:  EventStopped,
	models.AgentStatePaused:   EventPaused,
	models.AgentStateRunning:  EventResumed,
	models.AgentStateError:    EventError,
}

// Event is an immutable record of something that happened to an agent.
type Event struct {
	// Kind is the event type.
	Kind EventKind `json:"kind"`
	// AgentID is the subject agent.
	AgentID string `json:"agent_id"`
	// Role is the subject agent's role.
	Role models.Role `json:"role"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
	// TaskID is set for task events.
	TaskID string `json:"task_id,omitempty"`
	// Err is set for failure events.
	Err error `json:"-"`
	// Data carries kind-specific details.
	Data map[string]any `json:"data,omitempty"`
}

// Listener receives emitted events.
type Listener func(Event)

func (e Event) clone() Event {
	if e.Data != nil {
		d := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			d[k] = v
		}
		e.Data = d
	}
	return e
}
