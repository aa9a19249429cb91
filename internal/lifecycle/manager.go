// Package lifecycle implements the agent state machine and the event bus that
// records and fans out agent lifecycle events.
//
// A Manager is constructed explicitly and handed to whichever pools should
// share it; there is no package-level default instance.
package lifecycle

import (
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// DefaultHistorySize is the history capacity used when none is configured.
const DefaultHistorySize = 1000

// transitions is the allowed state transition table. Pairs not listed are
// rejected by Transition.
var transitions = map[models.AgentState][]models.AgentState{
	models.AgentStateIdle:     {models.AgentStateStarting, models.AgentStateStopping, models.AgentStateRunning},
	models.AgentStateStarting: {models.AgentStateRunning, models.AgentStateError, models.AgentStateStopping},
	models.AgentStateRunning:  {models.AgentStatePaused, models.AgentStateStopping, models.AgentStateError, models.AgentStateIdle},
	models.AgentStatePaused:   {models.AgentStateRunning, models.AgentStateStopping, models.AgentStateError},
	models.AgentStateStopping: {models.AgentStateStopped},
	models.AgentStateStopped:  {models.AgentStateStarting},
	models.AgentStateError:    {models.AgentStateStopping, models.AgentStateStarting},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.AgentState) bool {
	return slices.Contains(transitions[from], to)
}

// ListenerID identifies a registered listener for Off.
type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// Options configures a Manager.
type Options struct {
	// HistorySize bounds the event history; oldest events are dropped first.
	HistorySize int
	// Clock stamps event timestamps. Defaults to the real clock.
	Clock clockwork.Clock
	// Logger receives listener panics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Manager validates agent state transitions and records lifecycle events.
type Manager struct {
	clock       clockwork.Clock
	logger      *zap.Logger
	historySize int

	mu        sync.RWMutex
	listeners map[EventKind][]registration
	nextID    ListenerID
	history   []Event
}

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		clock:       opts.Clock,
		logger:      opts.Logger.With(zap.String("mod", "lifecycle")),
		historySize: opts.HistorySize,
		listeners:   make(map[EventKind][]registration),
	}
}

// Transition moves agent to state to if the table allows it, emitting the
// derived event. Returns false without touching agent otherwise.
func (m *Manager) Transition(agent *models.AgentInstance, to models.AgentState) bool {
	if agent == nil || !CanTransition(agent.State, to) {
		return false
	}
	from := agent.State
	agent.State = to
	if kind, ok := stateEvents[to]; ok {
		m.Emit(kind, agent, "", nil, map[string]any{"from": string(from), "to": string(to)})
	}
	return true
}

// On registers l for events of kind, or for every event when kind is EventAll.
func (m *Manager) On(kind EventKind, l Listener) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.listeners[kind] = append(m.listeners[kind], registration{id: m.nextID, fn: l})
	return m.nextID
}

// Off removes a listener registered with On. Returns false if it was not found.
func (m *Manager) Off(kind EventKind, id ListenerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := m.listeners[kind]
	for i, r := range regs {
		if r.id == id {
			m.listeners[kind] = slices.Delete(regs, i, i+1)
			return true
		}
	}
	return false
}

// Emit records an event in history and then notifies exact-kind listeners
// followed by wildcard listeners. taskID, err and data may be zero.
func (m *Manager) Emit(kind EventKind, agent *models.AgentInstance, taskID string, err error, data map[string]any) Event {
	ev := Event{
		Kind:      kind,
		Timestamp: m.clock.Now(),
		TaskID:    taskID,
		Err:       err,
		Data:      data,
	}
	if agent != nil {
		ev.AgentID = agent.ID
		ev.Role = agent.Role
	}
	ev = ev.clone()

	m.mu.Lock()
	m.history = append(m.history, ev)
	if over := len(m.history) - m.historySize; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
	targets := make([]registration, 0, len(m.listeners[kind])+len(m.listeners[EventAll]))
	targets = append(targets, m.listeners[kind]...)
	if kind != EventAll {
		targets = append(targets, m.listeners[EventAll]...)
	}
	m.mu.Unlock()

	for _, r := range targets {
		m.notify(r, ev)
	}
	return ev
}

func (m *Manager) notify(r registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("lifecycle listener panicked",
				zap.String("event", string(ev.Kind)),
				zap.Uint64("listener", uint64(r.id)),
				zap.Any("panic", p))
		}
	}()
	r.fn(ev.clone())
}

// History returns up to limit of the most recent events, oldest first. When
// agentID is non-empty only that agent's events are considered. A limit of
// zero or less returns every matching event.
func (m *Manager) History(agentID string, limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, ev := range m.history {
		if agentID == "" || ev.AgentID == agentID {
			out = append(out, ev.clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// AgentTimeline returns every recorded event for agentID, oldest first.
func (m *Manager) AgentTimeline(agentID string) []Event {
	return m.History(agentID, 0)
}

// ClearHistory drops all recorded events. Listeners are kept.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}
