// Package queue holds pending units of work and selects the next one that is
// ready to run, honoring priority rank and task dependencies.
package queue

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// DefaultMaxSize is the queue capacity used when Config.MaxSize is zero.
const DefaultMaxSize = 1000

// Config controls queue capacity and selection behavior.
type Config struct {
	// MaxSize is the maximum number of tasks held, in any status.
	MaxSize int `mapstructure:"max_size"`
	// PriorityOrdering orders eligible tasks by priority rank.
	PriorityOrdering bool `mapstructure:"priority_ordering"`
	// DependencyTracking restricts selection to tasks whose dependencies
	// have all completed.
	DependencyTracking bool `mapstructure:"dependency_tracking"`
	// RejectUnknownDependencies makes Enqueue fail when a dependency id is
	// not in the queue. When false such tasks simply never become eligible.
	RejectUnknownDependencies bool `mapstructure:"reject_unknown_dependencies"`
}

// DefaultConfig returns a config with ordering and dependency tracking on.
func DefaultConfig() Config {
	return Config{
		MaxSize:            DefaultMaxSize,
		PriorityOrdering:   true,
		DependencyTracking: true,
	}
}

// Stats is a point-in-time count of tasks by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// TaskQueue stores tasks keyed by id and remembers enqueue order so that
// equal-priority tasks are selected first-in first-out.
type TaskQueue struct {
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*models.Task
	order []string
}

// Option configures a TaskQueue.
type Option func(*TaskQueue)

// WithClock sets the clock used for task timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(q *TaskQueue) { q.clock = c }
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *TaskQueue) {
		if l != nil {
			q.logger = l.With(zap.String("mod", "queue"))
		}
	}
}

// New creates an empty queue.
func New(cfg Config, opts ...Option) *TaskQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	q := &TaskQueue{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
		tasks:  make(map[string]*models.Task),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue materializes spec into a pending task and stores it.
func (q *TaskQueue) Enqueue(spec models.TaskSpec) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) >= q.cfg.MaxSize {
		return nil, &models.CapacityError{Resource: "task queue", Limit: q.cfg.MaxSize}
	}
	if q.cfg.RejectUnknownDependencies {
		for _, dep := range spec.Dependencies {
			if _, ok := q.tasks[dep]; !ok {
				return nil, &models.NotFoundError{Kind: "dependency", ID: dep}
			}
		}
	}

	task := models.NewTask(spec, q.clock.Now())
	if _, exists := q.tasks[task.ID]; exists {
		if spec.ID != "" {
			return nil, &models.DuplicateError{Kind: "task", ID: spec.ID}
		}
		task.ID = models.NewTaskID()
	}
	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("priority", string(task.Priority)),
		zap.Strings("dependencies", task.Dependencies))

	return task.Clone(), nil
}

// Dequeue selects the next eligible task without removing it or changing its
// status. Callers must call UpdateStatus (or use Claim) to keep the same task
// from being selected again. Returns nil when nothing is eligible.
func (q *TaskQueue) Dequeue() *models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task := q.selectLocked(nil)
	return task.Clone()
}

// Claim selects the next eligible task and marks it assigned in one step.
func (q *TaskQueue) Claim() *models.Task {
	return q.ClaimMatching(nil)
}

// ClaimMatching is Claim restricted to eligible tasks accepted by match.
// A nil match accepts every task.
func (q *TaskQueue) ClaimMatching(match func(*models.Task) bool) *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.selectLocked(match)
	if task == nil {
		return nil
	}
	task.Status = models.TaskStatusAssigned
	return task.Clone()
}

// selectLocked returns the first eligible task. Caller must hold q.mu.
func (q *TaskQueue) selectLocked(match func(*models.Task) bool) *models.Task {
	var eligible []*models.Task
	for _, id := range q.order {
		task := q.tasks[id]
		if task.Status != models.TaskStatusPending {
			continue
		}
		if q.cfg.DependencyTracking && !q.dependenciesMetLocked(task) {
			continue
		}
		if match != nil && !match(task) {
			continue
		}
		eligible = append(eligible, task)
	}
	if len(eligible) == 0 {
		return nil
	}

	if q.cfg.PriorityOrdering {
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].Priority.Rank() < eligible[j].Priority.Rank()
		})
	}
	return eligible[0]
}

// dependenciesMetLocked reports whether every dependency has completed.
// A dependency id that is not in the queue is never satisfied.
func (q *TaskQueue) dependenciesMetLocked(task *models.Task) bool {
	for _, dep := range task.Dependencies {
		d, ok := q.tasks[dep]
		if !ok || d.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// UpdateStatus sets a task's status. Entering running stamps StartedAt and
// entering a terminal status stamps CompletedAt, each only if unset.
// Transition legality is not checked.
func (q *TaskQueue) UpdateStatus(id string, status models.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	q.setStatusLocked(task, status)
	return nil
}

func (q *TaskQueue) setStatusLocked(task *models.Task, status models.TaskStatus) {
	task.Status = status
	now := q.clock.Now()
	if status == models.TaskStatusRunning && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if status.IsTerminal() && task.CompletedAt == nil {
		task.CompletedAt = &now
	}
}

// Finish records an execution result and moves the task to completed or
// failed according to result.Success. A task already in a terminal status is
// left untouched and a *models.FinishedError is returned.
func (q *TaskQueue) Finish(id string, result *models.TaskResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return &models.NotFoundError{Kind: "task", ID: id}
	}
	if task.Status.IsTerminal() {
		return &models.FinishedError{ID: id, Status: task.Status}
	}
	if result == nil {
		q.setStatusLocked(task, models.TaskStatusFailed)
		return nil
	}

	r := *result
	task.Result = &r
	if r.Attempts > 0 {
		task.Attempts = r.Attempts
	}
	if task.StartedAt == nil {
		q.setStatusLocked(task, models.TaskStatusRunning)
	}
	if r.Success {
		q.setStatusLocked(task, models.TaskStatusCompleted)
	} else {
		q.setStatusLocked(task, models.TaskStatusFailed)
	}
	return nil
}

// Get returns a copy of the task with the given id.
func (q *TaskQueue) Get(id string) (*models.Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Remove deletes a single task. Returns false if it was not present.
func (q *TaskQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[id]; !ok {
		return false
	}
	delete(q.tasks, id)
	q.compactOrderLocked()
	return true
}

// Cleanup removes every task in a terminal status and returns how many
// were removed.
func (q *TaskQueue) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, task := range q.tasks {
		if task.Status.IsTerminal() {
			delete(q.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		q.compactOrderLocked()
		q.logger.Debug("queue cleanup", zap.Int("removed", removed))
	}
	return removed
}

func (q *TaskQueue) compactOrderLocked() {
	kept := q.order[:0]
	for _, id := range q.order {
		if _, ok := q.tasks[id]; ok {
			kept = append(kept, id)
		}
	}
	q.order = kept
}

// Clear drops every task.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = make(map[string]*models.Task)
	q.order = nil
}

// GetByStatus returns copies of all tasks with the given status in enqueue
// order.
func (q *TaskQueue) GetByStatus(status models.TaskStatus) []*models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*models.Task
	for _, id := range q.order {
		if task := q.tasks[id]; task.Status == status {
			out = append(out, task.Clone())
		}
	}
	return out
}

// Starved returns pending tasks that reference a dependency id absent from
// the queue. Such tasks can never become eligible.
func (q *TaskQueue) Starved() []*models.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*models.Task
	for _, id := range q.order {
		task := q.tasks[id]
		if task.Status != models.TaskStatusPending {
			continue
		}
		for _, dep := range task.Dependencies {
			if _, ok := q.tasks[dep]; !ok {
				out = append(out, task.Clone())
				break
			}
		}
	}
	return out
}

// Len returns the number of tasks held.
func (q *TaskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// Stats returns counts by status.
func (q *TaskQueue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{Total: len(q.tasks)}
	for _, task := range q.tasks {
		switch task.Status {
		case models.TaskStatusPending:
			s.Pending++
		case models.TaskStatusAssigned:
			s.Assigned++
		case models.TaskStatusRunning:
			s.Running++
		case models.TaskStatusCompleted:
			s.Completed++
		case models.TaskStatusFailed:
			s.Failed++
		case models.TaskStatusCancelled:
			s.Cancelled++
		}
	}
	return s
}
