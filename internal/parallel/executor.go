// Package parallel fans task batches out across a pool's idle agents under a
// completion policy.
//
// Dispatch is greedy: every task goes to whichever agent is idle at that
// instant, and a task that finds no idle agent fails with
// models.ErrNoIdleAgents instead of waiting.
package parallel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// Mode selects how a batch completes.
type Mode string

const (
	// ModeRace returns the first task to settle, success or failure.
	ModeRace Mode = "race"
	// ModeAny returns the first successful task.
	ModeAny Mode = "any"
	// ModeAll runs every task in batches of the effective width.
	ModeAll Mode = "all"
)

// Valid returns true if the mode is known.
func (m Mode) Valid() bool {
	switch m {
	case ModeRace, ModeAny, ModeAll:
		return true
	}
	return false
}

// Dispatcher runs a task on an idle agent. *pool.Pool implements it.
type Dispatcher interface {
	ExecuteOnIdle(ctx context.Context, task *models.Task) (*models.TaskResult, error)
}

// ProgressFunc is called after each batch in ModeAll.
type ProgressFunc func(completed, total int)

// Config controls one fan-out.
type Config struct {
	// MaxParallel bounds concurrency width. Values below one mean one.
	MaxParallel int `mapstructure:"max_parallel"`
	// Mode is the completion policy.
	Mode Mode `mapstructure:"mode"`
	// Timeout bounds ExecuteWithTimeout. Zero means no deadline.
	Timeout time.Duration `mapstructure:"timeout"`
	// OnProgress is optional.
	OnProgress ProgressFunc `mapstructure:"-"`
}

// DefaultConfig returns the default fan-out configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel: 3,
		Mode:        ModeAll,
	}
}

// Result aggregates a fan-out.
type Result struct {
	Results      []*models.TaskResult `json:"results"`
	SuccessCount int                  `json:"success_count"`
	FailureCount int                  `json:"failure_count"`
	// AllSucceeded compares SuccessCount with the number of submitted tasks,
	// so it can only be true in ModeRace and ModeAny for single-task batches.
	AllSucceeded bool          `json:"all_succeeded"`
	Duration     time.Duration `json:"duration"`
	Errors       []error       `json:"-"`
}

// Executor runs task batches on a Dispatcher.
type Executor struct {
	pool   Dispatcher
	clock  clockwork.Clock
	logger *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock for task timestamps, durations and timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor dispatching onto pool.
func New(pool Dispatcher, opts ...Option) *Executor {
	e := &Executor{pool: pool}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("mod", "parallel"))
	return e
}

type outcome struct {
	result *models.TaskResult
	err    error
}

type outcomeBatch struct {
	result *Result
	err    error
}

// Execute materializes specs into tasks and runs them under cfg.Mode.
//
// In ModeRace a dispatch error that settles first is returned as the error.
// In ModeAny failures are skipped and an all-failed batch yields an empty
// result with no error. In ModeAll every outcome is captured per task;
// dispatch errors become failed results and are also listed in Errors.
func (e *Executor) Execute(ctx context.Context, specs []models.TaskSpec, cfg Config) (*Result, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown parallel mode %q", cfg.Mode)
	}
	start := e.clock.Now()
	tasks := make([]*models.Task, len(specs))
	for i, spec := range specs {
		tasks[i] = models.NewTask(spec, start)
	}

	res := &Result{}
	var err error
	if len(tasks) > 0 {
		switch cfg.Mode {
		case ModeRace:
			err = e.race(ctx, tasks, res)
		case ModeAny:
			e.firstSuccess(ctx, tasks, res)
		case ModeAll:
			err = e.all(ctx, tasks, width(cfg.MaxParallel, len(tasks)), cfg.OnProgress, res)
		}
	}

	for _, r := range res.Results {
		if r.Success {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}
	res.AllSucceeded = res.SuccessCount == len(tasks)
	res.Duration = e.clock.Since(start)

	e.logger.Debug("fan-out finished",
		zap.String("mode", string(cfg.Mode)),
		zap.Int("tasks", len(tasks)),
		zap.Int("succeeded", res.SuccessCount),
		zap.Int("failed", res.FailureCount),
		zap.Duration("duration", res.Duration))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteWithTimeout runs Execute under cfg.Timeout. When the deadline fires
// it returns a *models.TimeoutError. Dispatches still in flight when it
// returns, including race and any losers, see their context cancelled.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, specs []models.TaskSpec, cfg Config) (*Result, error) {
	if cfg.Timeout <= 0 {
		return e.Execute(ctx, specs, cfg)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcomeBatch, 1)
	go func() {
		r, err := e.Execute(dctx, specs, cfg)
		done <- outcomeBatch{r, err}
	}()

	timer := e.clock.NewTimer(cfg.Timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.result, o.err
	case <-timer.Chan():
		e.logger.Warn("fan-out timed out", zap.Duration("timeout", cfg.Timeout), zap.Int("tasks", len(specs)))
		return nil, &models.TimeoutError{After: cfg.Timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func width(maxParallel, n int) int {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return min(maxParallel, n)
}

// launch dispatches every task concurrently and streams outcomes.
func (e *Executor) launch(ctx context.Context, tasks []*models.Task) <-chan outcome {
	out := make(chan outcome, len(tasks))
	for _, task := range tasks {
		go func(task *models.Task) {
			r, err := e.pool.ExecuteOnIdle(ctx, task)
			out <- outcome{result: r, err: err}
		}(task)
	}
	return out
}

func (e *Executor) race(ctx context.Context, tasks []*models.Task, res *Result) error {
	select {
	case o := <-e.launch(ctx, tasks):
		if o.err != nil {
			res.Errors = append(res.Errors, o.err)
			return o.err
		}
		res.Results = append(res.Results, o.result)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) firstSuccess(ctx context.Context, tasks []*models.Task, res *Result) {
	outcomes := e.launch(ctx, tasks)
	for range tasks {
		select {
		case o := <-outcomes:
			if o.err != nil {
				res.Errors = append(res.Errors, o.err)
				continue
			}
			if o.result.Success {
				res.Results = append(res.Results, o.result)
				return
			}
		case <-ctx.Done():
			res.Errors = append(res.Errors, ctx.Err())
			return
		}
	}
}

func (e *Executor) all(ctx context.Context, tasks []*models.Task, w int, progress ProgressFunc, res *Result) error {
	total := len(tasks)
	for lo := 0; lo < total; lo += w {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := tasks[lo:min(lo+w, total)]
		results := make([]*models.TaskResult, len(batch))

		var mu sync.Mutex
		var g errgroup.Group
		for i, task := range batch {
			g.Go(func() error {
				r, err := e.pool.ExecuteOnIdle(ctx, task)
				if err != nil {
					mu.Lock()
					res.Errors = append(res.Errors, fmt.Errorf("dispatch %s: %w", task.ID, err))
					mu.Unlock()
					r = &models.TaskResult{TaskID: task.ID, Success: false, Error: err.Error()}
				}
				results[i] = r
				return nil
			})
		}
		_ = g.Wait()

		res.Results = append(res.Results, results...)
		if progress != nil {
			progress(lo+len(batch), total)
		}
	}
	return nil
}
