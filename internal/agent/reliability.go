package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// ProtectionConfig tunes ProtectedExecutor.
type ProtectionConfig struct {
	// RateLimit is calls per second across all agents. Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the limiter bucket size.
	Burst int `mapstructure:"burst"`
	// BreakerFailures is how many consecutive failures open the breaker.
	BreakerFailures uint32 `mapstructure:"breaker_failures"`
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	// RetryAttempts is the total number of calls per task, including the first.
	RetryAttempts uint `mapstructure:"retry_attempts"`
	// RetryDelay is the base backoff between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// DefaultProtectionConfig returns the settings used by the CLI.
func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		RateLimit:       5,
		Burst:           5,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      500 * time.Millisecond,
	}
}

// ProtectedExecutor guards a TaskExecutor with a rate limiter, a circuit
// breaker and retries of transport errors. Results with Success false are
// passed through untouched; only returned errors are retried.
type ProtectedExecutor struct {
	next    TaskExecutor
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	cfg     ProtectionConfig
	logger  *zap.Logger
}

// NewProtectedExecutor wraps next.
func NewProtectedExecutor(next TaskExecutor, cfg ProtectionConfig, logger *zap.Logger) *ProtectedExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("mod", "executor"))
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultProtectionConfig().BreakerFailures
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	threshold := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "task-executor",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &ProtectedExecutor{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		cb:      cb,
		cfg:     cfg,
		logger:  logger,
	}
}

// ExecuteTask waits for a rate-limit token, then runs next inside the breaker
// with retries.
func (p *ProtectedExecutor) ExecuteTask(ctx context.Context, agent *models.AgentInstance, task *models.Task) (*models.TaskResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	out, err := p.cb.Execute(func() (interface{}, error) {
		var res *models.TaskResult
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(p.cfg.RetryAttempts),
			retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
				return p.cfg.RetryDelay * time.Duration(n+1)
			}),
		)
		retryErr := r.Do(func() error {
			var callErr error
			res, callErr = p.next.ExecuteTask(ctx, agent, task)
			if callErr != nil {
				p.logger.Debug("executor attempt failed",
					zap.String("agent", agent.ID),
					zap.String("task", task.ID),
					zap.Error(callErr))
			}
			return callErr
		})
		return res, retryErr
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.TaskResult), nil
}

// BreakerState reports the circuit breaker state.
func (p *ProtectedExecutor) BreakerState() gobreaker.State {
	return p.cb.State()
}
