// Package retry provides retry executor implementation
package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jzx17/taskcore/pkg/types"
)

// RetryExecutor implements retry execution logic
type RetryExecutor struct {
	policy       RetryPolicy
	eventHandler EventHandler
	stats        RetryStats
	clock        types.Clock
}

// ExecuteFunc is the function type to retry
type ExecuteFunc[T any] func(ctx context.Context) (T, error)

// RetryStats contains retry statistics
type RetryStats struct {
	TotalAttempts   int64         // total attempt count
	TotalRetries    int64         // operations that needed more than one attempt
	TotalSuccesses  int64         // total success count
	TotalFailures   int64         // total failure count
	TotalCancelled  int64         // executions interrupted by their context
	AverageAttempts float64       // average attempt count
	LastRetryTime   time.Time     // last retry time
	TotalRetryDelay time.Duration // total retry delay time
	mu              sync.RWMutex
}

// EventHandler handles retry events
type EventHandler interface {
	OnRetryAttempt(ctx context.Context, name string, attempt int, err error)
	OnRetrySuccess(ctx context.Context, name string, attempt int, duration time.Duration)
	OnRetryFailure(ctx context.Context, name string, attempt int, err error)
	OnMaxAttemptsReached(ctx context.Context, name string, attempt int, err error)
}

// NewRetryExecutor creates a retry executor. A nil policy uses DefaultPolicy.
func NewRetryExecutor(policy RetryPolicy, opts ...ExecutorOption) *RetryExecutor {
	if policy == nil {
		policy = DefaultPolicy()
	}

	executor := &RetryExecutor{
		policy: policy,
		clock:  types.NewRealClock(),
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Policy returns the executor's retry policy
func (r *RetryExecutor) Policy() RetryPolicy {
	return r.policy
}

// Execute executes a function with retry logic
func Execute[T any](r *RetryExecutor, ctx context.Context, fn ExecuteFunc[T]) (T, error) {
	v, _, err := ExecuteWithName(r, ctx, "default", fn)
	return v, err
}

// ExecuteWithAttempts executes a function with retry logic and reports the
// number of executions of fn
func ExecuteWithAttempts[T any](r *RetryExecutor, ctx context.Context, fn ExecuteFunc[T]) (T, int, error) {
	return ExecuteWithName(r, ctx, "default", fn)
}

// ExecuteWithName executes a function with retry logic (with name for events).
//
// On exhaustion or a non-retryable error it returns a *types.TaskFailure.
// If ctx ends before an attempt, during the delay between attempts, or while
// an attempt returns a context error, it returns a *types.CancelledError and
// makes no further attempts.
func ExecuteWithName[T any](r *RetryExecutor, ctx context.Context, name string, fn ExecuteFunc[T]) (T, int, error) {
	var zero T
	attempt := 0

	// reset policy state
	r.policy.Reset()

	for {
		// check if context is cancelled
		if err := ctx.Err(); err != nil {
			r.updateStats(func(stats *RetryStats) {
				stats.TotalCancelled++
			})
			return zero, attempt, &types.CancelledError{Attempts: attempt, Err: err}
		}

		attempt++
		r.updateStats(func(stats *RetryStats) {
			stats.TotalAttempts++
		})

		if r.eventHandler != nil && attempt > 1 {
			r.eventHandler.OnRetryAttempt(ctx, name, attempt, nil)
		}

		// execute function
		executeStart := r.clock.Now()
		result, err := fn(ctx)
		executeDuration := r.clock.Since(executeStart)

		// execution successful
		if err == nil {
			r.updateStats(func(stats *RetryStats) {
				stats.TotalSuccesses++
				if attempt > 1 {
					stats.TotalRetries++
				}
				stats.updateAverageAttempts()
			})

			if r.eventHandler != nil && attempt > 1 {
				r.eventHandler.OnRetrySuccess(ctx, name, attempt, executeDuration)
			}

			return result, attempt, nil
		}

		// the attempt was interrupted rather than failed
		if ctxErr := ctx.Err(); ctxErr != nil && types.IsCancellation(err) {
			r.updateStats(func(stats *RetryStats) {
				stats.TotalCancelled++
			})
			return zero, attempt, &types.CancelledError{Attempts: attempt, Err: ctxErr}
		}

		// check if should retry
		if !r.policy.ShouldRetry(err, attempt) {
			r.updateStats(func(stats *RetryStats) {
				stats.TotalFailures++
				if attempt > 1 {
					stats.TotalRetries++
				}
				stats.updateAverageAttempts()
			})

			if r.eventHandler != nil {
				if attempt >= r.policy.MaxAttempts() {
					r.eventHandler.OnMaxAttemptsReached(ctx, name, attempt, err)
				} else {
					r.eventHandler.OnRetryFailure(ctx, name, attempt, err)
				}
			}

			return zero, attempt, &types.TaskFailure{
				Attempts:    attempt,
				MaxAttempts: r.policy.MaxAttempts(),
				Err:         err,
			}
		}

		// calculate delay time
		delay := r.policy.NextDelay(attempt)

		r.updateStats(func(stats *RetryStats) {
			stats.LastRetryTime = r.clock.Now()
			stats.TotalRetryDelay += delay
		})

		// wait for retry delay
		if err := types.Sleep(ctx, r.clock, delay); err != nil {
			r.updateStats(func(stats *RetryStats) {
				stats.TotalCancelled++
			})
			return zero, attempt, &types.CancelledError{Attempts: attempt, Err: err}
		}
	}
}

// WithRetry runs fn with a linear backoff policy of maxAttempts total
// executions, waiting baseDelay*k after the k-th failure. It returns the
// number of executions made.
func WithRetry[T any](ctx context.Context, fn ExecuteFunc[T], maxAttempts int, baseDelay time.Duration) (T, int, error) {
	executor := NewRetryExecutor(NewLinearBackoffRetry(maxAttempts, baseDelay))
	return ExecuteWithAttempts(executor, ctx, fn)
}

// GetStats gets retry statistics
func (r *RetryExecutor) GetStats() RetryStats {
	r.stats.mu.RLock()
	defer r.stats.mu.RUnlock()
	return RetryStats{
		TotalAttempts:   r.stats.TotalAttempts,
		TotalRetries:    r.stats.TotalRetries,
		TotalSuccesses:  r.stats.TotalSuccesses,
		TotalFailures:   r.stats.TotalFailures,
		TotalCancelled:  r.stats.TotalCancelled,
		AverageAttempts: r.stats.AverageAttempts,
		LastRetryTime:   r.stats.LastRetryTime,
		TotalRetryDelay: r.stats.TotalRetryDelay,
		// don't copy mutex
	}
}

// ResetStats resets statistics
func (r *RetryExecutor) ResetStats() {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()

	r.stats.TotalAttempts = 0
	r.stats.TotalRetries = 0
	r.stats.TotalSuccesses = 0
	r.stats.TotalFailures = 0
	r.stats.TotalCancelled = 0
	r.stats.AverageAttempts = 0
	r.stats.LastRetryTime = time.Time{}
	r.stats.TotalRetryDelay = 0
}

// updateStats updates statistics (thread-safe)
func (r *RetryExecutor) updateStats(fn func(*RetryStats)) {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()
	fn(&r.stats)
}

// updateAverageAttempts updates average attempt count
func (s *RetryStats) updateAverageAttempts() {
	totalOperations := s.TotalSuccesses + s.TotalFailures
	if totalOperations > 0 {
		s.AverageAttempts = float64(s.TotalAttempts) / float64(totalOperations)
	}
}

// ExecutorOption is a configuration option for retry executor
type ExecutorOption func(*RetryExecutor)

// WithEventHandler sets the event handler
func WithEventHandler(handler EventHandler) ExecutorOption {
	return func(r *RetryExecutor) {
		r.eventHandler = handler
	}
}

// WithClock sets the clock for time operations
func WithClock(clock types.Clock) ExecutorOption {
	return func(r *RetryExecutor) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// DefaultEventHandler logs retry events
type DefaultEventHandler struct {
	logger *slog.Logger
}

// NewDefaultEventHandler creates a default event handler
func NewDefaultEventHandler(logger *slog.Logger) *DefaultEventHandler {
	return &DefaultEventHandler{logger: logger}
}

// OnRetryAttempt handles retry attempt events
func (h *DefaultEventHandler) OnRetryAttempt(ctx context.Context, name string, attempt int, err error) {
	if h.logger != nil {
		h.logger.DebugContext(ctx, "retry attempt starting",
			"task_id", name,
			"attempt", attempt)
	}
}

// OnRetrySuccess handles retry success events
func (h *DefaultEventHandler) OnRetrySuccess(ctx context.Context, name string, attempt int, duration time.Duration) {
	if h.logger != nil {
		h.logger.InfoContext(ctx, "retry succeeded",
			"task_id", name,
			"attempt", attempt,
			"duration", duration)
	}
}

// OnRetryFailure handles non-retryable failure events
func (h *DefaultEventHandler) OnRetryFailure(ctx context.Context, name string, attempt int, err error) {
	if h.logger != nil {
		h.logger.WarnContext(ctx, "retry stopped on non-retryable error",
			"task_id", name,
			"attempt", attempt,
			"error", err)
	}
}

// OnMaxAttemptsReached handles max attempts reached events
func (h *DefaultEventHandler) OnMaxAttemptsReached(ctx context.Context, name string, attempt int, err error) {
	if h.logger != nil {
		h.logger.ErrorContext(ctx, "max retry attempts reached",
			"task_id", name,
			"attempt", attempt,
			"error", err)
	}
}
