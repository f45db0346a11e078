package worker

import (
	"context"
	"log/slog"

	"github.com/jzx17/taskcore/pkg/cache"
	"github.com/jzx17/taskcore/pkg/retry"
	"github.com/jzx17/taskcore/pkg/types"
)

// The helpers below wrap a single operation outside of a pool. Each returns
// a plain types.Operation, so they nest in any order.

// Retrying runs op under executor's policy
func Retrying[V any](op types.Operation[V], executor *retry.RetryExecutor) types.Operation[V] {
	if executor == nil {
		executor = retry.NewRetryExecutor(nil)
	}
	return func(ctx context.Context) (V, error) {
		return retry.Execute(executor, ctx, retry.ExecuteFunc[V](op))
	}
}

// Memoized serves op from c under key, computing it at most once at a time
func Memoized[V any](op types.Operation[V], c *cache.Cache[V], key string) types.Operation[V] {
	return func(ctx context.Context) (V, error) {
		return c.GetOrCompute(ctx, key, cache.ComputeFunc[V](op))
	}
}

// Logged logs the start, duration and outcome of every execution of op
func Logged[V any](op types.Operation[V], logger *slog.Logger, name string) types.Operation[V] {
	return LoggedWithClock(op, logger, types.NewRealClock(), name)
}

// LoggedWithClock is Logged with durations measured on clock
func LoggedWithClock[V any](op types.Operation[V], logger *slog.Logger, clock types.Clock, name string) types.Operation[V] {
	if logger == nil {
		return op
	}
	if clock == nil {
		clock = types.NewRealClock()
	}
	return func(ctx context.Context) (V, error) {
		start := clock.Now()
		logger.DebugContext(ctx, "operation started", "task_id", name)

		v, err := op(ctx)

		if err != nil {
			logger.WarnContext(ctx, "operation failed",
				"task_id", name,
				"duration", clock.Since(start),
				"error", err)
			return v, err
		}
		logger.InfoContext(ctx, "operation finished",
			"task_id", name,
			"duration", clock.Since(start))
		return v, nil
	}
}
