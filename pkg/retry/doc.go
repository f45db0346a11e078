// Package retry runs operations under a retry policy.
//
// Policies:
//   - LinearBackoffRetry: waits baseDelay*k after the k-th failure (the default)
//   - FixedDelayRetry: waits the same delay after every failure
//   - ExponentialBackoffRetry: multiplies the delay after every failure
//   - CustomRetry: delegates the delay to a DelayFunc
//
// Every policy counts maxAttempts as total executions, so a policy with
// maxAttempts=3 runs an operation at most three times and sleeps at most
// twice. Delays are capped by WithMaxDelay and can be jittered with
// WithJitter.
//
// The executor stops early when the context ends. A context that ends before
// an attempt or during a delay yields a *types.CancelledError; exhaustion or a
// non-retryable error yields a *types.TaskFailure carrying the attempt count
// and the last error. Errors wrapped with types.Permanent, worker faults and
// cancellations are never retried by DefaultRetryCondition.
//
// Basic usage:
//
//	executor := retry.NewRetryExecutor(retry.NewLinearBackoffRetry(3, time.Second))
//
//	result, attempts, err := retry.ExecuteWithAttempts(executor, ctx, func(ctx context.Context) (string, error) {
//		return fetch(ctx)
//	})
//
// Or without building an executor:
//
//	result, attempts, err := retry.WithRetry(ctx, fetch, 3, time.Second)
package retry
