// Package retry provides retry mechanism strategies and implementations
package retry

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jzx17/taskcore/pkg/types"
)

// Defaults used by DefaultPolicy
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy defines the retry strategy interface.
//
// attempt is always the number of attempts already made, so the first call
// after a failed first execution passes attempt=1.
type RetryPolicy interface {
	// ShouldRetry determines whether to retry
	ShouldRetry(err error, attempt int) bool

	// NextDelay returns the delay before the next attempt
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the total number of executions allowed
	MaxAttempts() int

	// Reset resets the policy state (for multiple retry scenarios)
	Reset()
}

// RetryCondition is a function that determines retry conditions
type RetryCondition func(error) bool

// BaseRetryPolicy provides common retry functionality
type BaseRetryPolicy struct {
	maxAttempts    int
	maxDelay       time.Duration
	multiplier     float64
	retryCondition RetryCondition
	jitter         bool
	jitterFactor   float64
	mu             sync.RWMutex
}

// NewBaseRetryPolicy creates a base retry policy. maxAttempts below one is
// treated as one.
func NewBaseRetryPolicy(maxAttempts int, opts ...PolicyOption) *BaseRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	policy := &BaseRetryPolicy{
		maxAttempts:    maxAttempts,
		maxDelay:       DefaultMaxDelay,
		multiplier:     2.0,
		retryCondition: DefaultRetryCondition,
		jitterFactor:   0.1,
	}

	for _, opt := range opts {
		opt(policy)
	}

	return policy
}

// ShouldRetry determines whether to retry
func (p *BaseRetryPolicy) ShouldRetry(err error, attempt int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if attempt >= p.maxAttempts {
		return false
	}

	return p.retryCondition(err)
}

// MaxAttempts returns the maximum attempts
func (p *BaseRetryPolicy) MaxAttempts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxAttempts
}

// Reset resets the policy state
func (p *BaseRetryPolicy) Reset() {
	// base policy is stateless, no reset needed
}

// finish caps the delay and applies jitter
func (p *BaseRetryPolicy) finish(delay time.Duration) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	if !p.jitter {
		return delay
	}

	jitterRange := float64(delay) * p.jitterFactor
	jitterAmount := (rand.Float64() - 0.5) * 2 * jitterRange

	result := delay + time.Duration(jitterAmount)
	if result < 0 {
		result = delay / 2
	}

	return result
}

// LinearBackoffRetry waits baseDelay*k after the k-th failed attempt
type LinearBackoffRetry struct {
	*BaseRetryPolicy
	baseDelay time.Duration
}

// NewLinearBackoffRetry creates a linear backoff retry policy. Delays are not
// capped unless WithMaxDelay is given.
func NewLinearBackoffRetry(maxAttempts int, baseDelay time.Duration, opts ...PolicyOption) *LinearBackoffRetry {
	opts = append([]PolicyOption{WithMaxDelay(0)}, opts...)
	return &LinearBackoffRetry{
		BaseRetryPolicy: NewBaseRetryPolicy(maxAttempts, opts...),
		baseDelay:       baseDelay,
	}
}

// NextDelay returns the delay for the next retry
func (p *LinearBackoffRetry) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.finish(p.baseDelay * time.Duration(attempt))
}

// DefaultPolicy returns the linear policy with DefaultMaxAttempts and
// DefaultBaseDelay
func DefaultPolicy() *LinearBackoffRetry {
	return NewLinearBackoffRetry(DefaultMaxAttempts, DefaultBaseDelay)
}

// FixedDelayRetry implements fixed delay retry strategy
type FixedDelayRetry struct {
	*BaseRetryPolicy
	delay time.Duration
}

// NewFixedDelayRetry creates a fixed delay retry policy
func NewFixedDelayRetry(maxAttempts int, delay time.Duration, opts ...PolicyOption) *FixedDelayRetry {
	return &FixedDelayRetry{
		BaseRetryPolicy: NewBaseRetryPolicy(maxAttempts, opts...),
		delay:           delay,
	}
}

// NextDelay returns the delay for the next retry
func (p *FixedDelayRetry) NextDelay(attempt int) time.Duration {
	return p.finish(p.delay)
}

// ExponentialBackoffRetry implements exponential backoff retry strategy
type ExponentialBackoffRetry struct {
	*BaseRetryPolicy
	initialDelay time.Duration
}

// NewExponentialBackoffRetry creates an exponential backoff retry policy
func NewExponentialBackoffRetry(maxAttempts int, initialDelay time.Duration, opts ...PolicyOption) *ExponentialBackoffRetry {
	return &ExponentialBackoffRetry{
		BaseRetryPolicy: NewBaseRetryPolicy(maxAttempts, opts...),
		initialDelay:    initialDelay,
	}
}

// NextDelay returns the delay for the next retry
func (p *ExponentialBackoffRetry) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	p.mu.RLock()
	multiplier := p.multiplier
	p.mu.RUnlock()

	delay := float64(p.initialDelay) * math.Pow(multiplier, float64(attempt-1))
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return p.finish(time.Duration(delay))
}

// CustomRetry implements custom retry strategy
type CustomRetry struct {
	*BaseRetryPolicy
	delayFunc DelayFunc
}

// DelayFunc is a custom delay calculation function
type DelayFunc func(attempt int) time.Duration

// NewCustomRetry creates a custom retry policy
func NewCustomRetry(maxAttempts int, delayFunc DelayFunc, opts ...PolicyOption) *CustomRetry {
	return &CustomRetry{
		BaseRetryPolicy: NewBaseRetryPolicy(maxAttempts, opts...),
		delayFunc:       delayFunc,
	}
}

// NextDelay returns the delay for the next retry
func (p *CustomRetry) NextDelay(attempt int) time.Duration {
	if p.delayFunc == nil {
		return 0
	}
	return p.finish(p.delayFunc(attempt))
}

// PolicyOption is a configuration option for retry policies
type PolicyOption func(*BaseRetryPolicy)

// WithRetryCondition sets the retry condition
func WithRetryCondition(condition RetryCondition) PolicyOption {
	return func(p *BaseRetryPolicy) {
		if condition != nil {
			p.retryCondition = condition
		}
	}
}

// WithJitter enables jitter
func WithJitter(enabled bool, factor float64) PolicyOption {
	return func(p *BaseRetryPolicy) {
		p.jitter = enabled
		if factor > 0 && factor <= 1.0 {
			p.jitterFactor = factor
		}
	}
}

// WithMaxDelay sets the maximum delay time; zero disables the cap
func WithMaxDelay(maxDelay time.Duration) PolicyOption {
	return func(p *BaseRetryPolicy) {
		p.maxDelay = maxDelay
	}
}

// WithMultiplier sets the multiplier for exponential backoff
func WithMultiplier(multiplier float64) PolicyOption {
	return func(p *BaseRetryPolicy) {
		if multiplier > 0 {
			p.multiplier = multiplier
		}
	}
}

// DefaultRetryCondition retries every error except an interrupted retry loop,
// closed queues, worker faults and errors marked with types.Permanent.
// Context errors returned by the operation itself, such as a per-call
// timeout, are retried; the executor stops on its own context separately.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, types.ErrCancelled):
		return false
	case types.IsPermanent(err):
		return false
	case types.IsWorkerFault(err):
		return false
	case errors.Is(err, types.ErrQueueClosed):
		return false
	}

	return true
}
