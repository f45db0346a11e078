// Package testutils provides operation builders and clock helpers shared by
// the package tests
package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ErrInjected is the error returned by the failing operations below
var ErrInjected = errors.New("injected failure")

// Counter counts operation executions
type Counter struct {
	n int64
}

// Inc increments the counter and returns the new count
func (c *Counter) Inc() int64 {
	return atomic.AddInt64(&c.n, 1)
}

// Load returns the current count
func (c *Counter) Load() int64 {
	return atomic.LoadInt64(&c.n)
}

// AlwaysFail returns an operation that fails on every execution
func AlwaysFail[V any](calls *Counter) func(ctx context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		calls.Inc()
		var zero V
		return zero, ErrInjected
	}
}

// FailTimes returns an operation that fails n times and then returns v
func FailTimes[V any](n int64, v V, calls *Counter) func(ctx context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		if calls.Inc() <= n {
			var zero V
			return zero, ErrInjected
		}
		return v, nil
	}
}

// Succeed returns an operation that always returns v
func Succeed[V any](v V, calls *Counter) func(ctx context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		calls.Inc()
		return v, nil
	}
}

// Recorder records the order in which operations start
type Recorder struct {
	mu    sync.Mutex
	order []string
}

// Record appends id to the execution order
func (r *Recorder) Record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, id)
}

// Order returns a copy of the recorded order
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Context returns a context bounded by timeout and cancelled at test cleanup
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
