// Package cache provides a memoization cache that runs at most one
// computation per key at a time.
//
// Concurrent callers for the same key share a single flight
// (golang.org/x/sync/singleflight). A successful computation makes the entry
// Ready for all later callers; a failed one is evicted so the next caller
// computes again. The cache lock only guards state transitions and is never
// held while the caller-supplied function runs.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jzx17/taskcore/pkg/types"
)

// EntryState is the state of a cache key
type EntryState int

const (
	// EntryAbsent no value and no computation in flight
	EntryAbsent EntryState = iota
	// EntryPending a computation for the key is running
	EntryPending
	// EntryReady a value is stored for the key
	EntryReady
)

// String returns the string representation of EntryState
func (s EntryState) String() string {
	switch s {
	case EntryAbsent:
		return "absent"
	case EntryPending:
		return "pending"
	case EntryReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ComputeFunc produces the value for a key
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Stats defines cache statistics
type Stats struct {
	Entries      int
	Pending      int
	Hits         int64 // calls served from a Ready entry
	Misses       int64 // calls that found no Ready entry
	Computations int64 // executions of a ComputeFunc
	SharedWaits  int64 // calls that received another caller's flight result
	Failures     int64 // computations that failed and were evicted
}

// Cache is a single-flight memoization cache
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]V
	pending map[string]struct{}
	group   singleflight.Group

	logger *slog.Logger
	clock  types.Clock

	hits         int64
	misses       int64
	computations int64
	sharedWaits  int64
	failures     int64
}

// Option configures a Cache
type Option func(*options)

type options struct {
	logger *slog.Logger
	clock  types.Clock
}

// WithLogger sets the logger used for computation and eviction events
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock used to time computations
func WithClock(clock types.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New creates an empty cache
func New[V any](opts ...Option) *Cache[V] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.clock == nil {
		o.clock = types.NewRealClock()
	}

	return &Cache[V]{
		entries: make(map[string]V),
		pending: make(map[string]struct{}),
		logger:  o.logger,
		clock:   o.clock,
	}
}

// flight boxes a value so nil interface values survive the trip through
// singleflight's interface{} result
type flight[V any] struct {
	value V
	hit   bool
}

// GetOrCompute returns the value for key, computing it with fn if needed.
//
// A Ready entry is returned without calling fn. If a computation for key is
// in flight, the caller waits for it and receives its value or error. Waiting
// on another caller's computation ends early when ctx is done; that
// computation keeps running and still populates the cache. A caller whose own
// fn is running always waits for fn to return, so fn should honour ctx.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, fn ComputeFunc[V]) (V, error) {
	v, _, err := c.GetOrComputeShared(ctx, key, fn)
	return v, err
}

// GetOrComputeShared is GetOrCompute that also reports whether the value was
// produced without running this caller's fn (a Ready hit or another caller's
// flight).
func (c *Cache[V]) GetOrComputeShared(ctx context.Context, key string, fn ComputeFunc[V]) (V, bool, error) {
	var zero V
	if fn == nil {
		return zero, false, fmt.Errorf("cache: nil compute function for key %q", key)
	}

	if v, ok := c.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return v, true, nil
	}
	atomic.AddInt64(&c.misses, 1)

	var state atomic.Int32
	ch := c.group.DoChan(key, func() (interface{}, error) {
		v, hit, err := c.compute(ctx, key, fn, &state)
		return flight[V]{value: v, hit: hit}, err
	})

	select {
	case res := <-ch:
		return c.receive(res, state.Load() == callerRan)
	case <-ctx.Done():
	}

	// only a caller whose fn has not started may leave; the owner of a
	// running fn stays until it returns and the entry is settled
	if state.CompareAndSwap(callerWaiting, callerLeft) {
		return zero, false, &types.CancelledError{Err: ctx.Err()}
	}
	res := <-ch
	return c.receive(res, state.Load() == callerRan)
}

// caller states for one GetOrComputeShared call
const (
	callerWaiting int32 = iota
	callerRan
	callerLeft
)

// receive unpacks a flight result and updates the hit counters
func (c *Cache[V]) receive(res singleflight.Result, ran bool) (V, bool, error) {
	var zero V
	shared := !ran
	if res.Err != nil {
		if shared {
			atomic.AddInt64(&c.sharedWaits, 1)
		}
		return zero, shared, res.Err
	}
	f := res.Val.(flight[V])
	if f.hit {
		atomic.AddInt64(&c.hits, 1)
		return f.value, true, nil
	}
	if shared {
		atomic.AddInt64(&c.sharedWaits, 1)
	}
	return f.value, shared, nil
}

// compute runs fn for key unless a value became Ready since the caller's
// lookup or the caller already left. It converts a panic in fn into a
// WorkerFault so every waiter of the flight receives the same failure.
func (c *Cache[V]) compute(ctx context.Context, key string, fn ComputeFunc[V], state *atomic.Int32) (v V, hit bool, err error) {
	c.mu.Lock()
	if ready, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return ready, true, nil
	}
	if !state.CompareAndSwap(callerWaiting, callerRan) {
		c.mu.Unlock()
		return v, false, &types.CancelledError{Err: ctx.Err()}
	}
	c.pending[key] = struct{}{}
	c.mu.Unlock()

	atomic.AddInt64(&c.computations, 1)
	start := c.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)
			var zero V
			v = zero
			// TaskID is left to the caller, the cache only knows the key
			err = &types.WorkerFault{
				WorkerID: -1,
				Value:    r,
				Stack:    string(buf[:n]),
			}
		}

		c.mu.Lock()
		delete(c.pending, key)
		if err == nil {
			c.entries[key] = v
		}
		c.mu.Unlock()

		if err != nil {
			atomic.AddInt64(&c.failures, 1)
			c.logger.Debug("cache computation failed, entry evicted",
				"key", key,
				"duration", c.clock.Since(start),
				"error", err)
			return
		}
		c.logger.Debug("cache entry ready",
			"key", key,
			"duration", c.clock.Since(start))
	}()

	v, err = fn(ctx)
	return v, false, err
}

// Get returns the Ready value for key
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// State returns the current state of key
func (c *Cache[V]) State(key string) EntryState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return EntryReady
	}
	if _, ok := c.pending[key]; ok {
		return EntryPending
	}
	return EntryAbsent
}

// Forget removes the Ready value for key. A computation already in flight is
// not interrupted and will still store its result.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of Ready entries
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	entries, pending := len(c.entries), len(c.pending)
	c.mu.Unlock()

	return Stats{
		Entries:      entries,
		Pending:      pending,
		Hits:         atomic.LoadInt64(&c.hits),
		Misses:       atomic.LoadInt64(&c.misses),
		Computations: atomic.LoadInt64(&c.computations),
		SharedWaits:  atomic.LoadInt64(&c.sharedWaits),
		Failures:     atomic.LoadInt64(&c.failures),
	}
}
