package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jzx17/taskcore/pkg/cache"
	"github.com/jzx17/taskcore/pkg/queue"
	"github.com/jzx17/taskcore/pkg/retry"
	"github.com/jzx17/taskcore/pkg/types"
)

// PoolConfig defines configuration for a worker pool
type PoolConfig struct {
	// WorkerCount is the number of concurrent workers
	WorkerCount int

	// QueueCapacity bounds the number of queued tasks
	QueueCapacity int

	// MaxAttempts is the total number of executions per task, used when
	// Policy is nil
	MaxAttempts int

	// BaseDelay is the linear backoff step, used when Policy is nil
	BaseDelay time.Duration

	// SubmitTimeout bounds each enqueue in Submit; zero waits as long as the
	// caller's context allows
	SubmitTimeout time.Duration

	// RateLimit caps task executions per second across the pool; zero
	// disables limiting
	RateLimit float64

	// RateBurst is the limiter burst size
	RateBurst int

	// Policy overrides the linear policy built from MaxAttempts and BaseDelay
	Policy retry.RetryPolicy

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger receives pool events (optional, defaults to discard)
	Logger *slog.Logger

	// ErrorHandler is called for every task that does not succeed
	ErrorHandler types.ErrorHandler
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		WorkerCount:   4,
		QueueCapacity: 16,
		MaxAttempts:   retry.DefaultMaxAttempts,
		BaseDelay:     retry.DefaultBaseDelay,
		Clock:         types.NewRealClock(),
	}
}

// job is a task travelling through the queue together with the handle that
// collects its result
type job[V any] struct {
	task     types.Task[V]
	handle   *Handle[V]
	seq      uint64
	reported atomic.Bool
}

// Pool is a fixed-size worker pool with a bounded FIFO queue, a shared
// memoization cache and a retry policy applied to every task.
type Pool[V any] struct {
	config   *PoolConfig
	queue    *queue.WorkQueue[*job[V]]
	cache    *cache.Cache[V]
	executor *retry.RetryExecutor
	limiter  *rate.Limiter
	logger   *slog.Logger

	workers []atomic.Pointer[Worker[V]]

	// state management
	state  int32 // 0: stopped, 1: running, 2: closed
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	shutdownOnce sync.Once
	dropMu       sync.Mutex
	dropErr      error

	// statistics
	submitted int64
	completed int64
	failed    int64
	cancelled int64
	respawns  int64
}

// Option configures a Pool beyond PoolConfig
type Option[V any] func(*Pool[V])

// WithCache makes the pool memoize into c, so several pools can share results
func WithCache[V any](c *cache.Cache[V]) Option[V] {
	return func(p *Pool[V]) {
		if c != nil {
			p.cache = c
		}
	}
}

// NewPool creates a pool. It must be started before tasks are submitted.
func NewPool[V any](config *PoolConfig, opts ...Option[V]) (*Pool[V], error) {
	if config == nil {
		config = DefaultPoolConfig()
	}
	cfg := *config

	// parameter validation
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.QueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.QueueCapacity)
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %v", cfg.RateLimit)
	}

	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	policy := cfg.Policy
	if policy == nil {
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = retry.DefaultMaxAttempts
		}
		if cfg.BaseDelay < 0 {
			return nil, fmt.Errorf("base delay must not be negative, got %v", cfg.BaseDelay)
		}
		policy = retry.NewLinearBackoffRetry(cfg.MaxAttempts, cfg.BaseDelay)
	}

	q, err := queue.New[*job[V]](cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}

	p := &Pool[V]{
		config: &cfg,
		queue:  q,
		executor: retry.NewRetryExecutor(policy,
			retry.WithClock(cfg.Clock),
			retry.WithEventHandler(retry.NewDefaultEventHandler(cfg.Logger))),
		logger:  cfg.Logger,
		workers: make([]atomic.Pointer[Worker[V]], cfg.WorkerCount),
		done:    make(chan struct{}),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = cache.New[V](cache.WithLogger(cfg.Logger), cache.WithClock(cfg.Clock))
	}

	return p, nil
}

// StartPool creates and starts a pool with the default configuration and the
// given size
func StartPool[V any](ctx context.Context, workerCount, queueCapacity int) (*Pool[V], error) {
	cfg := DefaultPoolConfig()
	cfg.WorkerCount = workerCount
	cfg.QueueCapacity = queueCapacity

	p, err := NewPool[V](cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Start starts the workers. Cancelling ctx stops the pool: in-flight
// operations see the cancellation and queued tasks are reported as
// cancelled.
func (p *Pool[V]) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, 0, 1) {
		state := atomic.LoadInt32(&p.state)
		if state == 1 {
			return fmt.Errorf("worker pool is already running")
		}
		return fmt.Errorf("worker pool is closed")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	var g errgroup.Group
	for slot := range p.workers {
		slot := slot
		g.Go(func() error {
			p.runSlot(slot)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		p.cancel()
		close(p.done)
		p.logger.Debug("worker pool stopped", "respawns", atomic.LoadInt64(&p.respawns))
	}()

	go func() {
		select {
		case <-p.ctx.Done():
			p.drop(&types.CancelledError{Err: p.ctx.Err()})
			p.closeQueue()
		case <-p.done:
		}
	}()

	p.logger.Debug("worker pool started",
		"workers", len(p.workers),
		"queue_capacity", p.config.QueueCapacity)
	return nil
}

// runSlot keeps one worker alive in slot until the queue is drained,
// replacing the worker whenever it faults
func (p *Pool[V]) runSlot(slot int) {
	for {
		w := newWorker(slot, p)
		p.workers[slot].Store(w)

		fault := w.run(p.ctx)
		if fault == nil {
			return
		}

		atomic.AddInt64(&p.respawns, 1)
		p.logger.Warn("worker faulted, respawning",
			"worker_id", slot,
			"task_id", fault.TaskID,
			"panic", fmt.Sprint(fault.Value))
	}
}

// Submit enqueues tasks in order and returns a handle for their results. It
// blocks while the queue is full.
//
// All tasks are validated before any is enqueued. If the queue closes or ctx
// ends part-way, the tasks already enqueued still run, the rest are reported
// on the handle as failures, and the error is returned with the handle.
func (p *Pool[V]) Submit(ctx context.Context, tasks ...types.Task[V]) (*Handle[V], error) {
	// check pool state
	switch atomic.LoadInt32(&p.state) {
	case 0:
		return nil, types.ErrPoolNotRunning
	case 2:
		return nil, types.ErrQueueClosed
	}

	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[task.ID]; dup {
			return nil, fmt.Errorf("%w: %s", types.ErrDuplicateTaskID, task.ID)
		}
		seen[task.ID] = struct{}{}
	}

	h := newHandle[V](len(tasks))
	for i, task := range tasks {
		j := &job[V]{task: task, handle: h}
		if err := p.enqueue(ctx, j); err != nil {
			for _, rest := range tasks[i:] {
				p.deliver(&job[V]{task: rest, handle: h}, types.WorkerResult[V]{
					TaskID:   rest.ID,
					Key:      rest.CacheKey(),
					Outcome:  types.Classify(err),
					Err:      err,
					WorkerID: -1,
				})
			}
			return h, fmt.Errorf("submitted %d of %d tasks: %w", i, len(tasks), err)
		}
		atomic.AddInt64(&p.submitted, 1)
	}

	return h, nil
}

func (p *Pool[V]) enqueue(ctx context.Context, j *job[V]) error {
	if p.config.SubmitTimeout <= 0 {
		_, err := p.queue.Enqueue(ctx, j)
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, p.config.SubmitTimeout)
	defer cancel()

	_, err := p.queue.Enqueue(tctx, j)
	if err != nil && ctx.Err() == nil && tctx.Err() != nil {
		return fmt.Errorf("%w: enqueue of task %s", types.ErrTimeout, j.task.ID)
	}
	return err
}

// Collect waits for every result of h. See Handle.Collect.
func (p *Pool[V]) Collect(ctx context.Context, h *Handle[V]) ([]types.WorkerResult[V], error) {
	if h == nil {
		return nil, fmt.Errorf("collect: nil handle")
	}
	return h.Collect(ctx)
}

// Map submits tasks, waits for all of them and returns the results in
// submission order
func (p *Pool[V]) Map(ctx context.Context, tasks ...types.Task[V]) ([]types.WorkerResult[V], error) {
	h, err := p.Submit(ctx, tasks...)
	if h == nil {
		return nil, err
	}

	results, cerr := h.Collect(ctx)
	SortBySubmission(results)
	if err != nil {
		return results, err
	}
	return results, cerr
}

// Shutdown stops the pool. The queue stops accepting tasks immediately.
//
// With drain=true every queued and in-flight task runs to completion. With
// drain=false tasks still in the queue are reported as failures wrapping
// types.ErrQueueClosed; tasks already executing, retries included, always
// finish. ctx only bounds the wait. A later call with drain=false escalates
// an earlier draining shutdown.
func (p *Pool[V]) Shutdown(ctx context.Context, drain bool) error {
	if !drain {
		p.drop(fmt.Errorf("task dropped at shutdown: %w", types.ErrQueueClosed))
	}

	if atomic.CompareAndSwapInt32(&p.state, 0, 2) {
		// never started
		p.closeQueue()
		close(p.done)
		return nil
	}
	atomic.StoreInt32(&p.state, 2)
	p.closeQueue()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return &types.CancelledError{Err: ctx.Err()}
	}
}

func (p *Pool[V]) closeQueue() {
	p.shutdownOnce.Do(func() {
		p.queue.Close()
		p.logger.Debug("work queue closed", "queued", p.queue.Len())
	})
}

// drop marks queued tasks to be reported with err instead of executed. The
// first error recorded wins.
func (p *Pool[V]) drop(err error) {
	p.dropMu.Lock()
	defer p.dropMu.Unlock()
	if p.dropErr == nil {
		p.dropErr = err
	}
}

func (p *Pool[V]) dropped() error {
	p.dropMu.Lock()
	defer p.dropMu.Unlock()
	return p.dropErr
}

// deliver reports a result to the job's handle exactly once
func (p *Pool[V]) deliver(j *job[V], r types.WorkerResult[V]) {
	if !j.reported.CompareAndSwap(false, true) {
		return
	}

	switch r.Outcome {
	case types.OutcomeSuccess:
		atomic.AddInt64(&p.completed, 1)
	case types.OutcomeCancelled:
		atomic.AddInt64(&p.cancelled, 1)
	default:
		atomic.AddInt64(&p.failed, 1)
	}

	j.handle.put(r)

	if r.Outcome == types.OutcomeSuccess {
		return
	}
	p.logger.Debug("task did not succeed",
		"task_id", r.TaskID,
		"worker_id", r.WorkerID,
		"outcome", r.Outcome.String(),
		"attempts", r.AttemptsUsed,
		"error", r.Err)
	if p.config.ErrorHandler != nil {
		if herr := p.config.ErrorHandler(r.TaskID, r.Err); herr != nil {
			p.logger.Warn("error handler failed", "task_id", r.TaskID, "error", herr)
		}
	}
}

// Wait blocks until every worker has exited after Shutdown
func (p *Pool[V]) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return &types.CancelledError{Err: ctx.Err()}
	}
}

// Size returns the worker pool size
func (p *Pool[V]) Size() int {
	return len(p.workers)
}

// Cache returns the pool's memoization cache
func (p *Pool[V]) Cache() *cache.Cache[V] {
	return p.cache
}

// RetryStats returns the statistics of the pool's retry executor
func (p *Pool[V]) RetryStats() retry.RetryStats {
	return p.executor.GetStats()
}

// Stats gets basic worker pool statistics
func (p *Pool[V]) Stats() types.WorkerPoolStats {
	// count active workers
	var activeWorkers int
	for i := range p.workers {
		if w := p.workers[i].Load(); w != nil && w.State() == WorkerStateWorking {
			activeWorkers++
		}
	}

	return types.WorkerPoolStats{
		PoolSize:      len(p.workers),
		ActiveWorkers: activeWorkers,
		QueueSize:     p.queue.Len(),
		QueueCapacity: p.queue.Cap(),
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
		Cancelled:     atomic.LoadInt64(&p.cancelled),
		Respawns:      atomic.LoadInt64(&p.respawns),
	}
}

// GetWorkerStats gets statistics of the current worker in every slot
func (p *Pool[V]) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, 0, len(p.workers))
	for i := range p.workers {
		if w := p.workers[i].Load(); w != nil {
			stats = append(stats, w.Stats())
		}
	}
	return stats
}

// IsRunning checks if the worker pool is running
func (p *Pool[V]) IsRunning() bool {
	return atomic.LoadInt32(&p.state) == 1
}

// IsClosed checks if the worker pool is closed
func (p *Pool[V]) IsClosed() bool {
	return atomic.LoadInt32(&p.state) == 2
}

// SortBySubmission orders results by queue sequence number. Results for
// tasks that never reached the queue sort last, by task id.
func SortBySubmission[V any](results []types.WorkerResult[V]) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Seq == 0 || b.Seq == 0 {
			if a.Seq == b.Seq {
				return a.TaskID < b.TaskID
			}
			return b.Seq == 0
		}
		return a.Seq < b.Seq
	})
}
