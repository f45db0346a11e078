package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/taskcore/internal/testutils"
	"github.com/jzx17/taskcore/pkg/cache"
	"github.com/jzx17/taskcore/pkg/types"
)

func startPool[V any](t *testing.T, config *PoolConfig, opts ...Option[V]) *Pool[V] {
	t.Helper()

	pool, err := NewPool[V](config, opts...)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx, false)
	})
	return pool
}

func byID[V any](results []types.WorkerResult[V]) map[string]types.WorkerResult[V] {
	out := make(map[string]types.WorkerResult[V], len(results))
	for _, r := range results {
		out[r.TaskID] = r
	}
	return out
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		name        string
		config      *PoolConfig
		expectError bool
	}{
		{
			name:        "nil config should use default",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      &PoolConfig{WorkerCount: 5, QueueCapacity: 50},
			expectError: false,
		},
		{
			name:        "zero worker count should error",
			config:      &PoolConfig{WorkerCount: 0, QueueCapacity: 50},
			expectError: true,
		},
		{
			name:        "negative worker count should error",
			config:      &PoolConfig{WorkerCount: -1, QueueCapacity: 50},
			expectError: true,
		},
		{
			name:        "zero queue capacity should error",
			config:      &PoolConfig{WorkerCount: 5, QueueCapacity: 0},
			expectError: true,
		},
		{
			name:        "negative rate limit should error",
			config:      &PoolConfig{WorkerCount: 5, QueueCapacity: 5, RateLimit: -1},
			expectError: true,
		},
		{
			name:        "negative base delay should error",
			config:      &PoolConfig{WorkerCount: 5, QueueCapacity: 5, BaseDelay: -time.Second},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewPool[int](tt.config)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, pool)
				return
			}
			require.NoError(t, err)
			if tt.config == nil {
				assert.Equal(t, 4, pool.Size())
				assert.Equal(t, 16, pool.Stats().QueueCapacity)
			} else {
				assert.Equal(t, tt.config.WorkerCount, pool.Size())
			}
		})
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 16, cfg.QueueCapacity)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.BaseDelay)
}

func TestPool_StartAndSubmitStates(t *testing.T) {
	pool, err := NewPool[string](&PoolConfig{WorkerCount: 2, QueueCapacity: 4})
	require.NoError(t, err)

	var calls testutils.Counter
	_, err = pool.Submit(context.Background(), types.NewTask("early", testutils.Succeed("x", &calls)))
	assert.ErrorIs(t, err, types.ErrPoolNotRunning)

	require.NoError(t, pool.Start(context.Background()))
	assert.True(t, pool.IsRunning())
	assert.Error(t, pool.Start(context.Background()), "repeated start")

	require.NoError(t, pool.Shutdown(context.Background(), true))
	assert.False(t, pool.IsRunning())
	assert.True(t, pool.IsClosed())
	assert.Error(t, pool.Start(context.Background()), "start after shutdown")

	// idempotent
	assert.NoError(t, pool.Shutdown(context.Background(), true))
}

func TestPool_ShutdownBeforeStart(t *testing.T) {
	pool, err := NewPool[int](nil)
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(context.Background(), true))
	assert.True(t, pool.IsClosed())
	assert.NoError(t, pool.Wait(context.Background()))

	_, err = pool.Submit(context.Background(), types.NewTask("late", func(ctx context.Context) (int, error) { return 1, nil }))
	assert.ErrorIs(t, err, types.ErrQueueClosed)
}

func TestPool_SubmitValidation(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 4})
	op := func(ctx context.Context) (int, error) { return 1, nil }

	tests := []struct {
		name  string
		tasks []types.Task[int]
		want  error
	}{
		{"empty id", []types.Task[int]{types.NewTask("", op)}, types.ErrInvalidTask},
		{"nil operation", []types.Task[int]{types.NewTask[int]("a", nil)}, types.ErrInvalidTask},
		{"duplicate id", []types.Task[int]{types.NewTask("a", op), types.NewTask("a", op)}, types.ErrDuplicateTaskID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := pool.Submit(context.Background(), tt.tasks...)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, h)
		})
	}

	assert.Equal(t, int64(0), pool.Stats().Submitted, "rejected batches enqueue nothing")
}

func TestPool_ResultsForEveryTask(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 4, QueueCapacity: 8, BaseDelay: time.Millisecond})

	const n = 50
	tasks := make([]types.Task[int], n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = types.NewTask(fmt.Sprintf("task-%d", i), func(ctx context.Context) (int, error) {
			return i * i, nil
		})
	}

	h, err := pool.Submit(context.Background(), tasks...)
	require.NoError(t, err)
	assert.Equal(t, n, h.Len())
	assert.NotEmpty(t, h.ID())

	results, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, results, n)

	seen := make(map[string]bool, n)
	for _, r := range results {
		assert.False(t, seen[r.TaskID], "duplicate result for %s", r.TaskID)
		seen[r.TaskID] = true
		assert.True(t, r.Succeeded())
		assert.Equal(t, 1, r.AttemptsUsed)
	}
	assert.Len(t, seen, n)

	stats := pool.Stats()
	assert.Equal(t, int64(n), stats.Submitted)
	assert.Equal(t, int64(n), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPool_MixedOutcomes(t *testing.T) {
	pool := startPool[string](t, &PoolConfig{
		WorkerCount:   2,
		QueueCapacity: 4,
		MaxAttempts:   3,
		BaseDelay:     10 * time.Millisecond,
	})

	var a, b, c testutils.Counter
	start := time.Now()
	h, err := pool.Submit(context.Background(),
		types.NewTask("A", testutils.AlwaysFail[string](&a)),
		types.NewTask("B", testutils.Succeed("b", &b)),
		types.NewTask("C", testutils.FailTimes(1, "c", &c)),
	)
	require.NoError(t, err)

	results, err := pool.Collect(testutils.Context(t, 5*time.Second), h)
	require.NoError(t, err)
	require.Len(t, results, 3)
	elapsed := time.Since(start)

	got := byID(results)

	resA := got["A"]
	assert.Equal(t, types.OutcomeFailure, resA.Outcome)
	assert.Equal(t, 3, resA.AttemptsUsed)
	assert.Equal(t, int64(3), a.Load())
	var failure *types.TaskFailure
	require.ErrorAs(t, resA.Err, &failure)
	assert.Equal(t, "A", failure.TaskID)
	assert.Equal(t, 3, failure.Attempts)
	assert.ErrorIs(t, resA.Err, testutils.ErrInjected)

	resB := got["B"]
	assert.Equal(t, types.OutcomeSuccess, resB.Outcome)
	assert.Equal(t, "b", resB.Value)
	assert.Equal(t, 1, resB.AttemptsUsed)
	assert.NoError(t, resB.Err)

	resC := got["C"]
	assert.Equal(t, types.OutcomeSuccess, resC.Outcome)
	assert.Equal(t, "c", resC.Value)
	assert.Equal(t, 2, resC.AttemptsUsed)
	assert.GreaterOrEqual(t, resC.Duration, 10*time.Millisecond)

	// A sleeps 10ms then 20ms; nothing else waits
	assert.Less(t, elapsed, 2*time.Second)

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPool_FIFOWithSingleWorker(t *testing.T) {
	pool := startPool[string](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 20})

	var rec testutils.Recorder
	ids := make([]string, 10)
	tasks := make([]types.Task[string], len(ids))
	for i := range ids {
		id := fmt.Sprintf("t%02d", i)
		ids[i] = id
		tasks[i] = types.NewTask(id, func(ctx context.Context) (string, error) {
			rec.Record(id)
			return id, nil
		})
	}

	h, err := pool.Submit(context.Background(), tasks...)
	require.NoError(t, err)

	results, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)

	assert.Equal(t, ids, rec.Order())

	// a single worker also completes in submission order
	for i, r := range results {
		assert.Equal(t, ids[i], r.TaskID)
		assert.Equal(t, uint64(i+1), r.Seq)
	}
}

func TestPool_DrainShutdown(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 2, QueueCapacity: 10})

	var executed testutils.Counter
	tasks := make([]types.Task[int], 8)
	for i := range tasks {
		tasks[i] = types.NewTask(fmt.Sprintf("slow-%d", i), func(ctx context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			return int(executed.Inc()), nil
		})
	}

	h, err := pool.Submit(context.Background(), tasks...)
	require.NoError(t, err)

	require.NoError(t, pool.Shutdown(testutils.Context(t, 5*time.Second), true))
	assert.Equal(t, int64(len(tasks)), executed.Load(), "drain must run every queued task")

	results, err := h.CollectTimeout(time.Second)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Succeeded(), r.TaskID)
	}

	_, err = pool.Submit(context.Background(), types.NewTask("after", func(ctx context.Context) (int, error) { return 0, nil }))
	assert.ErrorIs(t, err, types.ErrQueueClosed)

	for _, ws := range pool.GetWorkerStats() {
		assert.Equal(t, WorkerStateStopped, ws.State)
	}
}

func TestPool_ShutdownWithoutDrain(t *testing.T) {
	pool := startPool[string](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 10, MaxAttempts: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var rest testutils.Counter

	tasks := []types.Task[string]{
		types.NewTask("running", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "done", nil
		}),
	}
	for i := 0; i < 4; i++ {
		tasks = append(tasks, types.NewTask(fmt.Sprintf("queued-%d", i), testutils.Succeed("x", &rest)))
	}

	h, err := pool.Submit(context.Background(), tasks...)
	require.NoError(t, err)
	<-started

	shutdown := make(chan error, 1)
	go func() {
		shutdown <- pool.Shutdown(context.Background(), false)
	}()

	assert.Eventually(t, pool.IsClosed, time.Second, time.Millisecond)
	select {
	case <-shutdown:
		t.Fatal("shutdown returned while a task was still executing")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdown)

	results, err := h.CollectTimeout(time.Second)
	require.NoError(t, err)
	require.Len(t, results, len(tasks))

	got := byID(results)
	assert.True(t, got["running"].Succeeded(), "in-flight task finishes")
	for i := 0; i < 4; i++ {
		r := got[fmt.Sprintf("queued-%d", i)]
		assert.Equal(t, types.OutcomeFailure, r.Outcome)
		assert.ErrorIs(t, r.Err, types.ErrQueueClosed)
		assert.Equal(t, 0, r.AttemptsUsed)
	}
	assert.Equal(t, int64(0), rest.Load(), "queued tasks must not run")
}

func TestPool_CancelDuringRetryDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := NewPool[string](&PoolConfig{
		WorkerCount:   1,
		QueueCapacity: 4,
		MaxAttempts:   3,
		BaseDelay:     time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	var calls testutils.Counter
	h, err := pool.Submit(context.Background(), types.NewTask("stuck", testutils.AlwaysFail[string](&calls)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	results, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, types.OutcomeCancelled, r.Outcome)
	assert.ErrorIs(t, r.Err, types.ErrCancelled)
	assert.Less(t, r.AttemptsUsed, 3)
	assert.Equal(t, int64(1), calls.Load())

	require.NoError(t, pool.Wait(testutils.Context(t, 5*time.Second)))
	assert.Equal(t, int64(1), pool.Stats().Cancelled)
}

func TestPool_CancelWaitsForRunningOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := NewPool[string](&PoolConfig{WorkerCount: 1, QueueCapacity: 4})
	require.NoError(t, err)
	require.NoError(t, pool.Start(ctx))

	started := make(chan struct{})
	var finished atomic.Bool
	h, err := pool.Submit(context.Background(), types.NewTask("slow", func(ctx context.Context) (string, error) {
		close(started)
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		return "done", nil
	}))
	require.NoError(t, err)

	<-started
	cancel()

	require.NoError(t, pool.Wait(testutils.Context(t, 5*time.Second)))
	assert.True(t, finished.Load(), "pool stopped while the operation was still running")
	assert.NotEqual(t, cache.EntryPending, pool.Cache().State("slow"))

	results, err := h.CollectTimeout(time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "done", results[0].Value)
	assert.Equal(t, 1, results[0].AttemptsUsed)
}

func TestPool_SharedKeyComputesOnce(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 2, QueueCapacity: 4})

	release := make(chan struct{})
	var calls testutils.Counter
	op := func(ctx context.Context) (int, error) {
		calls.Inc()
		<-release
		return 42, nil
	}

	h, err := pool.Submit(context.Background(),
		types.NewKeyedTask("first", "answer", op),
		types.NewKeyedTask("second", "answer", op),
	)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return pool.Cache().Stats().Misses == 2
	}, time.Second, time.Millisecond)
	// let the second worker join the flight before it completes
	time.Sleep(20 * time.Millisecond)
	close(release)

	results, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(1), calls.Load())
	cached := 0
	for _, r := range results {
		assert.True(t, r.Succeeded())
		assert.Equal(t, 42, r.Value)
		assert.Equal(t, "answer", r.Key)
		if r.Cached {
			cached++
			assert.Equal(t, 0, r.AttemptsUsed)
		}
	}
	assert.Equal(t, 1, cached)
}

func TestPool_CacheServesLaterBatches(t *testing.T) {
	shared := cache.New[string]()
	pool := startPool[string](t, &PoolConfig{WorkerCount: 2, QueueCapacity: 4}, WithCache(shared))
	assert.Same(t, shared, pool.Cache())

	var calls testutils.Counter
	task := types.NewTask("report", testutils.Succeed("v1", &calls))

	first, err := pool.Map(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].Cached)

	second, err := pool.Map(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Cached)
	assert.Equal(t, "v1", second[0].Value)
	assert.Equal(t, 0, second[0].AttemptsUsed)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, cache.EntryReady, shared.State("report"))
}

func TestPool_FailedComputationIsRetriedLater(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 4, MaxAttempts: 1})

	var calls testutils.Counter
	task := types.NewTask("flaky", testutils.FailTimes(1, 5, &calls))

	first, err := pool.Map(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailure, first[0].Outcome)
	assert.Equal(t, cache.EntryAbsent, pool.Cache().State("flaky"))

	second, err := pool.Map(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, second[0].Succeeded())
	assert.Equal(t, 5, second[0].Value)
}

func TestPool_PanicIsReportedAndWorkerRespawned(t *testing.T) {
	pool := startPool[string](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 4})

	var after testutils.Counter
	h, err := pool.Submit(context.Background(),
		types.NewTask("boom", func(ctx context.Context) (string, error) {
			panic("kaboom")
		}),
		types.NewTask("after", testutils.Succeed("fine", &after)),
	)
	require.NoError(t, err)

	results, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)
	got := byID(results)

	boom := got["boom"]
	assert.Equal(t, types.OutcomeFailure, boom.Outcome)
	assert.Equal(t, 1, boom.AttemptsUsed)
	var fault *types.WorkerFault
	require.ErrorAs(t, boom.Err, &fault)
	assert.Equal(t, "boom", fault.TaskID)
	assert.Equal(t, "kaboom", fault.Value)
	assert.NotEmpty(t, fault.Stack)

	assert.True(t, got["after"].Succeeded(), "other tasks are unaffected")

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Respawns)
	assert.Equal(t, 1, stats.PoolSize)
	assert.Len(t, pool.GetWorkerStats(), 1)
}

func TestPool_ErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var handled []string

	pool := startPool[int](t, &PoolConfig{
		WorkerCount:   2,
		QueueCapacity: 4,
		MaxAttempts:   2,
		BaseDelay:     time.Millisecond,
		ErrorHandler: func(taskID string, err error) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, taskID)
			return errors.New("handler complaint")
		},
	})

	var calls testutils.Counter
	_, err := pool.Map(context.Background(),
		types.NewTask("bad", testutils.AlwaysFail[int](&calls)),
		types.NewTask("good", testutils.Succeed(1, &calls)),
	)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad"}, handled)
}

func TestPool_ErrorHandlerPanicRespawnsWorker(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{
		WorkerCount:   1,
		QueueCapacity: 4,
		MaxAttempts:   1,
		ErrorHandler: func(taskID string, err error) error {
			panic("handler crashed")
		},
	})

	var calls testutils.Counter
	results, err := pool.Map(context.Background(),
		types.NewTask("bad", testutils.AlwaysFail[int](&calls)),
		types.NewTask("good", testutils.Succeed(7, &calls)),
	)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, types.OutcomeFailure, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, testutils.ErrInjected, "the reported result is kept")
	assert.True(t, results[1].Succeeded())

	assert.Eventually(t, func() bool {
		return pool.Stats().Respawns == 1
	}, time.Second, time.Millisecond)
}

func TestPool_SubmitTimeoutReportsUnqueuedTasks(t *testing.T) {
	pool := startPool[string](t, &PoolConfig{
		WorkerCount:   1,
		QueueCapacity: 1,
		SubmitTimeout: 50 * time.Millisecond,
	})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls testutils.Counter

	h, err := pool.Submit(context.Background(),
		types.NewTask("blocker", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "blocker", nil
		}),
		types.NewTask("queued", testutils.Succeed("queued", &calls)),
		types.NewTask("rejected", testutils.Succeed("rejected", &calls)),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTimeout)
	require.NotNil(t, h)

	<-started
	close(release)

	results, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Len(t, results, 3)

	got := byID(results)
	assert.True(t, got["blocker"].Succeeded())
	assert.True(t, got["queued"].Succeeded())
	assert.Equal(t, types.OutcomeFailure, got["rejected"].Outcome)
	assert.ErrorIs(t, got["rejected"].Err, types.ErrTimeout)
	assert.Equal(t, -1, got["rejected"].WorkerID)
	assert.Equal(t, int64(1), calls.Load())
}

func TestHandle_CollectTimeoutResumes(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 4})

	release := make(chan struct{})
	h, err := pool.Submit(context.Background(),
		types.NewTask("quick", func(ctx context.Context) (int, error) { return 1, nil }),
		types.NewTask("stuck", func(ctx context.Context) (int, error) {
			<-release
			return 2, nil
		}),
	)
	require.NoError(t, err)

	partial, err := h.CollectTimeout(50 * time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTimeout)
	require.Len(t, partial, 1)
	assert.Equal(t, "quick", partial[0].TaskID)

	close(release)

	all, err := h.CollectTimeout(5 * time.Second)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHandle_CollectCancelled(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 1, QueueCapacity: 4})

	release := make(chan struct{})
	defer close(release)
	h, err := pool.Submit(context.Background(), types.NewTask("stuck", func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := h.Collect(ctx)
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Empty(t, results)
}

func TestPool_MapReturnsSubmissionOrder(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{WorkerCount: 4, QueueCapacity: 8})

	tasks := make([]types.Task[int], 12)
	for i := range tasks {
		i := i
		tasks[i] = types.NewTask(fmt.Sprintf("sq-%02d", i), func(ctx context.Context) (int, error) {
			// later tasks finish first
			time.Sleep(time.Duration(len(tasks)-i) * time.Millisecond)
			return i * i, nil
		})
	}

	results, err := pool.Map(testutils.Context(t, 5*time.Second), tasks...)
	require.NoError(t, err)
	require.Len(t, results, len(tasks))
	for i, r := range results {
		assert.Equal(t, tasks[i].ID, r.TaskID)
		assert.Equal(t, i*i, r.Value)
	}
}

func TestPool_RateLimited(t *testing.T) {
	pool := startPool[int](t, &PoolConfig{
		WorkerCount:   4,
		QueueCapacity: 8,
		RateLimit:     1000,
		RateBurst:     2,
	})
	require.NotNil(t, pool.limiter)

	tasks := make([]types.Task[int], 10)
	var calls testutils.Counter
	for i := range tasks {
		tasks[i] = types.NewTask(fmt.Sprintf("r%d", i), testutils.Succeed(i, &calls))
	}

	results, err := pool.Map(testutils.Context(t, 5*time.Second), tasks...)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Succeeded())
	}
	assert.Equal(t, int64(10), calls.Load())
}

func TestStartPool(t *testing.T) {
	pool, err := StartPool[string](context.Background(), 3, 6)
	require.NoError(t, err)
	defer pool.Shutdown(context.Background(), true)

	assert.True(t, pool.IsRunning())
	assert.Equal(t, 3, pool.Size())
	assert.Equal(t, 6, pool.Stats().QueueCapacity)

	_, err = StartPool[string](context.Background(), 0, 6)
	assert.Error(t, err)
}

func TestSortBySubmission(t *testing.T) {
	results := []types.WorkerResult[int]{
		{TaskID: "z", Seq: 0},
		{TaskID: "c", Seq: 3},
		{TaskID: "a", Seq: 1},
		{TaskID: "y", Seq: 0},
		{TaskID: "b", Seq: 2},
	}

	SortBySubmission(results)

	var order []string
	for _, r := range results {
		order = append(order, r.TaskID)
	}
	assert.Equal(t, []string{"a", "b", "c", "y", "z"}, order)
}
