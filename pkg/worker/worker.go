package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jzx17/taskcore/pkg/retry"
	"github.com/jzx17/taskcore/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents idle worker state
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents working worker state
	WorkerStateWorking
	// WorkerStateStopped represents stopped worker state
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker pulls jobs from its pool's queue and executes them one at a time.
// A worker always finishes its current job, retries included, before it
// looks at the queue again; it stops once the queue is closed and empty.
type Worker[V any] struct {
	id    int
	state int32 // atomic state
	pool  *Pool[V]

	// statistics
	totalProcessed int64
	totalFailed    int64
	lastTaskTime   int64 // Unix nanosecond timestamp

	current atomic.Pointer[job[V]]
}

func newWorker[V any](id int, pool *Pool[V]) *Worker[V] {
	return &Worker[V]{
		id:    id,
		state: int32(WorkerStateIdle),
		pool:  pool,
	}
}

// ID returns the Worker ID
func (w *Worker[V]) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker[V]) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// run is the worker loop. It returns nil when the queue is closed and
// drained, or the fault that ended this worker. The job being executed when
// a fault occurs is reported as a failure before run returns.
func (w *Worker[V]) run(ctx context.Context) (fault *types.WorkerFault) {
	defer atomic.StoreInt32(&w.state, int32(WorkerStateStopped))
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var buf [4096]byte
		n := runtime.Stack(buf[:], false)
		fault = &types.WorkerFault{WorkerID: w.id, Value: r, Stack: string(buf[:n])}

		if j := w.current.Load(); j != nil {
			fault.TaskID = j.task.ID
			if !j.reported.Load() {
				w.pool.deliver(j, types.WorkerResult[V]{
					TaskID:   j.task.ID,
					Key:      j.task.CacheKey(),
					Seq:      j.seq,
					Outcome:  types.OutcomeFailure,
					Err:      fault,
					WorkerID: w.id,
				})
			}
		}
	}()

	for {
		// the queue is closed on shutdown and on cancellation of ctx, so the
		// dequeue itself never needs to observe ctx
		item, ok, _ := w.pool.queue.Dequeue(context.Background())
		if !ok {
			return nil
		}
		item.Value.seq = item.Seq

		w.current.Store(item.Value)
		fault = w.process(ctx, item.Value)
		w.current.Store(nil)
		if fault != nil {
			return fault
		}
	}
}

// process executes one job and reports its result. It returns a fault when
// the job's own operation panicked.
func (w *Worker[V]) process(ctx context.Context, j *job[V]) *types.WorkerFault {
	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateIdle))

	clock := w.pool.config.Clock
	startTime := clock.Now()
	atomic.StoreInt64(&w.lastTaskTime, startTime.UnixNano())

	result := types.WorkerResult[V]{
		TaskID:   j.task.ID,
		Key:      j.task.CacheKey(),
		Seq:      j.seq,
		WorkerID: w.id,
	}

	var fault *types.WorkerFault
	if err := w.pool.dropped(); err != nil {
		result.Err = err
	} else {
		fault = w.execute(ctx, j, &result)
	}

	result.Outcome = types.Classify(result.Err)
	result.Duration = clock.Since(startTime)

	if result.Outcome == types.OutcomeSuccess {
		atomic.AddInt64(&w.totalProcessed, 1)
	} else {
		atomic.AddInt64(&w.totalFailed, 1)
	}

	w.pool.deliver(j, result)
	return fault
}

// execute runs the job through the rate limiter, the cache and the retry
// executor, filling in the result fields
func (w *Worker[V]) execute(ctx context.Context, j *job[V], result *types.WorkerResult[V]) *types.WorkerFault {
	p := w.pool

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			result.Err = &types.CancelledError{Err: err}
			return nil
		}
	}

	// counted per execution so an attempt that panics is still included
	var attempts atomic.Int64
	op := func(ctx context.Context) (V, error) {
		attempts.Add(1)
		return j.task.Operation(ctx)
	}
	compute := func(ctx context.Context) (V, error) {
		v, _, err := retry.ExecuteWithName(p.executor, ctx, j.task.ID, op)
		var tf *types.TaskFailure
		if errors.As(err, &tf) && tf.TaskID == "" {
			tf.TaskID = j.task.ID
		}
		return v, err
	}

	v, shared, err := p.cache.GetOrComputeShared(ctx, j.task.CacheKey(), compute)
	result.Value = v
	result.Cached = shared && err == nil

	switch {
	case !shared:
		result.AttemptsUsed = int(attempts.Load())
	case err != nil:
		result.AttemptsUsed = types.AttemptsOf(err)
	}

	if err == nil {
		return nil
	}

	var zero V
	result.Value = zero
	result.Err = err

	var wf *types.WorkerFault
	if !shared && errors.As(err, &wf) {
		// the operation crashed in this worker: report it against the task
		// and retire the worker
		fault := &types.WorkerFault{
			TaskID:   j.task.ID,
			WorkerID: w.id,
			Value:    wf.Value,
			Stack:    wf.Stack,
		}
		result.Err = fault
		return fault
	}
	if errors.As(err, &wf) && wf.TaskID == "" {
		result.Err = &types.WorkerFault{
			TaskID:   j.task.ID,
			WorkerID: wf.WorkerID,
			Value:    wf.Value,
			Stack:    wf.Stack,
		}
	}
	return nil
}

// Stats gets Worker statistics
func (w *Worker[V]) Stats() WorkerStats {
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		LastTaskTime:   time.Unix(0, atomic.LoadInt64(&w.lastTaskTime)),
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	LastTaskTime   time.Time
}

// IsActive checks if Worker is active
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetSuccessRate gets the success rate
func (ws WorkerStats) GetSuccessRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalProcessed) / float64(total)
}

// String formats the stats for logs
func (ws WorkerStats) String() string {
	return fmt.Sprintf("worker %d (%s): %d ok, %d failed", ws.ID, ws.State, ws.TotalProcessed, ws.TotalFailed)
}
