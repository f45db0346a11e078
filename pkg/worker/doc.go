/*
Package worker provides a fixed-size worker pool that executes tasks with
retries and memoization.

# Overview

A Pool owns:
  - a bounded FIFO work queue (pkg/queue) between Submit and the workers
  - a fixed set of workers, each in its own errgroup goroutine
  - a memoization cache (pkg/cache) shared by all workers
  - a retry executor (pkg/retry) applied to every task

For every dequeued task a worker waits for the optional rate limiter, then
calls the cache with the task's key. On a miss the cache runs the task's
operation under the retry policy; concurrent tasks with the same key share
that single computation.

# Lifecycle

Workers move Idle → Working → Idle and stop once the queue is closed and
empty. A worker never abandons a task mid-retry.

	pool, err := worker.StartPool[string](ctx, 4, 16)
	if err != nil {
		log.Fatal(err)
	}

	h, err := pool.Submit(ctx,
		types.NewTask("a", fetchA),
		types.NewTask("b", fetchB),
	)
	if err != nil {
		log.Fatal(err)
	}

	results, err := h.CollectTimeout(30 * time.Second)

	_ = pool.Shutdown(ctx, true)

Shutdown(ctx, true) drains the queue. Shutdown(ctx, false) reports the tasks
still queued as failures wrapping types.ErrQueueClosed and only waits for the
tasks already executing. Submit after Shutdown fails with
types.ErrQueueClosed.

# Results

Collect returns one WorkerResult per task in completion order;
SortBySubmission restores submission order and Map does both. A failed task
never affects other tasks: its error is carried by its own result.

# Faults

A panicking operation is converted into a failure carrying a
*types.WorkerFault for the task that was running. The worker is then
replaced by a fresh one in the same slot so the pool keeps its size.
*/
package worker
