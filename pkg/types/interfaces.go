// Package types defines the core task, result and statistics types shared by
// the queue, cache, retry and worker packages.
package types

import (
	"context"
	"fmt"
	"time"
)

// Operation is a unit of work producing a value or failing.
type Operation[V any] func(ctx context.Context) (V, error)

// Task pairs an operation with the identity used for result reporting and
// cache keying. A Task is treated as immutable once submitted.
type Task[V any] struct {
	// ID is unique within a submission batch
	ID string

	// Key is the memoization identity; ID is used when empty
	Key string

	// Operation is the work to execute
	Operation Operation[V]
}

// NewTask creates a task whose cache key is its ID
func NewTask[V any](id string, op Operation[V]) Task[V] {
	return Task[V]{ID: id, Operation: op}
}

// NewKeyedTask creates a task with a cache key distinct from its ID
func NewKeyedTask[V any](id, key string, op Operation[V]) Task[V] {
	return Task[V]{ID: id, Key: key, Operation: op}
}

// CacheKey returns the identity used for memoization
func (t Task[V]) CacheKey() string {
	if t.Key != "" {
		return t.Key
	}
	return t.ID
}

// Validate checks that the task can be submitted
func (t Task[V]) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTask)
	}
	if t.Operation == nil {
		return fmt.Errorf("%w: task %s has no operation", ErrInvalidTask, t.ID)
	}
	return nil
}

// Outcome is the final disposition of a task
type Outcome int

const (
	// OutcomeSuccess the operation produced a value
	OutcomeSuccess Outcome = iota
	// OutcomeFailure the operation failed after its retries, or faulted
	OutcomeFailure
	// OutcomeCancelled the retry loop was interrupted before completing
	OutcomeCancelled
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// WorkerResult is the report for one submitted task
type WorkerResult[V any] struct {
	// TaskID is the ID of the task
	TaskID string

	// Key is the cache key the task was computed under
	Key string

	// Seq is the submission sequence number assigned by the queue
	Seq uint64

	// Outcome is the final disposition
	Outcome Outcome

	// Value is set when Outcome is OutcomeSuccess
	Value V

	// Err is set when Outcome is not OutcomeSuccess
	Err error

	// AttemptsUsed is the number of operation executions this task caused.
	// It is zero when the value came from the cache.
	AttemptsUsed int

	// Cached reports that the value was served by the memoization cache
	// rather than computed for this task
	Cached bool

	// WorkerID is the worker that handled the task, -1 if none did
	WorkerID int

	// Duration is the time from dequeue to report
	Duration time.Duration
}

// Succeeded checks if the task produced a value
func (r WorkerResult[V]) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// WorkerPoolStats defines basic statistics for worker pools
type WorkerPoolStats struct {
	// PoolSize is the number of worker slots
	PoolSize int

	// ActiveWorkers is the number of workers executing a task
	ActiveWorkers int

	// QueueSize is the current number of tasks in the queue
	QueueSize int

	// QueueCapacity is the capacity of the queue
	QueueCapacity int

	// Submitted is the number of tasks accepted by the queue
	Submitted int64

	// Completed is the number of tasks reported as successes
	Completed int64

	// Failed is the number of tasks reported as failures
	Failed int64

	// Cancelled is the number of tasks reported as cancelled
	Cancelled int64

	// Respawns is the number of workers replaced after a fault
	Respawns int64
}

// ErrorHandler is notified of every task that did not succeed. The returned
// error is logged and otherwise ignored.
type ErrorHandler func(taskID string, err error) error
