// Package types defines error types
package types

import (
	"context"
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrQueueClosed indicates the work queue no longer accepts or delivers work
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull indicates a non-blocking enqueue found the queue at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrCancelled indicates a blocking operation or retry loop was interrupted
	ErrCancelled = errors.New("operation cancelled")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrInvalidTask indicates a task without an ID or operation
	ErrInvalidTask = errors.New("invalid task")

	// ErrDuplicateTaskID indicates two tasks of one batch share an ID
	ErrDuplicateTaskID = errors.New("duplicate task id")

	// ErrPoolNotRunning indicates the pool was used before Start or after Shutdown
	ErrPoolNotRunning = errors.New("pool is not running")
)

// TaskFailure is the final error of a task whose attempts were exhausted or
// whose error was not retryable.
type TaskFailure struct {
	// TaskID identifies the failed task, empty when unknown
	TaskID string

	// Attempts is the number of times the operation was executed
	Attempts int

	// MaxAttempts is the retry budget that applied
	MaxAttempts int

	// Err is the error returned by the last attempt
	Err error
}

// Error implements the error interface
func (e *TaskFailure) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("task %s failed after %d/%d attempts: %v", e.TaskID, e.Attempts, e.MaxAttempts, e.Err)
	}
	return fmt.Sprintf("task failed after %d/%d attempts: %v", e.Attempts, e.MaxAttempts, e.Err)
}

// Unwrap returns the underlying error
func (e *TaskFailure) Unwrap() error {
	return e.Err
}

// CancelledError reports a retry loop interrupted by its context.
type CancelledError struct {
	// Attempts is the number of attempts made before cancellation
	Attempts int

	// Err is the context error
	Err error
}

// Error implements the error interface
func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying error
func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Is reports ErrCancelled as a match
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// WorkerFault is an unexpected panic caught at the worker boundary.
type WorkerFault struct {
	// TaskID is the task being executed when the fault occurred
	TaskID string

	// WorkerID is the worker slot that faulted, -1 when outside a worker
	WorkerID int

	// Value is the recovered panic value
	Value interface{}

	// Stack is the goroutine stack at the time of the panic
	Stack string
}

// Error implements the error interface
func (e *WorkerFault) Error() string {
	return fmt.Sprintf("worker fault in task %s: panic: %v", e.TaskID, e.Value)
}

// Unwrap returns the panic value when it is itself an error
func (e *WorkerFault) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// permanentError marks an error that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so retry policies stop at the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent checks if an error was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// IsCancellation reports whether err stems from context cancellation or
// from an interrupted retry loop.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsWorkerFault checks if an error carries a WorkerFault
func IsWorkerFault(err error) bool {
	var wf *WorkerFault
	return errors.As(err, &wf)
}

// AttemptsOf extracts the attempt count recorded in a TaskFailure or
// CancelledError. It returns 0 when err carries neither.
func AttemptsOf(err error) int {
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return tf.Attempts
	}
	var ce *CancelledError
	if errors.As(err, &ce) {
		return ce.Attempts
	}
	return 0
}

// Classify maps an error to the outcome it produces in a WorkerResult.
// A TaskFailure is always a failure, even when the operation's own error was
// a context error.
func Classify(err error) Outcome {
	var tf *TaskFailure
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case errors.As(err, &tf):
		return OutcomeFailure
	case IsCancellation(err):
		return OutcomeCancelled
	default:
		return OutcomeFailure
	}
}
