package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jzx17/taskcore/pkg/types"
)

// Handle collects the results of one Submit call
type Handle[V any] struct {
	id      string
	total   int
	results chan types.WorkerResult[V]

	mu        sync.Mutex
	collected []types.WorkerResult[V]
}

func newHandle[V any](total int) *Handle[V] {
	return &Handle[V]{
		id:        uuid.NewString(),
		total:     total,
		results:   make(chan types.WorkerResult[V], total),
		collected: make([]types.WorkerResult[V], 0, total),
	}
}

// ID returns the handle's unique id
func (h *Handle[V]) ID() string {
	return h.id
}

// Len returns the number of tasks submitted with this handle
func (h *Handle[V]) Len() int {
	return h.total
}

// put never blocks: the channel holds one slot per task and every task is
// reported once
func (h *Handle[V]) put(r types.WorkerResult[V]) {
	h.results <- r
}

// Collect blocks until every task of the handle has a result, in completion
// order. If ctx ends first it returns the results gathered so far with
// types.ErrTimeout for a deadline or a cancellation error otherwise; calling
// Collect again resumes where it stopped and returns the full set.
func (h *Handle[V]) Collect(ctx context.Context) ([]types.WorkerResult[V], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for len(h.collected) < h.total {
		select {
		case r := <-h.results:
			h.collected = append(h.collected, r)
		case <-ctx.Done():
			out := h.snapshot()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return out, fmt.Errorf("%w: collected %d of %d results", types.ErrTimeout, len(out), h.total)
			}
			return out, &types.CancelledError{Err: ctx.Err()}
		}
	}

	return h.snapshot(), nil
}

// CollectTimeout is Collect bounded by timeout
func (h *Handle[V]) CollectTimeout(timeout time.Duration) ([]types.WorkerResult[V], error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Collect(ctx)
}

func (h *Handle[V]) snapshot() []types.WorkerResult[V] {
	out := make([]types.WorkerResult[V], len(h.collected))
	copy(out, h.collected)
	return out
}
