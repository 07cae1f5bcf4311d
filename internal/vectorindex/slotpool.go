package vectorindex

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// SlotPool bounds concurrent operations and fails fast once the wait queue
// is saturated, rather than letting callers pile up unbounded.
type SlotPool struct {
	sem      *semaphore.Weighted
	inflight atomic.Int64
	capacity int64
}

// NewSlotPool allows size concurrent holders plus queueLen waiters.
func NewSlotPool(size, queueLen int) *SlotPool {
	return &SlotPool{
		sem:      semaphore.NewWeighted(int64(size)),
		capacity: int64(size + queueLen),
	}
}

// Acquire blocks until a slot is free, the context is done, or the queue is
// full (ErrOverloaded). The returned func releases the slot.
func (p *SlotPool) Acquire(ctx context.Context) (func(), error) {
	if p.inflight.Add(1) > p.capacity {
		p.inflight.Add(-1)
		return nil, ErrOverloaded
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.inflight.Add(-1)
		return nil, err
	}
	return func() {
		p.sem.Release(1)
		p.inflight.Add(-1)
	}, nil
}
