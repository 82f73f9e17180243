package service

import (
	"context"
	"time"
)

// MemoryQueue is an in-process Queue. Deliveries are lost on restart and
// nothing is ever stale, so RequeueStale is a no-op.
type MemoryQueue struct {
	ch chan Task
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan Task, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Claim(ctx context.Context, timeout time.Duration) (Delivery, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case t := <-q.ch:
		return Delivery{Task: t}, nil
	case <-expired:
		return Delivery{}, ErrNoTask
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, Delivery) error { return nil }

func (q *MemoryQueue) RequeueStale(context.Context, time.Duration, int64) (int64, error) {
	return 0, nil
}

func (q *MemoryQueue) Ping(context.Context) error { return nil }

// Len reports queued, unclaimed tasks.
func (q *MemoryQueue) Len() int { return len(q.ch) }
