package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of conversations running at once. Each
// conversation holds one slot for its whole lifetime.
type Limiter struct {
	semaphore *semaphore.Weighted
	max       int64
	active    atomic.Int64
}

// NewLimiter creates a Limiter with maxConcurrent slots.
func NewLimiter(maxConcurrent int64) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		semaphore: semaphore.NewWeighted(maxConcurrent),
		max:       maxConcurrent,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.semaphore.Acquire(ctx, 1); err != nil {
		return err
	}
	l.active.Add(1)
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.semaphore.Release(1)
}

// Active returns the number of held slots.
func (l *Limiter) Active() int64 { return l.active.Load() }

// Max returns the slot count.
func (l *Limiter) Max() int64 { return l.max }

// WaitIdle blocks until no slots are held, or the timeout expires. Returns
// true if idle, false if timed out.
func (l *Limiter) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if l.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
