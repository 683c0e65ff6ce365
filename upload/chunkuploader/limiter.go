package chunkuploader

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting semaphore bounding the number of part uploads in flight.
// Waiters are served in FIFO order and a released permit is handed directly to the
// oldest waiter.
type Limiter struct {
	sem   *semaphore.Weighted
	size  int
	inUse int64
}

// NewLimiter creates a Limiter with n permits. n < 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(n)),
		size: n,
	}
}

// Acquire blocks until a permit is available or ctx is done.
// A caller that gives up while queued does not hold a permit.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&l.inUse, 1)
	return nil
}

// Release returns a permit obtained by Acquire.
func (l *Limiter) Release() {
	atomic.AddInt64(&l.inUse, -1)
	l.sem.Release(1)
}

// InUse returns the number of permits currently granted.
func (l *Limiter) InUse() int {
	return int(atomic.LoadInt64(&l.inUse))
}

// Size returns the total number of permits.
func (l *Limiter) Size() int {
	return l.size
}
