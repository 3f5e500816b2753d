// Package resilience bounds the gateway's outbound concurrency: a counting
// semaphore caps how many upstream fetches are in flight at once, and a
// token-bucket limiter (see ratelimiter.go) optionally caps their steady-state
// rate independently of that cap.
package resilience

import (
	"context"
	"sync"
)

// Semaphore bounds the number of concurrent outbound fetches the gateway
// allows (see internal/fetcher.Fetcher.Semaphore). It is a plain
// counting semaphore with a FIFO waiter queue, not a buffered-channel permit
// pool, so Capacity/Current/Available stay queryable for
// introspection/metrics without racing a channel's length.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	held     int
	waiters  []chan struct{}
}

// NewSemaphore builds a Semaphore bounding concurrent holders to capacity.
// A non-positive capacity is clamped to 1 — a gateway with a fetch
// concurrency cap of zero would never proxy anything.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{capacity: capacity}
}

// TryAcquire takes a permit without blocking, reporting whether one was free.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held >= s.capacity {
		return false
	}
	s.held++
	return true
}

// Acquire blocks until a permit is available or ctx is done, whichever comes
// first. Fetcher.Fetch calls this before every upstream request it issues.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.TryAcquire() {
		return nil
	}

	s.mu.Lock()
	wake := make(chan struct{})
	s.waiters = append(s.waiters, wake)
	s.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		if !s.dropWaiter(wake) {
			// Release already handed the permit to this waiter in the
			// window before cancellation won the select; pass it on so
			// it isn't lost.
			s.Release()
		}
		return ctx.Err()
	}
}

// dropWaiter removes wake from the queue, reporting whether it was still
// queued. A false return means Release already dequeued it and handed it the
// permit.
func (s *Semaphore) dropWaiter(wake chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == wake {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release returns a permit. If a waiter is queued, the permit is handed off
// directly to it rather than freeing the slot, so the holder count never
// dips below what's actually queued for it.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held == 0 {
		return
	}

	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}

	s.held--
}

// Current reports how many permits are presently held.
func (s *Semaphore) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Capacity reports the configured permit ceiling.
func (s *Semaphore) Capacity() int {
	return s.capacity
}

// Available reports how many permits could be acquired right now without
// blocking.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.held
}
