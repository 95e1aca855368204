package core

// limiter.go implements bounded parallelism.
//
// ConcurrencyLimiter is a semaphore with two uses:
//   - per import, it caps in-flight candidate applies (Go / Wait), queuing the
//     rest until a slot frees up
//   - process wide, it caps how many imports run at once, rejecting callers
//     that cannot get a slot within maxWait
//
// WaitForDrain supports graceful shutdown by blocking until every slot is free.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimiterBusy is returned when no slot frees up within maxWait.
var ErrLimiterBusy = errors.New("concurrency limit reached, please try again later")

// ErrTooManyImports is returned by the import slot limiter when all slots are
// occupied and the wait expires. Clients should retry after a short delay.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// DefaultApplyConcurrency is the number of candidates applied in parallel.
const DefaultApplyConcurrency = 10

// DefaultMaxConcurrentImports is the default limit for whole imports.
const DefaultMaxConcurrentImports = 2

// DefaultMaxWaitTime is how long the import slot limiter waits before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ConcurrencyLimiter runs at most N tasks at a time using a semaphore.
type ConcurrencyLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration // zero waits until ctx is done
	busyErr   error

	mu     sync.RWMutex
	active int

	wg sync.WaitGroup
}

// NewConcurrencyLimiter creates a limiter that allows maxConcurrent
// simultaneous tasks. Acquire queues until a slot frees or ctx ends.
func NewConcurrencyLimiter(maxConcurrent int) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultApplyConcurrency
	}
	return &ConcurrencyLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		busyErr:   ErrLimiterBusy,
	}
}

// NewImportLimiter creates the process-wide import slot limiter. Callers that
// cannot acquire a slot within maxWait receive ErrTooManyImports.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ConcurrencyLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		busyErr:   ErrTooManyImports,
	}
}

// Acquire takes a slot. The caller MUST call Release when done (use defer).
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own wait timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.busyErr
	}
}

// TryAcquire takes a slot without blocking.
func (l *ConcurrencyLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ConcurrencyLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// Go waits for a slot and runs fn in a new goroutine, releasing the slot
// when fn returns. It returns an error only if no slot could be acquired,
// in which case fn is not run. Use Wait to join all started tasks.
func (l *ConcurrencyLimiter) Go(ctx context.Context, fn func()) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.Release()
		fn()
	}()
	return nil
}

// Wait blocks until every task started with Go has returned.
func (l *ConcurrencyLimiter) Wait() {
	l.wg.Wait()
}

// ActiveCount returns the number of occupied slots.
func (l *ConcurrencyLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *ConcurrencyLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *ConcurrencyLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no slot is occupied or ctx is cancelled.
func (l *ConcurrencyLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of a limiter's state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *ConcurrencyLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
