package queue

import (
	"context"
	"sync"
)

// Future is the caller's handle on a submitted request.
//
// Contract:
//   - Concurrency: safe for concurrent use by multiple waiters.
//   - Cancel before execution prevents the request from starting; Cancel
//     during execution is best-effort (the in-flight call completes, its
//     result is discarded).
type Future struct {
	done   chan struct{}
	cancel chan struct{}

	cancelOnce  sync.Once
	resolveOnce sync.Once

	mu       sync.Mutex
	resp     *Response
	err      error
	attempts int
}

func newFuture() *Future {
	return &Future{
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
}

// Done returns a channel closed when the future is resolved or failed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future resolves or ctx is done.
func (f *Future) Result(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Attempts returns how many invocation attempts were made.
func (f *Future) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// Cancel marks the future cancelled and unblocks all waiters.
// Idempotent. A request already completed keeps its result.
func (f *Future) Cancel() {
	f.cancelOnce.Do(func() {
		close(f.cancel)
	})
	f.fail(ErrCancelled, 0)
}

// Cancelled reports whether Cancel was called.
func (f *Future) Cancelled() bool {
	select {
	case <-f.cancel:
		return true
	default:
		return false
	}
}

// resolve completes the future successfully. First resolution wins.
func (f *Future) resolve(resp *Response, attempts int) {
	f.resolveOnce.Do(func() {
		f.mu.Lock()
		f.resp = resp
		f.attempts = attempts
		f.mu.Unlock()
		close(f.done)
	})
}

// fail completes the future with an error. First resolution wins.
func (f *Future) fail(err error, attempts int) {
	f.resolveOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.attempts = attempts
		f.mu.Unlock()
		close(f.done)
	})
}
