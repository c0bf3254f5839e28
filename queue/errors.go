package queue

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	// Callers should treat it as a transient signal and retry later.
	ErrQueueFull = errors.New("queue: at capacity")

	// ErrClosed is returned when the queue has been closed.
	ErrClosed = errors.New("queue: closed")

	// ErrCancelled is returned for futures cancelled before execution.
	ErrCancelled = errors.New("queue: request cancelled")

	// ErrNilInvoker is returned by New when no invoker is configured.
	ErrNilInvoker = errors.New("queue: invoker is required")
)

// ThrottledError is the terminal failure after the retry ceiling was
// exhausted on throttled responses.
type ThrottledError struct {
	Key        string
	Attempts   int
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("queue: %q throttled after %d attempts", e.Key, e.Attempts)
}

// UpstreamError is the terminal failure after the retry ceiling was
// exhausted on server errors or timeouts.
type UpstreamError struct {
	Endpoint string
	Status   int
	Body     []byte
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue: %q failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
	}
	return fmt.Sprintf("queue: %q failed after %d attempts: status %d", e.Endpoint, e.Attempts, e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
