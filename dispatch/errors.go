package dispatch

import (
	"errors"
	"fmt"

	"github.com/dbankscard/skuvault-mcp-server/confirm"
	"github.com/dbankscard/skuvault-mcp-server/queue"
)

// Sentinel errors for dispatch operations.
var (
	// ErrCapacity is returned by Execute when the queue is full.
	// Transient: callers should retry later.
	ErrCapacity = queue.ErrQueueFull

	// ErrConfirmationMismatch is returned when a token resolves to a
	// different logical operation than the one resubmitted, or when a
	// consumed token is replayed.
	ErrConfirmationMismatch = errors.New("dispatch: confirmation does not match operation")

	// ErrClosed is returned after the dispatcher has been closed.
	ErrClosed = queue.ErrClosed

	// ErrNilInvoker is returned by New when no invoker is configured.
	ErrNilInvoker = errors.New("dispatch: invoker is required")
)

// Re-exported terminal failures from the queue's retry loop.
type (
	// ThrottledError surfaces only after the retry ceiling is exhausted
	// on throttled responses.
	ThrottledError = queue.ThrottledError

	// UpstreamError surfaces only after the retry ceiling is exhausted
	// on server errors or timeouts.
	UpstreamError = queue.UpstreamError
)

// ValidationError rejects a malformed Operation before it is queued.
// Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid %s: %s", e.Field, e.Reason)
}

// IsConfirmationError reports whether err belongs to the confirmation
// taxonomy (unknown, expired, consumed, or mismatched token).
func IsConfirmationError(err error) bool {
	return errors.Is(err, confirm.ErrTokenNotFound) ||
		errors.Is(err, confirm.ErrTokenExpired) ||
		errors.Is(err, confirm.ErrTokenConsumed) ||
		errors.Is(err, ErrConfirmationMismatch)
}
