package ratelimit

import "time"

// OutcomeKind classifies the result of an outbound call for limit learning.
type OutcomeKind int

const (
	// OutcomeSuccess means the call completed without quota or server errors.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeThrottled means the server rejected the call for exceeding quota.
	OutcomeThrottled
	// OutcomeServerError means the call failed with a server-side error or timeout.
	OutcomeServerError
)

// String returns the string representation of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeServerError:
		return "server-error"
	default:
		return "unknown"
	}
}

// Outcome describes how an outbound call ended.
type Outcome struct {
	Kind OutcomeKind

	// RetryAfter is the server-suggested wait on a throttled outcome.
	// Zero when the server supplied no hint.
	RetryAfter time.Duration
}

// Success returns a success outcome.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Throttled returns a throttled outcome with an optional server retry hint.
func Throttled(retryAfter time.Duration) Outcome {
	return Outcome{Kind: OutcomeThrottled, RetryAfter: retryAfter}
}

// ServerError returns a server error outcome.
func ServerError() Outcome {
	return Outcome{Kind: OutcomeServerError}
}
