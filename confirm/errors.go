package confirm

import "errors"

// Sentinel errors for confirmation handling.
var (
	// ErrTokenNotFound is returned for tokens that were never issued
	// or whose record was purged after expiry.
	ErrTokenNotFound = errors.New("confirm: token not found")

	// ErrTokenExpired is returned when the pending confirmation's
	// expiry window has passed.
	ErrTokenExpired = errors.New("confirm: token expired")

	// ErrTokenConsumed is returned when a token is replayed after it
	// was already confirmed or rejected. Tokens are one-shot.
	ErrTokenConsumed = errors.New("confirm: token already consumed")
)
