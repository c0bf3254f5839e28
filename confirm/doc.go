// Package confirm provides the confirmation gate that guards mutating
// operations behind an explicit acknowledgment.
//
// A mutating operation arriving without a token is parked as a
// PendingConfirmation; the caller receives a human-readable change summary
// and an opaque one-shot token. Confirming with that token releases the
// operation exactly once; rejection or expiry consumes it.
package confirm
