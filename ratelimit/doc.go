// Package ratelimit provides an adaptive per-endpoint rate limiter store.
//
// It enforces a rolling-window call budget per endpoint-category key, learns
// the true server-side quota from throttling feedback, and applies
// exponential backoff after repeated server errors.
package ratelimit
