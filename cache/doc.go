// Package cache provides a TTL response cache for remote API calls.
//
// It provides a Cache interface with a memory implementation, SHA-256-based
// key derivation from endpoint parameters, per-category TTL policies, and
// pattern-based invalidation over the key's structured components.
package cache
