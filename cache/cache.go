package cache

import (
	"context"
	"errors"
	"strings"
)

// MaxIdentifierLength is the maximum allowed length for a key identifier.
const MaxIdentifierLength = 256

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache is the interface for caching remote API responses.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Expiry: Get must never return an entry past its TTL.
//   - Errors: Get should never error; it returns (nil, false) on miss.
//   - Correctness: the cache is an optimization only; losing it must never
//     change results, only latency and outbound call volume.
type Cache interface {
	// Get retrieves a cached value. Returns (nil, false) on miss or expiry.
	Get(ctx context.Context, key Key) ([]byte, bool)

	// Set stores a value; TTL is resolved from the key's category.
	// A category whose resolved TTL is zero is not cached.
	Set(ctx context.Context, key Key, value []byte) error

	// Invalidate removes entries whose key matches pattern and returns
	// how many were removed. A trailing '*' makes the pattern a prefix
	// match against the key's structured components; otherwise it is a
	// substring match. An empty pattern clears everything.
	Invalidate(pattern string) int

	// Stats returns cumulative hit/miss/eviction counters.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64
	Misses    int64
	Entries   int
	Evictions int64
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key Key) error {
	if key.Category == "" || strings.TrimSpace(key.Category) == "" {
		return ErrInvalidKey
	}
	if len(key.Identifier) > MaxIdentifierLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key.Category+key.Identifier, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
