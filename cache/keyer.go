package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Key is a structured cache key. The category scopes TTL policy and the
// identifier carries the entity references (SKU, warehouse, location)
// that pattern invalidation matches against.
type Key struct {
	Category   string
	Identifier string
	Hash       string
}

// String returns the canonical flat form of the key.
// Format: <category>:<identifier>:<hash> (identifier omitted when empty).
func (k Key) String() string {
	if k.Identifier == "" {
		return k.Category + ":" + k.Hash
	}
	return k.Category + ":" + k.Identifier + ":" + k.Hash
}

// credentialParams are stripped before key derivation so the same logical
// request hits the same entry regardless of the tokens it carried.
var credentialParams = map[string]bool{
	"TenantToken": true,
	"UserToken":   true,
}

// identifierParams maps parameter names to identifier segment prefixes,
// in the order segments are emitted.
var identifierParams = []struct {
	param  string
	prefix string
}{
	{"Sku", "sku"},
	{"WarehouseId", "warehouse"},
	{"LocationCode", "location"},
}

// Keyer generates deterministic cache keys from endpoint parameters.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key from category, endpoint, and parameters.
	Key(category, endpoint string, params map[string]any) (Key, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key. Credential parameters are
// excluded, the remaining parameters are canonicalized to JSON with
// sorted map keys, and the hash is the first 16 hex characters of the
// SHA-256 of "<endpoint>:<canonical params>".
func (k *DefaultKeyer) Key(category, endpoint string, params map[string]any) (Key, error) {
	filtered := make(map[string]any, len(params))
	var segments []string
	for key, v := range params {
		if credentialParams[key] {
			continue
		}
		filtered[key] = v
	}
	for _, ip := range identifierParams {
		if v, ok := filtered[ip.param]; ok && v != nil {
			segments = append(segments, fmt.Sprintf("%s:%v", ip.prefix, v))
		}
	}

	canonical, err := canonicalize(filtered)
	if err != nil {
		return Key{}, fmt.Errorf("cache: failed to canonicalize params: %w", err)
	}

	sum := sha256.Sum256([]byte(endpoint + ":" + string(canonical)))
	hash := hex.EncodeToString(sum[:8]) // First 8 bytes = 16 hex chars

	return Key{
		Category:   strings.ToLower(category),
		Identifier: strings.Join(segments, ":"),
		Hash:       hash,
	}, nil
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	// For maps, sort keys for determinism
	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		// For other types, use standard JSON encoding
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	// Sort keys
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build ordered JSON object
	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		// Key
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		// Value (recursively canonicalize)
		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
