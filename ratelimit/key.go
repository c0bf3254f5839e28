package ratelimit

import "strings"

// Category keys used when an endpoint has no dedicated limit entry.
const (
	KeyProducts   = "products"
	KeyWarehouses = "warehouses"
	KeyInventory  = "inventory"
	KeyDefault    = "default"
)

// DefaultLimits returns the conservative per-key call budgets
// (calls per window) observed against the remote API.
func DefaultLimits() map[string]int {
	return map[string]int{
		// Per-endpoint limits
		"getwarehouses":          1,
		"getproduct":             5,
		"getproducts":            5,
		"createproduct":          5,
		"updateproduct":          5,
		"getinventorybylocation": 5,
		"setitemquantity":        5,
		"additem":                5,
		"removeitem":             5,
		// Category fallbacks
		KeyProducts:   5,
		KeyInventory:  5,
		KeyWarehouses: 1,
		KeyDefault:    5,
	}
}

// KeyFor normalizes an endpoint name to its rate-limit key.
// An exact entry in the configured limits table wins; otherwise the
// endpoint is bucketed into a category by name.
func (s *Store) KeyFor(endpoint string) string {
	key := strings.ToLower(endpoint)

	if _, ok := s.config.Limits[key]; ok {
		return key
	}

	switch {
	case strings.Contains(key, "product"):
		return KeyProducts
	case strings.Contains(key, "warehouse"):
		return KeyWarehouses
	case strings.Contains(key, "inventory"), strings.Contains(key, "location"):
		return KeyInventory
	default:
		return KeyDefault
	}
}
