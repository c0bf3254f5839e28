package cache

import "time"

// Policy resolves TTLs by response category.
type Policy struct {
	// TTLs maps categories to their time-to-live.
	TTLs map[string]time.Duration

	// DefaultTTL is used for categories absent from TTLs.
	// If zero, unknown categories are not cached.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Resolved TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the TTL table tuned to how often each category
// of remote data actually changes.
func DefaultPolicy() Policy {
	return Policy{
		TTLs: map[string]time.Duration{
			"warehouses": time.Hour,        // warehouses rarely change
			"product":    5 * time.Minute,  // product details
			"products":   time.Minute,      // product lists
			"inventory":  30 * time.Second, // inventory changes frequently
		},
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0 || len(p.TTLs) > 0
}

// TTLFor returns the TTL for a category, applying the default and clamping.
func (p Policy) TTLFor(category string) time.Duration {
	ttl, ok := p.TTLs[category]
	if !ok {
		ttl = p.DefaultTTL
	}

	// Clamp to MaxTTL if set
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}

	return ttl
}
