package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Memory is an in-memory cache implementation.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	policy  Policy
	clock   clock.PassiveClock

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key       Key
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// NewMemory creates a new in-memory cache with the given policy.
// A nil clk defaults to the real clock.
func NewMemory(policy Policy, clk clock.PassiveClock) *Memory {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Memory{
		entries: make(map[string]*entry),
		policy:  policy,
		clock:   clk,
	}
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *Memory) Get(_ context.Context, key Key) ([]byte, bool) {
	flat := key.String()

	c.mu.RLock()
	e, ok := c.entries[flat]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	// Check expiry
	if !c.clock.Now().Before(e.expiresAt) {
		// Expired - clean up lazily
		c.mu.Lock()
		if cur, ok := c.entries[flat]; ok && cur == e {
			delete(c.entries, flat)
			c.evictions++
		}
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.value, true
}

// Set stores a value with the TTL resolved from the key's category.
// A zero TTL means the category is not cached.
func (c *Memory) Set(_ context.Context, key Key, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	ttl := c.policy.TTLFor(key.Category)
	if ttl <= 0 {
		return nil
	}

	now := c.clock.Now()
	c.mu.Lock()
	c.entries[key.String()] = &entry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

// Invalidate removes entries matching pattern and returns the count removed.
// A trailing '*' makes pattern a prefix match against the flat key, the
// category, or the identifier; otherwise pattern is a substring match on
// the flat key. Matching is case-insensitive. Empty pattern clears all.
func (c *Memory) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		n := len(c.entries)
		c.entries = make(map[string]*entry)
		c.evictions += int64(n)
		return n
	}

	removed := 0
	for flat, e := range c.entries {
		if matchKey(pattern, e.key) {
			delete(c.entries, flat)
			removed++
		}
	}
	c.evictions += int64(removed)
	return removed
}

// matchKey reports whether pattern matches the key's structured components.
func matchKey(pattern string, key Key) bool {
	p := strings.ToLower(pattern)
	flat := strings.ToLower(key.String())

	if strings.HasSuffix(p, "*") {
		p = strings.TrimSuffix(p, "*")
		return strings.HasPrefix(flat, p) ||
			strings.HasPrefix(strings.ToLower(key.Category), p) ||
			strings.HasPrefix(strings.ToLower(key.Identifier), p)
	}
	return strings.Contains(flat, p)
}

// Sweep removes every expired entry and returns the count removed.
// Expiry is otherwise lazy; Sweep bounds memory for idle caches.
func (c *Memory) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for flat, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, flat)
			removed++
		}
	}
	c.evictions += int64(removed)
	return removed
}

// Stats returns cumulative cache statistics.
func (c *Memory) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Entries:   len(c.entries),
		Evictions: c.evictions,
	}
}

// Len returns the current number of entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure Memory implements Cache
var _ Cache = (*Memory)(nil)
