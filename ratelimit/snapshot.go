package ratelimit

import (
	"sort"
	"time"
)

// KeySnapshot is a read-only view of one key's budget.
type KeySnapshot struct {
	Key          string
	Limit        int
	LastGood     int
	DeclaredCap  int
	Window       time.Duration
	Count        int
	WindowStart  time.Time
	Failures     int
	ParkedUntil  time.Time
	BackoffUntil time.Time
}

// Snapshot is a point-in-time copy of every tracked key, sorted by key.
type Snapshot struct {
	Keys []KeySnapshot
}

// SnapshotAll returns a consistent-per-key copy of the store's state.
func (s *Store) SnapshotAll() Snapshot {
	s.mu.RLock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)

	snap := Snapshot{Keys: make([]KeySnapshot, 0, len(keys))}
	for _, k := range keys {
		ks := s.stateFor(k)
		ks.mu.Lock()
		snap.Keys = append(snap.Keys, KeySnapshot{
			Key:          k,
			Limit:        ks.limit,
			LastGood:     ks.lastGood,
			DeclaredCap:  ks.declaredCap,
			Window:       s.config.Window,
			Count:        ks.count,
			WindowStart:  ks.windowStart,
			Failures:     ks.failures,
			ParkedUntil:  ks.parkedUntil,
			BackoffUntil: ks.backoffUntil,
		})
		ks.mu.Unlock()
	}
	return snap
}
