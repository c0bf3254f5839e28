package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

func newTestStore(t *testing.T, config Config) (*Store, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Now())
	config.Clock = clk
	return NewStore(config), clk
}

func TestStore_AcquireWithinLimit(t *testing.T) {
	s, _ := newTestStore(t, Config{Limits: map[string]int{"getproducts": 3}})

	for i := 0; i < 3; i++ {
		if wait := s.Acquire("getproducts"); wait != 0 {
			t.Fatalf("Acquire %d returned %v, want 0", i, wait)
		}
	}

	// Fourth call must wait out the window
	wait := s.Acquire("getproducts")
	if wait <= 0 || wait > 60*time.Second {
		t.Errorf("Acquire over limit returned %v, want (0, 60s]", wait)
	}
}

func TestStore_WindowRollover(t *testing.T) {
	s, clk := newTestStore(t, Config{Limits: map[string]int{"getwarehouses": 1}})

	if wait := s.Acquire("getwarehouses"); wait != 0 {
		t.Fatalf("first Acquire returned %v, want 0", wait)
	}
	if wait := s.Acquire("getwarehouses"); wait != 60*time.Second {
		t.Errorf("exhausted Acquire returned %v, want full window", wait)
	}

	clk.Step(60 * time.Second)
	if wait := s.Acquire("getwarehouses"); wait != 0 {
		t.Errorf("Acquire after rollover returned %v, want 0", wait)
	}
}

func TestStore_ThrottleShrinksLimit(t *testing.T) {
	s, _ := newTestStore(t, Config{Limits: map[string]int{"getproducts": 5}})

	// Admit three calls, then the server throttles: learned limit is
	// one less than the observed count.
	for i := 0; i < 3; i++ {
		s.Acquire("getproducts")
	}
	s.Report("getproducts", Throttled(0))

	snap := snapshotFor(t, s, "getproducts")
	if snap.Limit != 2 {
		t.Errorf("Limit = %d after throttle at count 3, want 2", snap.Limit)
	}
	if snap.LastGood != 5 {
		t.Errorf("LastGood = %d, want 5", snap.LastGood)
	}
}

func TestStore_ThrottleFloorIsOne(t *testing.T) {
	s, clk := newTestStore(t, Config{Limits: map[string]int{"getwarehouses": 1}})

	s.Acquire("getwarehouses")
	s.Report("getwarehouses", Throttled(0))

	if snap := snapshotFor(t, s, "getwarehouses"); snap.Limit != 1 {
		t.Errorf("Limit = %d, want floor of 1", snap.Limit)
	}

	// Repeated throttles keep the floor
	clk.Step(10 * time.Minute)
	s.Acquire("getwarehouses")
	s.Report("getwarehouses", Throttled(0))
	if snap := snapshotFor(t, s, "getwarehouses"); snap.Limit != 1 {
		t.Errorf("Limit = %d after repeat throttle, want 1", snap.Limit)
	}
}

func TestStore_RetryAfterParksKey(t *testing.T) {
	s, clk := newTestStore(t, Config{Limits: map[string]int{"getproducts": 5}})

	s.Acquire("getproducts")
	s.Report("getproducts", Throttled(2*time.Minute))

	// Subsequent acquires wait out at least the server hint
	wait := s.Acquire("getproducts")
	if wait < 2*time.Minute {
		t.Errorf("Acquire during park returned %v, want >= 2m", wait)
	}

	clk.Step(2 * time.Minute)
	if wait := s.Acquire("getproducts"); wait != 0 {
		t.Errorf("Acquire after park elapsed returned %v, want 0", wait)
	}
}

func TestStore_ServerErrorBackoff(t *testing.T) {
	s, clk := newTestStore(t, Config{
		Limits:           map[string]int{"additem": 5},
		BackoffThreshold: 3,
		BackoffBase:      2 * time.Second,
		BackoffMax:       10 * time.Second,
	})

	// Two failures: no hold yet
	s.Report("additem", ServerError())
	s.Report("additem", ServerError())
	if wait := s.Acquire("additem"); wait != 0 {
		t.Fatalf("Acquire below threshold returned %v, want 0", wait)
	}

	// Third failure crosses the threshold
	s.Report("additem", ServerError())
	if wait := s.Acquire("additem"); wait != 2*time.Second {
		t.Errorf("Acquire at threshold returned %v, want 2s", wait)
	}

	// Each further failure doubles the hold
	s.Report("additem", ServerError())
	if wait := s.Acquire("additem"); wait != 4*time.Second {
		t.Errorf("Acquire past threshold returned %v, want 4s", wait)
	}

	// Capped at BackoffMax
	for i := 0; i < 5; i++ {
		s.Report("additem", ServerError())
	}
	if wait := s.Acquire("additem"); wait != 10*time.Second {
		t.Errorf("Acquire at cap returned %v, want 10s", wait)
	}

	// Success clears the hold and the failure count
	clk.Step(10 * time.Second)
	s.Report("additem", Success())
	if wait := s.Acquire("additem"); wait != 0 {
		t.Errorf("Acquire after success returned %v, want 0", wait)
	}
	if snap := snapshotFor(t, s, "additem"); snap.Failures != 0 {
		t.Errorf("Failures = %d after success, want 0", snap.Failures)
	}
}

func TestStore_Regrowth(t *testing.T) {
	s, clk := newTestStore(t, Config{
		Limits:      map[string]int{"getproducts": 5},
		MaxLimit:    10,
		RegrowAfter: 5 * time.Minute,
	})

	// Shrink to 2
	for i := 0; i < 3; i++ {
		s.Acquire("getproducts")
	}
	s.Report("getproducts", Throttled(0))
	if snap := snapshotFor(t, s, "getproducts"); snap.Limit != 2 {
		t.Fatalf("Limit = %d after throttle, want 2", snap.Limit)
	}

	// A success before the cooldown does not grow
	clk.Step(time.Minute)
	s.Report("getproducts", Success())
	if snap := snapshotFor(t, s, "getproducts"); snap.Limit != 2 {
		t.Errorf("Limit = %d before cooldown, want 2", snap.Limit)
	}

	// After the cooldown, one step per clean window
	clk.Step(5 * time.Minute)
	s.Report("getproducts", Success())
	if snap := snapshotFor(t, s, "getproducts"); snap.Limit != 3 {
		t.Errorf("Limit = %d after cooldown, want 3", snap.Limit)
	}

	// Another success inside the same window does not grow again
	s.Report("getproducts", Success())
	if snap := snapshotFor(t, s, "getproducts"); snap.Limit != 3 {
		t.Errorf("Limit = %d within growth window, want 3", snap.Limit)
	}

	clk.Step(time.Minute)
	s.Report("getproducts", Success())
	if snap := snapshotFor(t, s, "getproducts"); snap.Limit != 4 {
		t.Errorf("Limit = %d after next window, want 4", snap.Limit)
	}
}

func TestStore_RegrowthHonorsDeclaredCap(t *testing.T) {
	s, clk := newTestStore(t, Config{
		Limits:      map[string]int{"getwarehouses": 5},
		MaxLimit:    10,
		RegrowAfter: time.Minute,
	})

	if !s.LearnFromMessage("getwarehouses", "Only 2 API calls per minute guaranteed") {
		t.Fatal("LearnFromMessage should parse the quota declaration")
	}
	if snap := snapshotFor(t, s, "getwarehouses"); snap.Limit != 2 || snap.DeclaredCap != 2 {
		t.Fatalf("Limit/DeclaredCap = %d/%d, want 2/2", snap.Limit, snap.DeclaredCap)
	}

	// Growth never exceeds the declared ceiling
	for i := 0; i < 10; i++ {
		clk.Step(2 * time.Minute)
		s.Report("getwarehouses", Success())
	}
	if snap := snapshotFor(t, s, "getwarehouses"); snap.Limit != 2 {
		t.Errorf("Limit = %d, want declared ceiling 2", snap.Limit)
	}
}

func TestStore_LearnFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"canonical", "Only 1 API calls per minute guaranteed for this endpoint", true},
		{"singular", "only 3 API call per minute", true},
		{"mixed case", "ONLY 2 api CALLS PER MINUTE", true},
		{"no quota", "internal server error", false},
		{"zero", "Only 0 API calls per minute", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t, Config{})
			if got := s.LearnFromMessage("getproducts", tt.msg); got != tt.want {
				t.Errorf("LearnFromMessage(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestStore_ConcurrentAcquire(t *testing.T) {
	s, _ := newTestStore(t, Config{Limits: map[string]int{"getproducts": 5}})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Acquire("getproducts") == 0 {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 5 {
		t.Errorf("admitted %d concurrent acquires, want exactly 5", admitted.Load())
	}
}

func TestStore_KeysAreCaseInsensitive(t *testing.T) {
	s, _ := newTestStore(t, Config{Limits: map[string]int{"getwarehouses": 1}})

	if wait := s.Acquire("GetWarehouses"); wait != 0 {
		t.Fatalf("first Acquire returned %v, want 0", wait)
	}
	if wait := s.Acquire("getwarehouses"); wait == 0 {
		t.Error("differently-cased key should share the same budget")
	}
}

func snapshotFor(t *testing.T, s *Store, key string) KeySnapshot {
	t.Helper()
	for _, ks := range s.SnapshotAll().Keys {
		if ks.Key == key {
			return ks
		}
	}
	t.Fatalf("no snapshot for key %q", key)
	return KeySnapshot{}
}
