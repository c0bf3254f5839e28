package ratelimit

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/dbankscard/skuvault-mcp-server/observe"
)

// Config configures the limiter store.
type Config struct {
	// Limits maps rate-limit keys to calls allowed per window.
	// Default: DefaultLimits()
	Limits map[string]int

	// DefaultLimit is used for keys absent from Limits.
	// Default: 5
	DefaultLimit int

	// MaxLimit is the ceiling a learned limit may grow back to.
	// Default: 10
	MaxLimit int

	// Window is the rolling enforcement window.
	// Default: 60 seconds
	Window time.Duration

	// BackoffThreshold is the consecutive server-error count that
	// triggers exponential backoff.
	// Default: 3
	BackoffThreshold int

	// BackoffBase is the initial backoff delay, doubled per
	// additional failure past the threshold.
	// Default: 2 seconds
	BackoffBase time.Duration

	// BackoffMax caps the backoff delay.
	// Default: 5 minutes
	BackoffMax time.Duration

	// RegrowAfter is the sustained-success cooldown before a shrunk
	// limit starts growing back.
	// Default: 5 minutes
	RegrowAfter time.Duration

	// Clock is the time source. Default: real clock.
	Clock clock.Clock

	// Logger receives limit-learning events. Default: discard.
	Logger observe.Logger
}

// Store tracks and enforces per-key call budgets.
//
// Contract:
// - Concurrency: safe for concurrent use; per-key updates are atomic.
// - Acquire never returns a negative duration.
// - A learned limit never drops below 1.
type Store struct {
	config Config
	clock  clock.Clock
	logger observe.Logger

	mu     sync.RWMutex
	states map[string]*keyState
}

// keyState is the mutable budget for one rate-limit key.
// All fields are guarded by mu.
type keyState struct {
	mu sync.Mutex

	limit        int
	lastGood     int       // limit before the most recent shrink
	declaredCap  int       // server-declared ceiling, 0 = none
	windowStart  time.Time // zero until first acquire
	count        int       // calls admitted in the current window
	parkedUntil  time.Time // server retry-after hold
	backoffUntil time.Time // server-error backoff hold
	failures     int       // consecutive server errors
	throttles    int       // consecutive throttles, for fallback parking
	lastShrink   time.Time
	lastGrow     time.Time
}

// NewStore creates a limiter store.
func NewStore(config Config) *Store {
	if config.Limits == nil {
		config.Limits = DefaultLimits()
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 5
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 10
	}
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.BackoffThreshold <= 0 {
		config.BackoffThreshold = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 2 * time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 5 * time.Minute
	}
	if config.RegrowAfter <= 0 {
		config.RegrowAfter = 5 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	return &Store{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		states: make(map[string]*keyState),
	}
}

// Acquire reports how long the caller must wait before issuing a call
// for key. A zero return consumes one slot in the current window.
// A positive return consumes nothing; the caller should wait and
// acquire again.
func (s *Store) Acquire(key string) time.Duration {
	ks := s.stateFor(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := s.clock.Now()
	ks.rollover(now, s.config.Window)

	// Server-imposed holds take precedence over the window budget.
	hold := ks.parkedUntil
	if ks.backoffUntil.After(hold) {
		hold = ks.backoffUntil
	}
	if wait := hold.Sub(now); wait > 0 {
		return wait
	}

	if ks.count < ks.limit {
		ks.count++
		return 0
	}

	wait := ks.windowStart.Add(s.config.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Report feeds the outcome of a completed call back into the budget
// for key. Throttled outcomes shrink the learned limit; server errors
// accumulate toward backoff; successes reset failure counters and,
// after a cooldown, regrow a shrunk limit.
func (s *Store) Report(key string, outcome Outcome) {
	ks := s.stateFor(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := s.clock.Now()
	ks.rollover(now, s.config.Window)

	switch outcome.Kind {
	case OutcomeSuccess:
		ks.failures = 0
		ks.throttles = 0
		ks.backoffUntil = time.Time{}
		s.regrowLocked(ks, now)

	case OutcomeThrottled:
		ks.throttles++

		// The window's observed count overran the true quota: adopt
		// one less than observed as the new learned limit.
		learned := ks.count - 1
		if learned < 1 {
			learned = 1
		}
		if learned < ks.limit {
			ks.lastGood = ks.limit
			ks.limit = learned
			ks.lastShrink = now
			s.logger.Warn(context.Background(), "rate limit learned from throttle",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "limit", Value: learned},
			)
		}

		wait := outcome.RetryAfter
		if wait <= 0 {
			// No server hint: park with doubling delay, as repeated
			// throttles mean the learned limit is still too high.
			wait = s.config.BackoffBase
			for i := 1; i < ks.throttles && wait < s.config.BackoffMax; i++ {
				wait *= 2
			}
			if wait > s.config.BackoffMax {
				wait = s.config.BackoffMax
			}
		}
		if until := now.Add(wait); until.After(ks.parkedUntil) {
			ks.parkedUntil = until
		}

	case OutcomeServerError:
		ks.failures++
		if ks.failures >= s.config.BackoffThreshold {
			// Double the hold for each failure past the threshold.
			extra := ks.failures - s.config.BackoffThreshold
			wait := s.config.BackoffBase
			for i := 0; i < extra && wait < s.config.BackoffMax; i++ {
				wait *= 2
			}
			if wait > s.config.BackoffMax {
				wait = s.config.BackoffMax
			}
			ks.backoffUntil = now.Add(wait)
		}
	}
}

// LearnFromMessage parses a quota declaration out of a server error
// body, e.g. "Only 1 API calls per minute guaranteed", and adopts it
// as the declared ceiling for key. Returns true if a limit was found.
func (s *Store) LearnFromMessage(key, msg string) bool {
	m := quotaMessageRe.FindStringSubmatch(msg)
	if m == nil {
		return false
	}
	declared, err := strconv.Atoi(m[1])
	if err != nil || declared < 1 {
		return false
	}

	ks := s.stateFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.declaredCap = declared
	if declared < ks.limit {
		ks.lastGood = ks.limit
		ks.limit = declared
		ks.lastShrink = s.clock.Now()
	}
	s.logger.Info(context.Background(), "rate limit declared by server",
		observe.Field{Key: "key", Value: key},
		observe.Field{Key: "limit", Value: declared},
	)
	return true
}

var quotaMessageRe = regexp.MustCompile(`(?i)only (\d+) API calls? per minute`)

// regrowLocked grows a shrunk limit by one per clean window once the
// cooldown has passed. Growth never exceeds MaxLimit and never exceeds
// a server-declared ceiling.
func (s *Store) regrowLocked(ks *keyState, now time.Time) {
	if ks.lastShrink.IsZero() {
		return
	}
	ceiling := s.config.MaxLimit
	if ks.declaredCap > 0 && ks.declaredCap < ceiling {
		ceiling = ks.declaredCap
	}
	if ks.limit >= ceiling {
		return
	}
	if now.Sub(ks.lastShrink) < s.config.RegrowAfter {
		return
	}
	if !ks.lastGrow.IsZero() && now.Sub(ks.lastGrow) < s.config.Window {
		return
	}
	ks.limit++
	ks.lastGrow = now
}

// rollover lazily starts a new window when the current one has elapsed.
func (ks *keyState) rollover(now time.Time, window time.Duration) {
	if ks.windowStart.IsZero() {
		ks.windowStart = now
		return
	}
	if now.Sub(ks.windowStart) >= window {
		ks.windowStart = now
		ks.count = 0
	}
}

// stateFor returns the state for key, lazily creating it.
func (s *Store) stateFor(key string) *keyState {
	key = strings.ToLower(key)

	s.mu.RLock()
	ks, ok := s.states[key]
	s.mu.RUnlock()
	if ok {
		return ks
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, ok = s.states[key]; ok {
		return ks
	}

	limit, ok := s.config.Limits[key]
	if !ok || limit < 1 {
		limit = s.config.DefaultLimit
	}
	ks = &keyState{limit: limit, lastGood: limit}
	s.states[key] = ks
	return ks
}
