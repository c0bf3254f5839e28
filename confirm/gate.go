package confirm

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/dbankscard/skuvault-mcp-server/observe"
)

// Status represents a pending confirmation's state.
type Status int

const (
	// StatusNone means no confirmation exists for the token.
	StatusNone Status = iota
	// StatusPending means the operation awaits acknowledgment.
	StatusPending
	// StatusConfirmed means the token was consumed by a confirmation.
	StatusConfirmed
	// StatusRejected means the token was consumed by a rejection.
	StatusRejected
	// StatusExpired means the expiry window passed unconsumed.
	StatusExpired
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Pending is the caller-facing view of a parked mutating operation.
type Pending struct {
	Token     string
	Summary   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Config configures the gate.
type Config struct {
	// TTL is how long a pending confirmation stays valid.
	// Default: 5 minutes
	TTL time.Duration

	// Clock is the time source. Default: real clock.
	Clock clock.PassiveClock

	// Logger receives gate transitions. Default: discard.
	Logger observe.Logger
}

// Gate parks mutating operations until they are explicitly acknowledged.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Tokens are one-shot: the first Confirm or Reject consumes the token;
//     replays fail with ErrTokenConsumed, never a second release.
type Gate struct {
	config Config
	clock  clock.PassiveClock
	logger observe.Logger

	mu      sync.Mutex
	pending map[string]*record
}

// record tracks one token through its lifecycle. Consumed records are
// kept as tombstones until their expiry so replays are distinguishable
// from unknown tokens.
type record struct {
	op        any
	summary   string
	status    Status
	createdAt time.Time
	expiresAt time.Time
}

// NewGate creates a confirmation gate.
func NewGate(config Config) *Gate {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	return &Gate{
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		pending: make(map[string]*record),
	}
}

// Require parks op behind a fresh one-shot token and returns the
// pending confirmation the caller must render back to a human.
func (g *Gate) Require(op any, summary string) Pending {
	now := g.clock.Now()
	token := uuid.NewString()

	g.mu.Lock()
	g.pending[token] = &record{
		op:        op,
		summary:   summary,
		status:    StatusPending,
		createdAt: now,
		expiresAt: now.Add(g.config.TTL),
	}
	g.mu.Unlock()

	return Pending{
		Token:     token,
		Summary:   summary,
		CreatedAt: now,
		ExpiresAt: now.Add(g.config.TTL),
	}
}

// Confirm consumes token and returns the operation it guards.
func (g *Gate) Confirm(token string) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.lookupLocked(token)
	if err != nil {
		return nil, err
	}

	rec.status = StatusConfirmed
	op := rec.op
	rec.op = nil // tombstone keeps status, not the operation
	return op, nil
}

// Reject consumes token without releasing the operation.
func (g *Gate) Reject(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := g.lookupLocked(token)
	if err != nil {
		return err
	}

	rec.status = StatusRejected
	rec.op = nil
	return nil
}

// Status returns the current state of a token.
func (g *Gate) Status(token string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.pending[token]
	if !ok {
		return StatusNone
	}
	if rec.status == StatusPending && !g.clock.Now().Before(rec.expiresAt) {
		return StatusExpired
	}
	return rec.status
}

// Sweep purges expired pending entries and stale tombstones, returning
// how many pending confirmations moved to expired.
func (g *Gate) Sweep() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	expired := 0
	for token, rec := range g.pending {
		if now.Before(rec.expiresAt) {
			continue
		}
		if rec.status == StatusPending {
			expired++
		}
		delete(g.pending, token)
	}
	return expired
}

// Len returns the number of tracked tokens, tombstones included.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// lookupLocked resolves a token to its still-pending record, applying
// lazy expiry. Callers hold g.mu.
func (g *Gate) lookupLocked(token string) (*record, error) {
	rec, ok := g.pending[token]
	if !ok {
		return nil, ErrTokenNotFound
	}

	if rec.status != StatusPending {
		return nil, ErrTokenConsumed
	}

	if !g.clock.Now().Before(rec.expiresAt) {
		rec.status = StatusExpired
		rec.op = nil
		delete(g.pending, token)
		return nil, ErrTokenExpired
	}

	return rec, nil
}
