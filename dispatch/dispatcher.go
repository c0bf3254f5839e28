package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/dbankscard/skuvault-mcp-server/cache"
	"github.com/dbankscard/skuvault-mcp-server/confirm"
	"github.com/dbankscard/skuvault-mcp-server/observe"
	"github.com/dbankscard/skuvault-mcp-server/queue"
	"github.com/dbankscard/skuvault-mcp-server/ratelimit"
)

// Invoker is the single collaborator interface the middleware consumes.
type Invoker = queue.Invoker

// Response is the invoker's view of the remote reply.
type Response = queue.Response

// Config configures the dispatcher and the components it owns.
type Config struct {
	// Invoker issues the actual calls against the remote API. Required.
	Invoker Invoker

	// CachePolicy is the category→TTL table. Nil means DefaultPolicy.
	CachePolicy *cache.Policy

	// Limits maps rate-limit keys to their initial per-window limit.
	// Nil means ratelimit.DefaultLimits.
	Limits map[string]int

	// Workers is the queue's concurrency limit. Default: 2
	Workers int

	// Capacity bounds the queue. Default: 64
	Capacity int

	// MaxAttempts is the retry ceiling per operation. Default: 3
	MaxAttempts int

	// CallTimeout bounds each outbound call. Default: 30 seconds
	CallTimeout time.Duration

	// ConfirmTTL is the confirmation expiry window. Default: 5 minutes
	ConfirmTTL time.Duration

	// Clock is the time source shared by all owned components.
	// Default: real clock.
	Clock clock.Clock

	// Observer supplies the tracer, meter, and logger. Optional.
	Observer observe.Observer

	// Logger overrides the Observer's logger. Optional.
	Logger observe.Logger

	// Metrics overrides the Observer's meter-derived metrics. Optional.
	Metrics observe.Metrics
}

// Result is the outcome of a dispatched operation. Exactly one of
// Value or Pending is meaningful: a non-nil Pending means the mutation
// was parked and nothing was executed.
type Result struct {
	Value     []byte
	FromCache bool
	Attempts  int
	Pending   *PendingConfirmation
}

// PendingConfirmation tells the caller a mutation needs acknowledgment.
type PendingConfirmation struct {
	Token     string
	Summary   string
	ExpiresAt time.Time
}

// Dispatcher composes the cache, rate limiter, queue, and confirmation
// gate behind a single execution surface. It owns the lifetime of all
// four; no other component mutates their state directly.
type Dispatcher struct {
	cache   *cache.Memory
	keyer   cache.Keyer
	limiter *ratelimit.Store
	queue   *queue.Queue
	gate    *confirm.Gate
	logger  observe.Logger
	metrics observe.Metrics
	sf      singleflight.Group
}

// observedInvoker adapts the observe middleware's wrapped function back
// to the queue's Invoker interface.
type observedInvoker struct {
	fn observe.InvokeFunc
}

func (oi *observedInvoker) Invoke(ctx context.Context, endpoint string, payload []byte) (*queue.Response, error) {
	v, err := oi.fn(ctx, observe.OpMeta{Endpoint: endpoint}, payload)
	if err != nil {
		return nil, err
	}
	resp, _ := v.(*queue.Response)
	return resp, nil
}

// New creates a dispatcher and starts its queue workers.
func New(config Config) (*Dispatcher, error) {
	if config.Invoker == nil {
		return nil, ErrNilInvoker
	}

	logger := config.Logger
	if logger == nil && config.Observer != nil {
		logger = config.Observer.Logger()
	}
	if logger == nil {
		logger = observe.NopLogger()
	}

	metrics := config.Metrics
	if metrics == nil && config.Observer != nil {
		m, err := observe.NewMetrics(config.Observer.Meter())
		if err != nil {
			return nil, err
		}
		metrics = m
	}
	if metrics == nil {
		metrics = observe.NopMetrics()
	}

	var mw *observe.Middleware
	if config.Observer != nil {
		m, err := observe.MiddlewareFromObserver(config.Observer)
		if err != nil {
			return nil, err
		}
		mw = m
	} else {
		mw = observe.NewMiddleware(observe.NopTracer(), metrics, logger)
	}

	policy := cache.DefaultPolicy()
	if config.CachePolicy != nil {
		policy = *config.CachePolicy
	}

	limiter := ratelimit.NewStore(ratelimit.Config{
		Limits: config.Limits,
		Clock:  config.Clock,
		Logger: logger,
	})

	// Every outbound call goes through the observe middleware so spans
	// and dispatch metrics cover queue wait plus the call itself.
	upstream := config.Invoker
	wrapped := mw.Wrap(func(ctx context.Context, meta observe.OpMeta, payload []byte) (any, error) {
		return upstream.Invoke(ctx, meta.Endpoint, payload)
	})

	q, err := queue.New(queue.Config{
		Workers:     config.Workers,
		Capacity:    config.Capacity,
		MaxAttempts: config.MaxAttempts,
		CallTimeout: config.CallTimeout,
		Invoker:     &observedInvoker{fn: wrapped},
		Limiter:     limiter,
		Clock:       config.Clock,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}

	var passive clock.PassiveClock
	if config.Clock != nil {
		passive = config.Clock
	}

	return &Dispatcher{
		cache:   cache.NewMemory(policy, passive),
		keyer:   cache.NewDefaultKeyer(),
		limiter: limiter,
		queue:   q,
		gate: confirm.NewGate(confirm.Config{
			TTL:    config.ConfirmTTL,
			Clock:  passive,
			Logger: logger,
		}),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Execute runs one logical operation. Read operations consult the cache
// and collapse concurrent identical misses into one outbound call.
// Mutating operations without a bypass flag or valid token are parked
// behind the confirmation gate: the returned Result carries a Pending
// summary and nothing is executed.
func (d *Dispatcher) Execute(ctx context.Context, op Operation) (*Result, error) {
	if err := Validate(op); err != nil {
		return nil, err
	}

	if !op.Mutating {
		return d.read(ctx, op)
	}

	if !op.Bypass {
		if op.ConfirmToken == "" {
			pending := d.gate.Require(op, BuildSummary(op))
			d.logger.Info(ctx, "mutation parked for confirmation",
				observe.Field{Key: "endpoint", Value: op.Endpoint},
				observe.Field{Key: "confirm_token", Value: pending.Token},
			)
			return &Result{Pending: &PendingConfirmation{
				Token:     pending.Token,
				Summary:   pending.Summary,
				ExpiresAt: pending.ExpiresAt,
			}}, nil
		}

		stored, err := d.consumeToken(op.ConfirmToken)
		if err != nil {
			return nil, err
		}
		if !sameOperation(stored, op) {
			return nil, ErrConfirmationMismatch
		}
	}

	return d.mutate(ctx, op)
}

// Confirm consumes a token and executes the operation it parked.
func (d *Dispatcher) Confirm(ctx context.Context, token string) (*Result, error) {
	op, err := d.consumeToken(token)
	if err != nil {
		return nil, err
	}
	return d.mutate(ctx, op)
}

// Reject consumes a token without executing anything.
func (d *Dispatcher) Reject(token string) error {
	return d.gate.Reject(token)
}

// InvalidateCache removes cached entries matching pattern and returns
// how many were removed.
func (d *Dispatcher) InvalidateCache(pattern string) int {
	return d.cache.Invalidate(pattern)
}

// CacheStats returns cumulative cache counters.
func (d *Dispatcher) CacheStats() cache.Stats {
	return d.cache.Stats()
}

// RateLimitSnapshot returns a read-only view of every tracked limit key.
func (d *Dispatcher) RateLimitSnapshot() ratelimit.Snapshot {
	return d.limiter.SnapshotAll()
}

// QueueStats returns a point-in-time view of queue counters.
func (d *Dispatcher) QueueStats() queue.Stats {
	return d.queue.Stats()
}

// Sweep purges expired cache entries and confirmation tokens.
func (d *Dispatcher) Sweep() (cacheRemoved, confirmExpired int) {
	return d.cache.Sweep(), d.gate.Sweep()
}

// Close stops the queue workers. Queued operations fail with ErrClosed.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

func (d *Dispatcher) read(ctx context.Context, op Operation) (*Result, error) {
	key, err := d.keyer.Key(op.Category, op.Endpoint, op.Params)
	if err != nil {
		return nil, &ValidationError{Field: "params", Reason: err.Error()}
	}

	if body, ok := d.cache.Get(ctx, key); ok {
		d.metrics.RecordCacheLookup(ctx, op.Category, true)
		return &Result{Value: body, FromCache: true}, nil
	}
	d.metrics.RecordCacheLookup(ctx, op.Category, false)

	type flight struct {
		body     []byte
		attempts int
	}

	// Concurrent identical misses collapse into one outbound call.
	v, err, _ := d.sf.Do(key.String(), func() (any, error) {
		resp, attempts, err := d.call(ctx, op)
		if err != nil {
			return nil, err
		}
		if err := d.cache.Set(ctx, key, resp.Body); err != nil {
			d.logger.Warn(ctx, "cache set failed",
				observe.Field{Key: "key", Value: key.String()},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}
		return &flight{body: resp.Body, attempts: attempts}, nil
	})
	if err != nil {
		return nil, err
	}

	f := v.(*flight)
	return &Result{Value: f.body, Attempts: f.attempts}, nil
}

func (d *Dispatcher) mutate(ctx context.Context, op Operation) (*Result, error) {
	resp, attempts, err := d.call(ctx, op)
	if err != nil {
		return nil, err
	}

	for _, pattern := range invalidationPatterns(op) {
		if n := d.cache.Invalidate(pattern); n > 0 {
			d.logger.Debug(ctx, "cache invalidated after mutation",
				observe.Field{Key: "pattern", Value: pattern},
				observe.Field{Key: "removed", Value: n},
			)
		}
	}

	return &Result{Value: resp.Body, Attempts: attempts}, nil
}

// call serializes the operation, submits it, and waits for its future.
// The queue retries throttled and 5xx responses up to the ceiling;
// residual non-2xx statuses surface here as terminal upstream errors.
func (d *Dispatcher) call(ctx context.Context, op Operation) (*queue.Response, int, error) {
	payload, err := json.Marshal(op.Params)
	if err != nil {
		return nil, 0, &ValidationError{Field: "params", Reason: "not serializable: " + err.Error()}
	}

	fut, err := d.queue.Submit(queue.Request{
		Endpoint: op.Endpoint,
		RateKey:  d.limiter.KeyFor(op.Endpoint),
		Payload:  payload,
	}, op.Priority)
	if err != nil {
		return nil, 0, err
	}

	resp, err := fut.Result(ctx)
	if err != nil {
		return nil, fut.Attempts(), err
	}

	if resp.Status >= 300 {
		return nil, fut.Attempts(), &UpstreamError{
			Endpoint: op.Endpoint,
			Status:   resp.Status,
			Body:     resp.Body,
			Attempts: fut.Attempts(),
		}
	}

	return resp, fut.Attempts(), nil
}

// consumeToken resolves a one-shot token to its parked operation.
// A replayed token is a mismatch, never a second execution.
func (d *Dispatcher) consumeToken(token string) (Operation, error) {
	stored, err := d.gate.Confirm(token)
	if err != nil {
		if errors.Is(err, confirm.ErrTokenConsumed) {
			return Operation{}, ErrConfirmationMismatch
		}
		return Operation{}, err
	}
	op, ok := stored.(Operation)
	if !ok {
		return Operation{}, ErrConfirmationMismatch
	}
	return op, nil
}

// sameOperation reports whether two submissions describe the same
// logical call: same endpoint, same canonicalized parameters.
func sameOperation(a, b Operation) bool {
	if a.Endpoint != b.Endpoint {
		return false
	}
	ap, errA := json.Marshal(a.Params)
	bp, errB := json.Marshal(b.Params)
	if errA != nil || errB != nil {
		return false
	}
	return string(ap) == string(bp)
}

// invalidationPatterns maps a successful mutation to the cache entries
// it makes stale: everything referencing the same SKU, warehouse, or
// location, plus the category's list caches.
func invalidationPatterns(op Operation) []string {
	var patterns []string

	if sku, ok := op.Params["Sku"].(string); ok && sku != "" {
		patterns = append(patterns, "sku:"+sku)
	}
	if id, ok := intParam(op.Params["WarehouseId"]); ok {
		patterns = append(patterns, "warehouse:"+strconv.FormatInt(id, 10))
	}
	if code, ok := op.Params["LocationCode"].(string); ok && code != "" {
		patterns = append(patterns, "location:"+code)
	}

	switch op.Category {
	case CategoryProduct, CategoryProducts:
		patterns = append(patterns, CategoryProducts+":*")
	case CategoryInventory:
		patterns = append(patterns, CategoryInventory+":*")
	case CategoryWarehouses:
		patterns = append(patterns, CategoryWarehouses+":*")
	}

	return patterns
}
