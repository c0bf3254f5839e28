package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"k8s.io/utils/clock"

	"github.com/dbankscard/skuvault-mcp-server/observe"
	"github.com/dbankscard/skuvault-mcp-server/ratelimit"
)

// Request describes one outbound call.
type Request struct {
	// Endpoint is the remote endpoint name passed to the invoker.
	Endpoint string

	// RateKey is the rate-limit key the call is budgeted under.
	RateKey string

	// Payload is the serialized request body.
	Payload []byte
}

// Response is the invoker's view of the remote reply.
type Response struct {
	Status     int
	Body       []byte
	RetryAfter time.Duration
}

// Invoker issues the actual call against the remote endpoint.
//
// Contract:
//   - Concurrency: must be safe for concurrent use.
//   - Context: must honor cancellation/deadlines.
//   - Errors: transport failures return an error; HTTP-level failures
//     return a Response with the status set and a nil error.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, payload []byte) (*Response, error)
}

// Limiter is the admission-control surface the workers consult.
type Limiter interface {
	Acquire(key string) time.Duration
	Report(key string, outcome ratelimit.Outcome)
}

// limitLearner is implemented by limiters that can parse quota
// declarations out of error bodies.
type limitLearner interface {
	LearnFromMessage(key, msg string) bool
}

// Config configures the queue.
type Config struct {
	// Workers is the number of concurrent worker slots.
	// Default: 2
	Workers int

	// Capacity bounds the number of queued (not yet started) requests.
	// Default: 64
	Capacity int

	// MaxAttempts is the retry ceiling, including the initial attempt.
	// Default: 3
	MaxAttempts int

	// CallTimeout bounds each outbound invocation.
	// Default: 30 seconds
	CallTimeout time.Duration

	// RetryInitialDelay is the delay before the first retry.
	// Default: 500ms
	RetryInitialDelay time.Duration

	// RetryMaxDelay caps the delay between retries.
	// Default: 30 seconds
	RetryMaxDelay time.Duration

	// Invoker issues the outbound calls. Required.
	Invoker Invoker

	// Limiter provides admission control. Default: a fresh
	// ratelimit.NewStore with default configuration.
	Limiter Limiter

	// Clock is the time source. Default: real clock.
	Clock clock.Clock

	// Logger receives worker events. Default: discard.
	Logger observe.Logger

	// Metrics records queue instrumentation. Default: discard.
	Metrics observe.Metrics
}

// Queue is a bounded-concurrency priority dispatcher.
type Queue struct {
	config  Config
	clock   clock.Clock
	logger  observe.Logger
	metrics observe.Metrics
	invoker Invoker
	limiter Limiter

	mu    sync.Mutex
	cond  *sync.Cond
	items requestHeap
	seq   uint64

	closed  bool
	closeCh chan struct{}
	active  int

	completed int64
	failed    int64
	retries   int64

	wg sync.WaitGroup
}

// Stats contains queue statistics.
type Stats struct {
	Queued    int
	Active    int
	Workers   int
	Capacity  int
	Completed int64
	Failed    int64
	Retries   int64
}

// New creates a queue and starts its workers.
func New(config Config) (*Queue, error) {
	if config.Invoker == nil {
		return nil, ErrNilInvoker
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.Capacity <= 0 {
		config.Capacity = 64
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.RetryInitialDelay <= 0 {
		config.RetryInitialDelay = 500 * time.Millisecond
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 30 * time.Second
	}
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewStore(ratelimit.Config{Clock: config.Clock})
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}

	q := &Queue{
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		metrics: config.Metrics,
		invoker: config.Invoker,
		limiter: config.Limiter,
		closeCh: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go q.worker()
	}
	return q, nil
}

// Submit enqueues a request without blocking. Lower priority values run
// first; ties run in submission order. Returns ErrQueueFull when the
// queue is at capacity.
func (q *Queue) Submit(req Request, priority int) (*Future, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if q.items.Len() >= q.config.Capacity {
		return nil, ErrQueueFull
	}

	fut := newFuture()
	q.seq++
	heap.Push(&q.items, &item{
		req:      req,
		fut:      fut,
		priority: priority,
		seq:      q.seq,
	})
	q.metrics.RecordQueueDepth(context.Background(), q.items.Len())
	q.cond.Signal()
	return fut, nil
}

// Stats returns a point-in-time view of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    q.items.Len(),
		Active:    q.active,
		Workers:   q.config.Workers,
		Capacity:  q.config.Capacity,
		Completed: q.completed,
		Failed:    q.failed,
		Retries:   q.retries,
	}
}

// Close stops the workers. Requests still queued are failed with
// ErrClosed; in-flight requests run to completion.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.closeCh)
	for q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*item)
		it.fut.fail(ErrClosed, it.attempts)
		q.failed++
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		it := q.next()
		if it == nil {
			return
		}
		q.process(it)

		q.mu.Lock()
		q.active--
		q.mu.Unlock()
	}
}

// next blocks until a request is available or the queue closes.
func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	it := heap.Pop(&q.items).(*item)
	q.active++
	q.metrics.RecordQueueDepth(context.Background(), q.items.Len())
	return it
}

func (q *Queue) process(it *item) {
	ctx := context.Background()

	// A cancelled request never starts.
	if it.fut.Cancelled() {
		return
	}

	// Wait out a scheduled retry delay.
	if wait := it.notBefore.Sub(q.clock.Now()); wait > 0 {
		if !q.sleep(wait, it.fut) {
			return
		}
	}

	// Admission: wait until the limiter grants a slot.
	for {
		wait := q.limiter.Acquire(it.req.RateKey)
		if wait <= 0 {
			break
		}
		q.metrics.RecordRateLimitWait(ctx, it.req.RateKey, wait)
		if !q.sleep(wait, it.fut) {
			return
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, q.config.CallTimeout)
	resp, err := q.invoker.Invoke(callCtx, it.req.Endpoint, it.req.Payload)
	cancel()
	it.attempts++

	outcome := Classify(resp, err)
	q.limiter.Report(it.req.RateKey, outcome)

	if outcome.Kind == ratelimit.OutcomeThrottled && resp != nil {
		if learner, ok := q.limiter.(limitLearner); ok {
			learner.LearnFromMessage(it.req.RateKey, string(resp.Body))
		}
	}

	switch outcome.Kind {
	case ratelimit.OutcomeSuccess:
		it.fut.resolve(resp, it.attempts)
		q.mu.Lock()
		q.completed++
		q.mu.Unlock()

	default:
		it.lastResp = resp
		it.lastErr = err
		it.throttled = outcome.Kind == ratelimit.OutcomeThrottled

		if it.attempts >= q.config.MaxAttempts {
			q.failTerminal(it)
			return
		}
		q.requeue(ctx, it)
	}
}

// sleep waits using the injected clock. Returns false if the future was
// cancelled or the queue closed during the wait.
func (q *Queue) sleep(wait time.Duration, fut *Future) bool {
	timer := q.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C():
		return true
	case <-fut.cancel:
		return false
	case <-q.closeCh:
		fut.fail(ErrClosed, 0)
		return false
	}
}

// requeue pushes a failed request back with a jittered backoff delay.
// Retries bypass the capacity check; they already held a slot.
func (q *Queue) requeue(ctx context.Context, it *item) {
	if it.backoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = q.config.RetryInitialDelay
		b.MaxInterval = q.config.RetryMaxDelay
		it.backoff = b
	}
	it.notBefore = q.clock.Now().Add(it.backoff.NextBackOff())

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		it.fut.fail(ErrClosed, it.attempts)
		return
	}
	q.retries++
	heap.Push(&q.items, it)
	q.cond.Signal()
	q.mu.Unlock()

	q.metrics.RecordRetry(ctx, it.req.RateKey)
	q.logger.Debug(ctx, "request requeued",
		observe.Field{Key: "endpoint", Value: it.req.Endpoint},
		observe.Field{Key: "attempt", Value: it.attempts},
	)
}

func (q *Queue) failTerminal(it *item) {
	var err error
	if it.throttled {
		var retryAfter time.Duration
		if it.lastResp != nil {
			retryAfter = it.lastResp.RetryAfter
		}
		err = &ThrottledError{
			Key:        it.req.RateKey,
			Attempts:   it.attempts,
			RetryAfter: retryAfter,
		}
	} else {
		ue := &UpstreamError{
			Endpoint: it.req.Endpoint,
			Attempts: it.attempts,
			Err:      it.lastErr,
		}
		if it.lastResp != nil {
			ue.Status = it.lastResp.Status
			ue.Body = it.lastResp.Body
		}
		err = ue
	}

	it.fut.fail(err, it.attempts)
	q.mu.Lock()
	q.failed++
	q.mu.Unlock()
}

// Classify maps an invocation result to a rate-limit outcome.
// Transport errors and timeouts count as server errors; HTTP 429 is
// throttled with the server's retry hint; other 5xx are server errors.
func Classify(resp *Response, err error) ratelimit.Outcome {
	switch {
	case err != nil:
		return ratelimit.ServerError()
	case resp == nil:
		return ratelimit.ServerError()
	case resp.Status == 429:
		return ratelimit.Throttled(resp.RetryAfter)
	case resp.Status >= 500:
		return ratelimit.ServerError()
	default:
		return ratelimit.Success()
	}
}

// item is one queued request.
type item struct {
	req      Request
	fut      *Future
	priority int
	seq      uint64

	attempts  int
	notBefore time.Time
	backoff   *backoff.ExponentialBackOff
	lastResp  *Response
	lastErr   error
	throttled bool
}

// requestHeap orders items by (priority ascending, seq ascending) so
// equal priorities run in submission order.
type requestHeap []*item

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Ensure ratelimit.Store satisfies the admission surface.
var _ Limiter = (*ratelimit.Store)(nil)
var _ limitLearner = (*ratelimit.Store)(nil)
