package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dbankscard/skuvault-mcp-server/ratelimit"
)

// openLimiter admits everything and records reported outcomes.
type openLimiter struct {
	mu       sync.Mutex
	outcomes []ratelimit.Outcome
	learned  []string
}

func (l *openLimiter) Acquire(string) time.Duration { return 0 }

func (l *openLimiter) Report(_ string, o ratelimit.Outcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, o)
	l.mu.Unlock()
}

func (l *openLimiter) LearnFromMessage(_, msg string) bool {
	l.mu.Lock()
	l.learned = append(l.learned, msg)
	l.mu.Unlock()
	return true
}

// invokerFunc adapts a function to the Invoker interface.
type invokerFunc func(ctx context.Context, endpoint string, payload []byte) (*Response, error)

func (f invokerFunc) Invoke(ctx context.Context, endpoint string, payload []byte) (*Response, error) {
	return f(ctx, endpoint, payload)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQueue_SubmitAndComplete(t *testing.T) {
	q, err := New(Config{
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			return &Response{Status: 200, Body: []byte("ok")}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	fut, err := q.Submit(Request{Endpoint: "getProducts", RateKey: "getproducts"}, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp, err := fut.Result(context.Background())
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "ok" {
		t.Errorf("Result = %d %q, want 200 ok", resp.Status, resp.Body)
	}
	if fut.Attempts() != 1 {
		t.Errorf("Attempts = %d, want 1", fut.Attempts())
	}

	waitFor(t, "completion counter", func() bool { return q.Stats().Completed == 1 })
}

func TestQueue_NilInvoker(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilInvoker) {
		t.Errorf("New without invoker returned %v, want ErrNilInvoker", err)
	}
}

func TestQueue_CapacityLimit(t *testing.T) {
	gate := make(chan struct{})
	q, err := New(Config{
		Workers:  1,
		Capacity: 3,
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			<-gate
			return &Response{Status: 200}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { close(gate); q.Close() }()

	// First request occupies the worker
	if _, err := q.Submit(Request{Endpoint: "a"}, 0); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, "worker pickup", func() bool { return q.Stats().Active == 1 })

	// Fill the queue to capacity
	for i := 0; i < 3; i++ {
		if _, err := q.Submit(Request{Endpoint: "b"}, 0); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	// One more is rejected immediately, not blocked
	if _, err := q.Submit(Request{Endpoint: "c"}, 0); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit over capacity returned %v, want ErrQueueFull", err)
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string

	q, err := New(Config{
		Workers: 1,
		Invoker: invokerFunc(func(_ context.Context, endpoint string, _ []byte) (*Response, error) {
			<-gate
			mu.Lock()
			order = append(order, endpoint)
			mu.Unlock()
			return &Response{Status: 200}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	// Occupy the worker so the rest queue up
	q.Submit(Request{Endpoint: "blocker"}, 0)
	waitFor(t, "worker pickup", func() bool { return q.Stats().Active == 1 })

	var futs []*Future
	for _, sub := range []struct {
		endpoint string
		priority int
	}{
		{"low-1", 5},
		{"high", 1},
		{"low-2", 5},
		{"mid", 3},
	} {
		fut, err := q.Submit(Request{Endpoint: sub.endpoint}, sub.priority)
		if err != nil {
			t.Fatalf("Submit %q failed: %v", sub.endpoint, err)
		}
		futs = append(futs, fut)
	}

	close(gate)
	for _, fut := range futs {
		if _, err := fut.Result(context.Background()); err != nil {
			t.Fatalf("Result failed: %v", err)
		}
	}

	want := []string{"blocker", "high", "mid", "low-1", "low-2"}
	mu.Lock()
	defer mu.Unlock()
	for i, endpoint := range want {
		if order[i] != endpoint {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestQueue_RetryOnServerError(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	q, err := New(Config{
		MaxAttempts:       3,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls < 3 {
				return &Response{Status: 503}, nil
			}
			return &Response{Status: 200, Body: []byte("eventually")}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	fut, err := q.Submit(Request{Endpoint: "getProduct"}, 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	resp, err := fut.Result(context.Background())
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if string(resp.Body) != "eventually" {
		t.Errorf("Body = %q, want eventually", resp.Body)
	}
	if fut.Attempts() != 3 {
		t.Errorf("Attempts = %d, want 3", fut.Attempts())
	}
	if got := q.Stats().Retries; got != 2 {
		t.Errorf("Retries = %d, want 2", got)
	}
}

func TestQueue_TerminalThrottled(t *testing.T) {
	limiter := &openLimiter{}
	q, err := New(Config{
		MaxAttempts:       2,
		RetryInitialDelay: time.Millisecond,
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			return &Response{
				Status:     429,
				Body:       []byte("Only 1 API calls per minute guaranteed"),
				RetryAfter: 7 * time.Second,
			}, nil
		}),
		Limiter: limiter,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	fut, _ := q.Submit(Request{Endpoint: "getWarehouses", RateKey: "getwarehouses"}, 0)

	_, err = fut.Result(context.Background())
	var te *ThrottledError
	if !errors.As(err, &te) {
		t.Fatalf("Result error = %v, want *ThrottledError", err)
	}
	if te.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", te.Attempts)
	}
	if te.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", te.RetryAfter)
	}

	// The quota declaration in the body reached the limiter
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.learned) == 0 {
		t.Error("throttled body should be fed to the limit learner")
	}
}

func TestQueue_TerminalUpstream(t *testing.T) {
	q, err := New(Config{
		MaxAttempts:       2,
		RetryInitialDelay: time.Millisecond,
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			return &Response{Status: 500, Body: []byte("boom")}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	fut, _ := q.Submit(Request{Endpoint: "addItem"}, 0)

	_, err = fut.Result(context.Background())
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Result error = %v, want *UpstreamError", err)
	}
	if ue.Status != 500 || ue.Attempts != 2 {
		t.Errorf("UpstreamError = status %d attempts %d, want 500/2", ue.Status, ue.Attempts)
	}
}

func TestQueue_CancelBeforeRun(t *testing.T) {
	gate := make(chan struct{})
	q, err := New(Config{
		Workers: 1,
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			<-gate
			return &Response{Status: 200}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	q.Submit(Request{Endpoint: "blocker"}, 0)
	waitFor(t, "worker pickup", func() bool { return q.Stats().Active == 1 })

	fut, _ := q.Submit(Request{Endpoint: "victim"}, 0)
	fut.Cancel()
	close(gate)

	if _, err := fut.Result(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Result = %v, want ErrCancelled", err)
	}
}

func TestQueue_CloseFailsQueued(t *testing.T) {
	gate := make(chan struct{})
	q, err := New(Config{
		Workers: 1,
		Invoker: invokerFunc(func(_ context.Context, _ string, _ []byte) (*Response, error) {
			<-gate
			return &Response{Status: 200}, nil
		}),
		Limiter: &openLimiter{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	blocker, _ := q.Submit(Request{Endpoint: "blocker"}, 0)
	waitFor(t, "worker pickup", func() bool { return q.Stats().Active == 1 })

	queued, _ := q.Submit(Request{Endpoint: "queued"}, 0)

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()

	// The queued request fails without ever running
	if _, err := queued.Result(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("queued Result = %v, want ErrClosed", err)
	}

	// The in-flight request completes
	close(gate)
	if _, err := blocker.Result(context.Background()); err != nil {
		t.Errorf("in-flight Result = %v, want success", err)
	}
	<-done

	// Submit after close is rejected
	if _, err := q.Submit(Request{Endpoint: "late"}, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		err  error
		want ratelimit.OutcomeKind
	}{
		{"transport error", nil, errors.New("dial tcp: refused"), ratelimit.OutcomeServerError},
		{"nil response", nil, nil, ratelimit.OutcomeServerError},
		{"throttled", &Response{Status: 429}, nil, ratelimit.OutcomeThrottled},
		{"server error", &Response{Status: 503}, nil, ratelimit.OutcomeServerError},
		{"ok", &Response{Status: 200}, nil, ratelimit.OutcomeSuccess},
		{"client error", &Response{Status: 404}, nil, ratelimit.OutcomeSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.resp, tt.err); got.Kind != tt.want {
				t.Errorf("Classify = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}
