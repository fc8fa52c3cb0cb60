package driver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycache/cacheproxy/internal/backend/memory"
	"github.com/relaycache/cacheproxy/internal/cache"
	"github.com/relaycache/cacheproxy/internal/cachekey"
	"github.com/relaycache/cacheproxy/internal/extractor"
	"github.com/relaycache/cacheproxy/internal/policy"
	"github.com/relaycache/cacheproxy/internal/predicate"
	"github.com/relaycache/cacheproxy/internal/subject"
)

func enabledConfig(ttl time.Duration, staleTTL *time.Duration, mode policy.RefreshMode) policy.Config {
	return policy.Config{Enabled: true, TTL: ttl, StaleTTL: staleTTL, RefreshMode: mode}
}

func newGetRequest(target string) *subject.Request {
	return subject.NewRequest(httptest.NewRequest(http.MethodGet, target, nil))
}

func countingUpstream(body string, status int) (Upstream, *int64) {
	var calls int64
	u := UpstreamFunc(func(_ context.Context, _ *subject.Request) (*subject.Response, error) {
		atomic.AddInt64(&calls, 1)
		return subject.NewResponseFromBytes(status, http.Header{}, []byte(body)), nil
	})
	return u, &calls
}

func TestDriver_MissThenHit(t *testing.T) {
	upstream, calls := countingUpstream("hello", 200)
	backend := memory.New[*subject.CachedPayload](16)

	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, nil, policy.ModeBlockAndRefresh),
			KeyPrefix:  "p",
			Extractors: extractor.Method(),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
	}

	first := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if first.Outcome != OutcomeMiss {
		t.Fatalf("first request outcome = %v, want MISS", first.Outcome)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", *calls)
	}

	second := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if second.Outcome != OutcomeHit {
		t.Fatalf("second request outcome = %v, want HIT", second.Outcome)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("a cache hit must not call upstream again, got %d calls", *calls)
	}
	body, _ := second.Response.Body()
	if string(body) != "hello" {
		t.Fatalf("hit body = %q, want %q", body, "hello")
	}
}

func TestDriver_BypassWhenNonCacheable(t *testing.T) {
	upstream, calls := countingUpstream("hello", 200)
	backend := memory.New[*subject.CachedPayload](16)

	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, nil, policy.ModeBlockAndRefresh),
			Predicates: predicate.Method("POST"),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
	}

	for i := 0; i < 2; i++ {
		r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
		if r.Outcome != OutcomeBypass {
			t.Fatalf("iteration %d: outcome = %v, want BYPASS", i, r.Outcome)
		}
	}
	if atomic.LoadInt64(calls) != 2 {
		t.Fatalf("bypass must always poll upstream, got %d calls for 2 requests", *calls)
	}
}

func TestDriver_KeyEmptyDemotesToBypass(t *testing.T) {
	upstream, calls := countingUpstream("hello", 200)
	backend := memory.New[*subject.CachedPayload](16)
	metrics := &recordingMetrics{}

	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, nil, policy.ModeBlockAndRefresh),
			Extractors: extractor.Neutral[*subject.Request](),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
		Metrics:    metrics,
	}

	r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if r.Outcome != OutcomeBypass {
		t.Fatalf("outcome = %v, want BYPASS", r.Outcome)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", *calls)
	}
	if metrics.keyErrors != 1 {
		t.Fatalf("expected one key-error count, got %d", metrics.keyErrors)
	}
}

func TestDriver_StaleBlockAndRefreshPollsSynchronously(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	upstream, calls := countingUpstream("v2", 200)
	backend := memory.New[*subject.CachedPayload](16)
	backend.Clock = func() time.Time { return now }

	staleTTL := 5 * time.Minute
	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Clock:    func() time.Time { return now },
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, &staleTTL, policy.ModeBlockAndRefresh),
			Extractors: extractor.Method(),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
	}

	// Seed the cache directly so we control StoredAt precisely.
	key := cachekey.Build("", []cachekey.KeyPart{cachekey.Part("method", "GET")})
	seeded := &cache.CachedValue[*subject.CachedPayload]{
		Data:     &subject.CachedPayload{StatusCode: 200, Header: http.Header{}, Body: []byte("v1")},
		StoredAt: start,
		TTL:      time.Minute,
		StaleTTL: &staleTTL,
	}
	if err := backend.Set(context.Background(), key, seeded, time.Minute); err != nil {
		t.Fatal(err)
	}

	now = start.Add(2 * time.Minute) // past TTL, within stale window
	r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("block-and-refresh must poll upstream synchronously, got %d calls", *calls)
	}
	body, _ := r.Response.Body()
	if string(body) != "v2" {
		t.Fatalf("refreshed body = %q, want %q", body, "v2")
	}
}

func TestDriver_StaleServeAndRefreshReturnsImmediately(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	upstream, calls := countingUpstream("v2", 200)
	backend := memory.New[*subject.CachedPayload](16)
	backend.Clock = func() time.Time { return now }

	staleTTL := 5 * time.Minute
	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Clock:    func() time.Time { return now },
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, &staleTTL, policy.ModeServeStaleAndRefresh),
			Extractors: extractor.Method(),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
	}

	key := cachekey.Build("", []cachekey.KeyPart{cachekey.Part("method", "GET")})
	seeded := &cache.CachedValue[*subject.CachedPayload]{
		Data:     &subject.CachedPayload{StatusCode: 200, Header: http.Header{}, Body: []byte("v1")},
		StoredAt: start,
		TTL:      time.Minute,
		StaleTTL: &staleTTL,
	}
	if err := backend.Set(context.Background(), key, seeded, time.Minute); err != nil {
		t.Fatal(err)
	}

	now = start.Add(2 * time.Minute)
	r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if r.Outcome != OutcomeStale {
		t.Fatalf("outcome = %v, want STALE", r.Outcome)
	}
	body, _ := r.Response.Body()
	if string(body) != "v1" {
		t.Fatalf("serve-stale-and-refresh must return the stale value immediately, got %q", body)
	}

	d.Wait()
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("background refresh should have polled upstream once, got %d calls", *calls)
	}

	state, err := backend.Get(context.Background(), key)
	if err != nil || state.Kind != cache.Actual || string(state.Value.Data.Body) != "v2" {
		t.Fatalf("background refresh should have stored the fresh value, got %+v, err=%v", state, err)
	}
}

func TestDriver_WriteFailureIsSwallowed(t *testing.T) {
	upstream, _ := countingUpstream("hello", 200)
	backend := &failingSetBackend{Backend: memory.New[*subject.CachedPayload](16)}
	metrics := &recordingMetrics{}

	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, nil, policy.ModeBlockAndRefresh),
			Extractors: extractor.Method(),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
		Metrics:    metrics,
	}

	r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if r.Err != nil {
		t.Fatalf("a swallowed write failure must not surface as a request error: %v", r.Err)
	}
	body, _ := r.Response.Body()
	if string(body) != "hello" {
		t.Fatalf("caller must still get the upstream response body, got %q", body)
	}
	if metrics.writeErrors != 1 {
		t.Fatalf("expected one write-error count, got %d", metrics.writeErrors)
	}
}

func TestDriver_UpstreamErrorOnMiss(t *testing.T) {
	wantErr := errors.New("connection refused")
	upstream := UpstreamFunc(func(context.Context, *subject.Request) (*subject.Response, error) {
		return nil, wantErr
	})
	backend := memory.New[*subject.CachedPayload](16)

	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, nil, policy.ModeBlockAndRefresh),
			Extractors: extractor.Method(),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
	}

	r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if r.Outcome != OutcomeError || r.Err == nil {
		t.Fatalf("expected an ERROR outcome with a non-nil error, got %+v", r)
	}
	if !IsUpstreamError(r.Err) {
		t.Fatalf("expected an UpstreamError, got %v", r.Err)
	}
	if !errors.Is(r.Err, wantErr) {
		t.Fatalf("UpstreamError must unwrap to the underlying error")
	}
}

func TestDriver_BackendGetErrorDemotesToUpstreamPoll(t *testing.T) {
	upstream, calls := countingUpstream("hello", 200)
	backend := &failingGetBackend{Backend: memory.New[*subject.CachedPayload](16)}

	d := &Driver[*subject.CachedPayload]{
		Backend:  backend,
		Upstream: upstream,
		Evaluator: policy.Evaluator{
			Config:     enabledConfig(time.Minute, nil, policy.ModeBlockAndRefresh),
			Extractors: extractor.Method(),
		},
		Classifier: policy.Classifier{Predicates: predicate.Status(200)},
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
	}

	r := d.Handle(context.Background(), "GET", newGetRequest("/x"))
	if r.Err != nil {
		t.Fatalf("a backend Get error must demote to an upstream poll, not surface as a request error: %v", r.Err)
	}
	if atomic.LoadInt64(calls) != 1 {
		t.Fatalf("expected one upstream call after the Get failure, got %d", *calls)
	}
}

// recordingMetrics implements driver.Metrics, counting calls instead of
// talking to Prometheus.
type recordingMetrics struct {
	keyErrors   int64
	writeErrors int64
}

func (m *recordingMetrics) ObserveOutcome(string, string, time.Duration) {}
func (m *recordingMetrics) IncKeyErrors()                                { atomic.AddInt64(&m.keyErrors, 1) }
func (m *recordingMetrics) IncWriteErrors()                              { atomic.AddInt64(&m.writeErrors, 1) }

// failingSetBackend wraps a real backend but always fails Set, to exercise
// the write-failure-is-swallowed invariant.
type failingSetBackend struct {
	Backend *memory.Backend[*subject.CachedPayload]
}

func (b *failingSetBackend) Start(ctx context.Context) error { return b.Backend.Start(ctx) }
func (b *failingSetBackend) Get(ctx context.Context, key cachekey.CacheKey) (cache.CacheState[*subject.CachedPayload], error) {
	return b.Backend.Get(ctx, key)
}
func (b *failingSetBackend) Set(context.Context, cachekey.CacheKey, *cache.CachedValue[*subject.CachedPayload], time.Duration) error {
	return errors.New("disk full")
}
func (b *failingSetBackend) Delete(ctx context.Context, key cachekey.CacheKey) (cache.DeleteStatus, error) {
	return b.Backend.Delete(ctx, key)
}

// failingGetBackend wraps a real backend but always fails Get, to exercise
// the CacheError-demotes-to-upstream-poll invariant.
type failingGetBackend struct {
	Backend *memory.Backend[*subject.CachedPayload]
}

func (b *failingGetBackend) Start(ctx context.Context) error { return b.Backend.Start(ctx) }
func (b *failingGetBackend) Get(context.Context, cachekey.CacheKey) (cache.CacheState[*subject.CachedPayload], error) {
	return cache.CacheState[*subject.CachedPayload]{}, errors.New("timeout")
}
func (b *failingGetBackend) Set(ctx context.Context, key cachekey.CacheKey, v *cache.CachedValue[*subject.CachedPayload], ttl time.Duration) error {
	return b.Backend.Set(ctx, key, v, ttl)
}
func (b *failingGetBackend) Delete(ctx context.Context, key cachekey.CacheKey) (cache.DeleteStatus, error) {
	return b.Backend.Delete(ctx, key)
}
