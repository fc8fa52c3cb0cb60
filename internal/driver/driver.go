// Package driver implements the cache state machine: it coordinates cache
// lookup, upstream invocation, cache write, and stale/refresh handling. The
// driver itself holds no mutex and is re-entrant per request; the only
// shared, mutable state it touches is the Backend, which owns its own
// thread-safety.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relaycache/cacheproxy/internal/cache"
	"github.com/relaycache/cacheproxy/internal/cachekey"
	"github.com/relaycache/cacheproxy/internal/policy"
	"github.com/relaycache/cacheproxy/internal/subject"
)

// Upstream is the one-method contract for the wrapped service. The driver
// never depends on http.RoundTripper directly so it can drive any
// subject/response pair an adapter chooses to provide.
type Upstream interface {
	RoundTrip(ctx context.Context, req *subject.Request) (*subject.Response, error)
}

// UpstreamFunc adapts a function to Upstream.
type UpstreamFunc func(ctx context.Context, req *subject.Request) (*subject.Response, error)

func (f UpstreamFunc) RoundTrip(ctx context.Context, req *subject.Request) (*subject.Response, error) {
	return f(ctx, req)
}

// Metrics is the narrow observer contract the driver reports state
// transitions through; see observability.Metrics for the Prometheus-backed
// implementation. All methods must be safe for concurrent use.
type Metrics interface {
	ObserveOutcome(method string, outcome string, dur time.Duration)
	IncKeyErrors()
	IncWriteErrors()
}

// Logger is the narrow structured-logging contract the driver reports
// swallowed/demoted failures through; see observability.Logger.
type Logger interface {
	Warn(msg string, kv ...any)
}

// noopMetrics/noopLogger let Driver be constructed without observability
// wiring, e.g. in unit tests that only care about cache behavior.
type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(string, string, time.Duration) {}
func (noopMetrics) IncKeyErrors()                                {}
func (noopMetrics) IncWriteErrors()                              {}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Outcome labels the terminal path a request took; reported on the
// X-Cache response header.
type Outcome string

const (
	OutcomeHit    Outcome = "HIT"
	OutcomeStale  Outcome = "STALE"
	OutcomeMiss   Outcome = "MISS"
	OutcomeBypass Outcome = "BYPASS"
	OutcomeError  Outcome = "ERROR"
)

// Result is what Driver.Handle produces: either a response to serve, or an
// error that must surface to the caller. The caller always receives a
// response unless the error is a genuine upstream failure with no stale
// fallback available.
type Result struct {
	Response *subject.Response
	Outcome  Outcome
	Err      error
	// StoredAt is set on OutcomeHit/OutcomeStale so an adapter can compute
	// an Age header; zero otherwise.
	StoredAt time.Time
}

// Driver[V] is the cache state machine, generic over the classifier's
// Cached value type. Capture/Expand bridge between *subject.Response and
// the stored V so the driver's control flow stays independent of exactly
// what a Backend persists.
type Driver[V any] struct {
	Backend    cache.Backend[V]
	Upstream   Upstream
	Evaluator  policy.Evaluator
	Classifier policy.Classifier
	Capture    func(*subject.Response) (V, error)
	Expand     func(V) *subject.Response

	Clock   func() time.Time
	Metrics Metrics
	Logger  Logger

	wg sync.WaitGroup
}

func (d *Driver[V]) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *Driver[V]) metrics() Metrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return noopMetrics{}
}

func (d *Driver[V]) logger() Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return noopLogger{}
}

// Wait blocks until every background refresh this Driver has spawned (via
// ModeServeStaleAndRefresh) has completed. It exists for tests; production
// callers never need it since Finish never waits on a refresh.
func (d *Driver[V]) Wait() { d.wg.Wait() }

// Handle runs the full state machine for one request: evaluate, look up
// the cache, poll upstream if needed, classify and store the result. It
// never panics on backend or upstream failure.
func (d *Driver[V]) Handle(ctx context.Context, method string, req *subject.Request) Result {
	start := d.now()

	rp, err := d.Evaluator.Evaluate(ctx, req)
	if err != nil {
		// Evaluator failure (e.g. a body predicate that couldn't read the
		// body) demotes to NonCacheable rather than failing the request.
		return d.bypass(ctx, method, req, start)
	}
	if !rp.Cacheable {
		return d.bypass(ctx, method, req, start)
	}
	if rp.KeyEmpty {
		d.metrics().IncKeyErrors()
		d.logger().Warn("cache key extractor produced no parts; treating as non-cacheable", "prefix", d.Evaluator.KeyPrefix)
		return d.bypass(ctx, method, rp.Request, start)
	}

	return d.cacheable(ctx, method, rp.Key, rp.Request, start)
}

func (d *Driver[V]) bypass(ctx context.Context, method string, req *subject.Request, start time.Time) Result {
	resp, err := d.Upstream.RoundTrip(ctx, req)
	if err != nil {
		d.metrics().ObserveOutcome(method, string(OutcomeError), d.now().Sub(start))
		return Result{Outcome: OutcomeError, Err: &UpstreamError{Err: err}}
	}
	d.metrics().ObserveOutcome(method, string(OutcomeBypass), d.now().Sub(start))
	return Result{Response: resp, Outcome: OutcomeBypass}
}

func (d *Driver[V]) cacheable(ctx context.Context, method string, key cachekey.CacheKey, req *subject.Request, start time.Time) Result {
	state, err := d.Backend.Get(ctx, key)
	if err != nil {
		// CacheError: backend Get failed. Demote to an upstream poll.
		return d.pollAndFinish(ctx, method, key, req, start)
	}

	switch state.Kind {
	case cache.Actual:
		resp := d.Expand(state.Value.Data)
		d.metrics().ObserveOutcome(method, string(OutcomeHit), d.now().Sub(start))
		return Result{Response: resp, Outcome: OutcomeHit, StoredAt: state.Value.StoredAt}

	case cache.Stale:
		if d.Evaluator.Config.RefreshMode == policy.ModeServeStaleAndRefresh {
			staleResp := d.Expand(state.Value.Data)
			d.spawnRefresh(method, key, req)
			d.metrics().ObserveOutcome(method, string(OutcomeStale), d.now().Sub(start))
			return Result{Response: staleResp, Outcome: OutcomeStale, StoredAt: state.Value.StoredAt}
		}
		// ModeBlockAndRefresh: poll now; fall back to stale on error.
		resp, err := d.Upstream.RoundTrip(ctx, req)
		if err != nil {
			fallback := d.Expand(state.Value.Data)
			d.metrics().ObserveOutcome(method, string(OutcomeStale), d.now().Sub(start))
			return Result{Response: fallback, Outcome: OutcomeStale, StoredAt: state.Value.StoredAt}
		}
		return d.classifyAndFinish(ctx, method, key, resp, start)

	default: // cache.Miss
		return d.pollAndFinish(ctx, method, key, req, start)
	}
}

func (d *Driver[V]) pollAndFinish(ctx context.Context, method string, key cachekey.CacheKey, req *subject.Request, start time.Time) Result {
	resp, err := d.Upstream.RoundTrip(ctx, req)
	if err != nil {
		d.metrics().ObserveOutcome(method, string(OutcomeError), d.now().Sub(start))
		return Result{Outcome: OutcomeError, Err: &UpstreamError{Err: err}}
	}
	return d.classifyAndFinish(ctx, method, key, resp, start)
}

func (d *Driver[V]) classifyAndFinish(ctx context.Context, method string, key cachekey.CacheKey, resp *subject.Response, start time.Time) Result {
	cp, err := d.Classifier.Classify(ctx, resp)
	if err != nil {
		// A broken response predicate (e.g. unparsable body expression)
		// demotes to NonCacheable for this response; the upstream answer
		// is still returned to the caller unchanged.
		d.metrics().ObserveOutcome(method, string(OutcomeMiss), d.now().Sub(start))
		return Result{Response: resp, Outcome: OutcomeMiss}
	}
	if !cp.Cacheable {
		d.metrics().ObserveOutcome(method, string(OutcomeMiss), d.now().Sub(start))
		return Result{Response: cp.Response, Outcome: OutcomeMiss}
	}

	toStore := cp.Response.Clone()
	d.writeCache(ctx, key, toStore)

	d.metrics().ObserveOutcome(method, string(OutcomeMiss), d.now().Sub(start))
	return Result{Response: cp.Response, Outcome: OutcomeMiss}
}

// writeCache persists the response. Failures are logged and swallowed: the
// caller still receives the original response regardless.
func (d *Driver[V]) writeCache(ctx context.Context, key cachekey.CacheKey, resp *subject.Response) {
	data, err := d.Capture(resp)
	if err != nil {
		d.metrics().IncWriteErrors()
		d.logger().Warn("cache write: capture response failed", "key", string(key), "err", err)
		return
	}
	ttl := d.Evaluator.Config.TTL
	value := &cache.CachedValue[V]{Data: data, StoredAt: d.now(), TTL: ttl, StaleTTL: d.Evaluator.Config.StaleTTL}
	if err := d.Backend.Set(ctx, key, value, ttl); err != nil {
		d.metrics().IncWriteErrors()
		d.logger().Warn("cache write: backend Set failed", "key", string(key), "err", err)
	}
}

// spawnRefresh implements serve-stale-and-refresh: a background poll,
// classify, and maybe-write that the caller does not wait on. The caller's
// cancellation does not cancel it: it runs detached from the inbound
// request's context, using context.Background with no deadline.
func (d *Driver[V]) spawnRefresh(method string, key cachekey.CacheKey, req *subject.Request) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()
		resp, err := d.Upstream.RoundTrip(ctx, req)
		if err != nil {
			return
		}
		cp, err := d.Classifier.Classify(ctx, resp)
		if err != nil || !cp.Cacheable {
			return
		}
		d.writeCache(ctx, key, cp.Response)
	}()
}

// UpstreamError wraps a failure of the wrapped service. Fatal to the
// request unless a stale value was available (handled upstream of here).
type UpstreamError struct{ Err error }

func (e *UpstreamError) Error() string { return "upstream: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstreamError reports whether err is (or wraps) an UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
