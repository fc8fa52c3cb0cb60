// Package policy evaluates the request-side predicate tree and extractor
// chain into a RequestCachePolicy, and the response-side predicate tree
// into a ResponseCachePolicy.
package policy

import (
	"context"
	"time"

	"github.com/relaycache/cacheproxy/internal/cachekey"
	"github.com/relaycache/cacheproxy/internal/extractor"
	"github.com/relaycache/cacheproxy/internal/predicate"
	"github.com/relaycache/cacheproxy/internal/subject"
)

// RefreshMode selects between the two behaviors available on a stale cache
// hit: block-and-refresh, or serve-stale-and-refresh-in-background.
type RefreshMode int

const (
	// ModeBlockAndRefresh polls upstream before responding; on upstream
	// error it falls back to the stale cached value.
	ModeBlockAndRefresh RefreshMode = iota
	// ModeServeStaleAndRefresh responds immediately with the stale value
	// and refreshes the entry in the background.
	ModeServeStaleAndRefresh
)

// Config is either Disabled, or Enabled with a TTL, an optional stale
// window, and a refresh mode (consulted only when a stale window is
// configured).
type Config struct {
	Enabled     bool
	TTL         time.Duration
	StaleTTL    *time.Duration // nil means CacheHitStale is unreachable
	RefreshMode RefreshMode
}

// Validate enforces the construction-time invariants: TTL must be positive,
// and StaleTTL, if present, must be >= TTL. Violations are configuration
// errors, surfaced once at construction, never at request time.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return ErrNonPositiveTTL
	}
	if c.StaleTTL != nil && *c.StaleTTL < c.TTL {
		return ErrStaleBelowTTL
	}
	return nil
}

// RequestCachePolicy is Cacheable{key, request} or NonCacheable{request}.
// KeyEmpty is set when the extractor chain produced zero KeyParts for a
// Cacheable verdict - a key error.
type RequestCachePolicy struct {
	Cacheable bool
	KeyEmpty  bool
	Key       cachekey.CacheKey
	Request   *subject.Request
}

// ResponseCachePolicy is Cacheable{response} or NonCacheable{response}.
type ResponseCachePolicy struct {
	Cacheable bool
	Response  *subject.Response
}

// Evaluator combines PolicyConfig with a request predicate tree and an
// extractor chain to decide whether an inbound request is cacheable, and
// if so, what key it maps to.
type Evaluator struct {
	Config     Config
	KeyPrefix  string
	Predicates predicate.Predicate[*subject.Request]
	Extractors extractor.Extractor[*subject.Request]
}

// Evaluate runs the predicate tree (if the policy is Enabled) and, on a
// Cacheable verdict, the extractor chain to build the CacheKey. An
// extractor chain that yields no parts at all is a key error: it is
// reported via KeyEmpty=true with Cacheable=true and a Key holding only
// "<prefix>::", so the
// caller can apply the "treat as NonCacheable, count it" rule without this
// package needing a logger dependency.
func (e Evaluator) Evaluate(ctx context.Context, req *subject.Request) (RequestCachePolicy, error) {
	if !e.Config.Enabled {
		return RequestCachePolicy{Cacheable: false, Request: req}, nil
	}
	preds := e.Predicates
	if preds == nil {
		preds = predicate.Neutral[*subject.Request]()
	}
	result, err := preds.Check(ctx, req)
	if err != nil {
		return RequestCachePolicy{}, err
	}
	if !result.Cacheable {
		return RequestCachePolicy{Cacheable: false, Request: result.Subject}, nil
	}

	extractors := e.Extractors
	if extractors == nil {
		extractors = extractor.Neutral[*subject.Request]()
	}
	kp, err := extractors.Get(ctx, result.Subject)
	if err != nil {
		return RequestCachePolicy{}, err
	}
	key := cachekey.Build(e.KeyPrefix, kp.Parts)
	return RequestCachePolicy{
		Cacheable: true,
		KeyEmpty:  cachekey.Empty(e.KeyPrefix, kp.Parts),
		Key:       key,
		Request:   kp.Subject,
	}, nil
}

// Classifier wraps a response-side predicate tree and decides whether an
// upstream response is eligible for storage.
type Classifier struct {
	Predicates predicate.Predicate[*subject.Response]
}

// Classify evaluates the response predicate tree.
func (c Classifier) Classify(ctx context.Context, resp *subject.Response) (ResponseCachePolicy, error) {
	preds := c.Predicates
	if preds == nil {
		preds = predicate.Neutral[*subject.Response]()
	}
	result, err := preds.Check(ctx, resp)
	if err != nil {
		return ResponseCachePolicy{}, err
	}
	return ResponseCachePolicy{Cacheable: result.Cacheable, Response: result.Subject}, nil
}
