// Package subject wraps the net/http request and response containers in the
// shape the predicate and extractor algebras expect: an opaque value whose
// body is materialized at most once, on demand, and memoized for every
// later reader in the same pipeline.
package subject

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// Request is the subject borrowed by request-side predicates and
// extractors. It owns the *http.Request for the lifetime of one pipeline
// pass; predicates and extractors read it but never take ownership away
// from the caller.
type Request struct {
	Raw *http.Request

	bodyOnce sync.Once
	bodyBuf  []byte
	bodyErr  error
}

// NewRequest wraps an inbound *http.Request. The caller keeps owning r;
// Request only ever reads from it or replaces r.Body with a reusable
// reader once the body has been materialized.
func NewRequest(r *http.Request) *Request {
	return &Request{Raw: r}
}

// Method returns the HTTP method.
func (s *Request) Method() string { return s.Raw.Method }

// Path returns the URL path.
func (s *Request) Path() string { return s.Raw.URL.Path }

// Header returns the first value of the named header, and whether the
// header was present at all (mirrors http.Header.Values semantics, but
// collapses to the first value since that's all the leaf predicates need).
func (s *Request) Header(name string) (value string, present bool) {
	vals, ok := s.Raw.Header[http.CanonicalHeaderKey(name)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Query parses the URL query string once per call (net/url memoizes
// nothing, but query parsing is cheap and side-effect free, unlike body
// reads, so no extra memoization layer is needed here).
func (s *Request) Query() url.Values {
	return s.Raw.URL.Query()
}

// Body materializes the request body exactly once. Every subsequent call,
// from any predicate or extractor in the same chain, observes the same
// bytes without re-reading the underlying stream. After the first call,
// s.Raw.Body is replaced with a fresh reader over the buffered bytes so the
// upstream call downstream of the cache decision can still read it.
func (s *Request) Body() ([]byte, error) {
	s.bodyOnce.Do(func() {
		if s.Raw.Body == nil {
			return
		}
		s.bodyBuf, s.bodyErr = io.ReadAll(s.Raw.Body)
		_ = s.Raw.Body.Close()
		s.Raw.Body = io.NopCloser(bytes.NewReader(s.bodyBuf))
	})
	if s.bodyErr != nil {
		return nil, s.bodyErr
	}
	return s.bodyBuf, nil
}

// Clone produces a copy of the underlying request suitable for forwarding
// upstream, carrying over any already-materialized body so the upstream
// call never re-reads the client's stream.
func (s *Request) Clone(ctx context.Context) *http.Request {
	out := s.Raw.Clone(ctx)
	if s.bodyBuf != nil {
		out.Body = io.NopCloser(bytes.NewReader(s.bodyBuf))
	}
	return out
}
