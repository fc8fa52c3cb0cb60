package driver

import (
	"net/http"
	"time"

	"github.com/relaycache/cacheproxy/internal/subject"
)

// Middleware is the net/http realization of the middleware surface: a
// function-shaped object that wraps an upstream service and is parametric
// over the Backend. Behavior is entirely governed by the Driver it was
// constructed with.
type Middleware struct {
	Driver *Driver[*subject.CachedPayload]
}

// NewMiddleware wraps d as an http.Handler.
func NewMiddleware(d *Driver[*subject.CachedPayload]) *Middleware {
	return &Middleware{Driver: d}
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := subject.NewRequest(r)
	result := m.Driver.Handle(r.Context(), r.Method, req)

	if result.Err != nil {
		if IsUpstreamError(result.Err) {
			http.Error(w, result.Err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, result.Err.Error(), http.StatusInternalServerError)
		return
	}

	var age *time.Duration
	if result.Outcome == OutcomeHit || result.Outcome == OutcomeStale {
		d := m.Driver.now().Sub(result.StoredAt)
		age = &d
	}
	writeResponse(w, result.Response, result.Outcome, age)
}
