// Package routepattern matches and captures route-style URI path patterns
// such as "/users/{id}/books/{book_id}".
//
// Rather than hand-rolling a segment matcher, this reuses net/http's own
// ServeMux pattern syntax (Go 1.22+): a single-route ServeMux is compiled
// once per pattern and then asked to match/extract by actually serving the
// request through it, with a handler that reads the path values ServeMux
// populated on the request. (Handler alone discards match data and never
// populates PathValue - only ServeHTTP does.) That keeps path matching
// aligned byte-for-byte with how the standard library itself interprets
// "{name}" segments, including trailing wildcards, instead of
// reimplementing that grammar. See DESIGN.md for why no third-party router
// was pulled in for this instead.
package routepattern

import (
	"context"
	"net/http"
	"net/http/httptest"
)

// Pattern is a compiled route-style path pattern.
type Pattern struct {
	raw string
	mux *http.ServeMux
}

// Compile builds a Pattern from a route template like "/users/{id}".
func Compile(pattern string) *Pattern {
	names := namesOf(pattern)
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]string, len(names))
		for _, name := range names {
			out[name] = r.PathValue(name)
		}
		ctx := context.WithValue(r.Context(), matchedValuesKey{}, out)
		*r = *r.WithContext(ctx)
	})
	return &Pattern{raw: pattern, mux: mux}
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

type matchedValuesKey struct{}

// Match reports whether path matches the compiled pattern, and if so
// returns the captured path variables keyed by their "{name}" in the
// pattern. The result is a map and carries no ordering.
//
// ServeMux.Handler alone discards its match data and never populates
// PathValue; only ServeHTTP does. So the match is driven by actually
// serving the request, with the registered handler stashing the captured
// values back onto the request's context for retrieval here.
func (p *Pattern) Match(method, path string) (values map[string]string, matched bool) {
	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		return nil, false
	}
	rec := httptest.NewRecorder()
	p.mux.ServeHTTP(rec, req)
	if rec.Code == http.StatusNotFound {
		return nil, false
	}
	out, ok := req.Context().Value(matchedValuesKey{}).(map[string]string)
	if !ok {
		return map[string]string{}, true
	}
	return out, true
}

// namesOf extracts the "{...}" capture names from the raw pattern text, in
// order of appearance.
func namesOf(raw string) []string {
	var out []string
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		j := i + 1
		for j < len(raw) && raw[j] != '}' {
			j++
		}
		if j < len(raw) {
			name := raw[i+1 : j]
			if name == "$" || name == "" {
				i = j
				continue
			}
			if name[len(name)-1] == '.' { // trailing "..." wildcard form "{name...}"
				name = name[:len(name)-3]
			}
			out = append(out, name)
			i = j
		}
	}
	return out
}
