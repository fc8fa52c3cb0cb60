package extractor

import (
	"context"
	"fmt"

	"github.com/relaycache/cacheproxy/internal/bodymatch"
	"github.com/relaycache/cacheproxy/internal/cachekey"
	"github.com/relaycache/cacheproxy/internal/routepattern"
	"github.com/relaycache/cacheproxy/internal/subject"
)

// Method appends ("method", request.method).
func Method() Extractor[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (cachekey.KeyParts[*subject.Request], error) {
		return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: []cachekey.KeyPart{cachekey.Part("method", s.Method())}}, nil
	})
}

// Path matches pattern against the URI path and appends one KeyPart per
// capture, in the order the captures appear in the pattern text.
func Path(pattern string) Extractor[*subject.Request] {
	compiled := routepattern.Compile(pattern)
	names := captureOrder(pattern)
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (cachekey.KeyParts[*subject.Request], error) {
		values, matched := compiled.Match(s.Method(), s.Path())
		if !matched {
			parts := make([]cachekey.KeyPart, len(names))
			for i, n := range names {
				parts[i] = cachekey.MissingPart(n)
			}
			return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: parts}, nil
		}
		parts := make([]cachekey.KeyPart, len(names))
		for i, n := range names {
			parts[i] = cachekey.Part(n, values[n])
		}
		return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: parts}, nil
	})
}

// captureOrder re-derives the "{name}" capture order from pattern text;
// routepattern.Pattern keeps the same logic internally but doesn't export
// it, so extractor mirrors it to label parts in source order.
func captureOrder(pattern string) []string {
	var out []string
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '{' {
			continue
		}
		j := i + 1
		for j < len(pattern) && pattern[j] != '}' {
			j++
		}
		if j < len(pattern) {
			name := pattern[i+1 : j]
			if name != "" && name != "$" {
				if len(name) > 3 && name[len(name)-3:] == "..." {
					name = name[:len(name)-3]
				}
				out = append(out, name)
			}
			i = j
		}
	}
	return out
}

// Header appends (name, header value or absent).
func Header(name string) Extractor[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (cachekey.KeyParts[*subject.Request], error) {
		value, present := s.Header(name)
		part := cachekey.MissingPart(name)
		if present {
			part = cachekey.Part(name, value)
		}
		return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: []cachekey.KeyPart{part}}, nil
	})
}

// Query appends one KeyPart per occurrence of name in the query string, in
// source order; multi-valued queries thus produce multiple parts.
func Query(name string) Extractor[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (cachekey.KeyParts[*subject.Request], error) {
		values, present := s.Query()[name]
		if !present || len(values) == 0 {
			return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: []cachekey.KeyPart{cachekey.MissingPart(name)}}, nil
		}
		parts := make([]cachekey.KeyPart, len(values))
		for i, v := range values {
			parts[i] = cachekey.Part(name, v)
		}
		return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: parts}, nil
	})
}

// Body materializes and parses the request body, appending the projected
// JSONPath value (or a missing part if the path had no match).
func Body(label string, expr *bodymatch.Expr) Extractor[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (cachekey.KeyParts[*subject.Request], error) {
		raw, err := s.Body()
		if err != nil {
			return cachekey.KeyParts[*subject.Request]{}, fmt.Errorf("extractor: materialize request body: %w", err)
		}
		value, found := expr.First(raw)
		part := cachekey.MissingPart(label)
		if found {
			part = cachekey.Part(label, value)
		}
		return cachekey.KeyParts[*subject.Request]{Subject: s, Parts: []cachekey.KeyPart{part}}, nil
	})
}
