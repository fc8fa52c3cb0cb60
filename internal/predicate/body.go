package predicate

import (
	"context"
	"fmt"

	"github.com/relaycache/cacheproxy/internal/bodymatch"
	"github.com/relaycache/cacheproxy/internal/subject"
)

// Body matches a materialized and parsed request body against a compiled
// JSONPath expression. The body is read at most once per request: the
// first predicate (or extractor) in the chain to call subject.Body
// triggers the read; every later one reuses the memoized bytes.
func Body(expr *bodymatch.Expr, op Op, want string) Predicate[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		raw, err := s.Body()
		if err != nil {
			return Result[*subject.Request]{}, fmt.Errorf("predicate: materialize request body: %w", err)
		}
		got, found := expr.First(raw)
		return Result[*subject.Request]{Subject: s, Cacheable: matchOp(op, got, found, want, nil)}, nil
	})
}

// ResponseBody is Body's response-side counterpart.
func ResponseBody(expr *bodymatch.Expr, op Op, want string) Predicate[*subject.Response] {
	return Func[*subject.Response](func(_ context.Context, s *subject.Response) (Result[*subject.Response], error) {
		raw, err := s.Body()
		if err != nil {
			return Result[*subject.Response]{}, fmt.Errorf("predicate: materialize response body: %w", err)
		}
		got, found := expr.First(raw)
		return Result[*subject.Response]{Subject: s, Cacheable: matchOp(op, got, found, want, nil)}, nil
	})
}
