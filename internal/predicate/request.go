package predicate

import (
	"context"

	"github.com/relaycache/cacheproxy/internal/routepattern"
	"github.com/relaycache/cacheproxy/internal/subject"
)

// Op is the comparison operator a Header/Query leaf predicate applies.
type Op int

const (
	OpEq Op = iota
	OpExists
	OpIn
)

// Method is Cacheable iff the request method equals m (case-sensitive, per
// the HTTP spec's method token comparison).
func Method(m string) Predicate[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		return Result[*subject.Request]{Subject: s, Cacheable: s.Method() == m}, nil
	})
}

// Path is Cacheable iff the URI path matches the route-style pattern.
// Captures are extracted by the matcher but discarded here; only the
// boolean outcome is used.
func Path(pattern string) Predicate[*subject.Request] {
	compiled := routepattern.Compile(pattern)
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		_, matched := compiled.Match(s.Method(), s.Path())
		return Result[*subject.Request]{Subject: s, Cacheable: matched}, nil
	})
}

// Header matches a request header's first value against value using op.
func Header(name, value string, op Op) Predicate[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		got, present := s.Header(name)
		return Result[*subject.Request]{Subject: s, Cacheable: matchOp(op, got, present, value, nil)}, nil
	})
}

// HeaderIn matches a request header's first value against a set.
func HeaderIn(name string, set []string) Predicate[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		got, present := s.Header(name)
		return Result[*subject.Request]{Subject: s, Cacheable: matchOp(OpIn, got, present, "", set)}, nil
	})
}

// Query matches a parsed query parameter. Repeated keys are arrays; Eq
// matches if any element equals value.
func Query(name, value string, op Op) Predicate[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		vals, present := s.Query()[name]
		cacheable := matchMultiOp(op, vals, present, value, nil)
		return Result[*subject.Request]{Subject: s, Cacheable: cacheable}, nil
	})
}

// QueryIn matches a parsed query parameter against a membership set.
func QueryIn(name string, set []string) Predicate[*subject.Request] {
	return Func[*subject.Request](func(_ context.Context, s *subject.Request) (Result[*subject.Request], error) {
		vals, present := s.Query()[name]
		cacheable := matchMultiOp(OpIn, vals, present, "", set)
		return Result[*subject.Request]{Subject: s, Cacheable: cacheable}, nil
	})
}

func matchOp(op Op, got string, present bool, want string, set []string) bool {
	switch op {
	case OpExists:
		return present
	case OpIn:
		if !present {
			return false
		}
		for _, candidate := range set {
			if candidate == got {
				return true
			}
		}
		return false
	default: // OpEq
		return present && got == want
	}
}

func matchMultiOp(op Op, got []string, present bool, want string, set []string) bool {
	switch op {
	case OpExists:
		return present && len(got) > 0
	case OpIn:
		if !present {
			return false
		}
		for _, g := range got {
			for _, candidate := range set {
				if candidate == g {
					return true
				}
			}
		}
		return false
	default: // OpEq
		if !present {
			return false
		}
		for _, g := range got {
			if g == want {
				return true
			}
		}
		return false
	}
}
