// Package predicate implements the composable cacheability predicate
// algebra: leaf predicates plus And/Or/Not/Neutral combinators, evaluated
// strictly left-to-right with short-circuiting exactly as specified.
package predicate

import "context"

// Result is the outcome of evaluating a Predicate against a subject. The
// subject is always carried forward, even on NonCacheable, so later stages
// of the pipeline (or the caller) keep whatever state a leaf predicate
// memoized on it (e.g. a materialized body).
type Result[S any] struct {
	Subject   S
	Cacheable bool
}

// Predicate is a unit with an associated Subject type and a single
// operation. Evaluation may perform I/O (materializing a body) so it takes
// a context and can fail; a failing Check is demoted by callers to
// NonCacheable, never a panic.
type Predicate[S any] interface {
	Check(ctx context.Context, subject S) (Result[S], error)
}

// Func adapts a plain function to the Predicate interface.
type Func[S any] func(ctx context.Context, subject S) (Result[S], error)

func (f Func[S]) Check(ctx context.Context, subject S) (Result[S], error) {
	return f(ctx, subject)
}

// Neutral is the identity element for And: always Cacheable.
func Neutral[S any]() Predicate[S] {
	return Func[S](func(_ context.Context, subject S) (Result[S], error) {
		return Result[S]{Subject: subject, Cacheable: true}, nil
	})
}

// And evaluates l; if NonCacheable, short-circuits with NonCacheable.
// Otherwise evaluates r against the (possibly updated) subject l returned.
func And[S any](l, r Predicate[S]) Predicate[S] {
	return Func[S](func(ctx context.Context, subject S) (Result[S], error) {
		lr, err := l.Check(ctx, subject)
		if err != nil {
			return Result[S]{}, err
		}
		if !lr.Cacheable {
			return lr, nil
		}
		return r.Check(ctx, lr.Subject)
	})
}

// Or evaluates l; if Cacheable, short-circuits. Otherwise evaluates r.
func Or[S any](l, r Predicate[S]) Predicate[S] {
	return Func[S](func(ctx context.Context, subject S) (Result[S], error) {
		lr, err := l.Check(ctx, subject)
		if err != nil {
			return Result[S]{}, err
		}
		if lr.Cacheable {
			return lr, nil
		}
		return r.Check(ctx, lr.Subject)
	})
}

// Not is the two-argument "and-not": evaluate p; if NonCacheable, return
// NonCacheable. Otherwise evaluate q and invert only its outcome.
func Not[S any](p, q Predicate[S]) Predicate[S] {
	return Func[S](func(ctx context.Context, subject S) (Result[S], error) {
		pr, err := p.Check(ctx, subject)
		if err != nil {
			return Result[S]{}, err
		}
		if !pr.Cacheable {
			return pr, nil
		}
		qr, err := q.Check(ctx, pr.Subject)
		if err != nil {
			return Result[S]{}, err
		}
		qr.Cacheable = !qr.Cacheable
		return qr, nil
	})
}

// All folds a flat list of predicates into And(p1, And(p2, ...)); an empty
// list is Neutral.
func All[S any](ps ...Predicate[S]) Predicate[S] {
	if len(ps) == 0 {
		return Neutral[S]()
	}
	out := ps[len(ps)-1]
	for i := len(ps) - 2; i >= 0; i-- {
		out = And(ps[i], out)
	}
	return out
}

// Any folds a flat list into Or(p1, Or(p2, ...)); an empty list is never
// cacheable (false, the identity element for Or).
func Any[S any](ps ...Predicate[S]) Predicate[S] {
	if len(ps) == 0 {
		return Func[S](func(_ context.Context, subject S) (Result[S], error) {
			return Result[S]{Subject: subject, Cacheable: false}, nil
		})
	}
	out := ps[len(ps)-1]
	for i := len(ps) - 2; i >= 0; i-- {
		out = Or(ps[i], out)
	}
	return out
}
