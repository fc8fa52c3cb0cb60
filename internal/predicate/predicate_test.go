package predicate

import (
	"context"
	"testing"
)

func boolPredicate(result bool) Predicate[int] {
	return Func[int](func(_ context.Context, s int) (Result[int], error) {
		return Result[int]{Subject: s, Cacheable: result}, nil
	})
}

func TestNeutralIsAlwaysCacheable(t *testing.T) {
	r, err := Neutral[int]().Check(context.Background(), 1)
	if err != nil || !r.Cacheable {
		t.Fatalf("Neutral must always be Cacheable, got %+v, err=%v", r, err)
	}
}

func TestAndShortCircuitsOnFalse(t *testing.T) {
	called := false
	right := Func[int](func(ctx context.Context, s int) (Result[int], error) {
		called = true
		return Result[int]{Subject: s, Cacheable: true}, nil
	})
	r, err := And(boolPredicate(false), right).Check(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cacheable {
		t.Fatal("And(false, true) must be NonCacheable")
	}
	if called {
		t.Fatal("And must short-circuit without evaluating the right operand")
	}
}

func TestOrShortCircuitsOnTrue(t *testing.T) {
	called := false
	right := Func[int](func(ctx context.Context, s int) (Result[int], error) {
		called = true
		return Result[int]{Subject: s, Cacheable: false}, nil
	})
	r, err := Or(boolPredicate(true), right).Check(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Cacheable {
		t.Fatal("Or(true, false) must be Cacheable")
	}
	if called {
		t.Fatal("Or must short-circuit without evaluating the right operand")
	}
}

func TestTotality(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    Predicate[int]
	}{
		{"neutral", Neutral[int]()},
		{"and", And(boolPredicate(true), boolPredicate(false))},
		{"or", Or(boolPredicate(false), boolPredicate(true))},
		{"not", Not(boolPredicate(true), boolPredicate(false))},
		{"all-empty", All[int]()},
		{"any-empty", Any[int]()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.p.Check(context.Background(), 7); err != nil {
				t.Fatalf("predicate must never error on well-formed input: %v", err)
			}
		})
	}
}

// Not(P, Not(P, Q)) is equivalent to And(P, Q): when P holds, the inner Not
// inverts Q then the outer Not inverts it back; when P fails both sides are
// NonCacheable.
func TestNotNotIdentity(t *testing.T) {
	for _, p := range []bool{true, false} {
		for _, q := range []bool{true, false} {
			P, Q := boolPredicate(p), boolPredicate(q)
			lhs, err := Not(P, Not(P, Q)).Check(context.Background(), 0)
			if err != nil {
				t.Fatal(err)
			}
			rhs, err := And(P, Q).Check(context.Background(), 0)
			if err != nil {
				t.Fatal(err)
			}
			if lhs.Cacheable != rhs.Cacheable {
				t.Fatalf("p=%v q=%v: Not(P,Not(P,Q))=%v, And(P,Q)=%v", p, q, lhs.Cacheable, rhs.Cacheable)
			}
		}
	}
}

func TestAllIsConjunction(t *testing.T) {
	cases := []struct {
		values []bool
		want   bool
	}{
		{[]bool{true, true, true}, true},
		{[]bool{true, false, true}, false},
		{nil, true},
	}
	for _, tc := range cases {
		ps := make([]Predicate[int], len(tc.values))
		for i, v := range tc.values {
			ps[i] = boolPredicate(v)
		}
		r, err := All(ps...).Check(context.Background(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if r.Cacheable != tc.want {
			t.Fatalf("All(%v) = %v, want %v", tc.values, r.Cacheable, tc.want)
		}
	}
}

func TestAnyIsDisjunction(t *testing.T) {
	cases := []struct {
		values []bool
		want   bool
	}{
		{[]bool{false, false, true}, true},
		{[]bool{false, false, false}, false},
		{nil, false},
	}
	for _, tc := range cases {
		ps := make([]Predicate[int], len(tc.values))
		for i, v := range tc.values {
			ps[i] = boolPredicate(v)
		}
		r, err := Any(ps...).Check(context.Background(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if r.Cacheable != tc.want {
			t.Fatalf("Any(%v) = %v, want %v", tc.values, r.Cacheable, tc.want)
		}
	}
}
