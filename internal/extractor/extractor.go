// Package extractor implements the composable cache-key extractor algebra:
// each leaf extractor returns only its own KeyParts, and Chain runs the
// leaves left to right and concatenates their parts, so the final sequence
// follows the order the extractors were listed in.
package extractor

import (
	"context"

	"github.com/relaycache/cacheproxy/internal/cachekey"
)

// Extractor accumulates KeyParts from a subject.
type Extractor[S any] interface {
	Get(ctx context.Context, subject S) (cachekey.KeyParts[S], error)
}

// Func adapts a plain function to the Extractor interface.
type Func[S any] func(ctx context.Context, subject S) (cachekey.KeyParts[S], error)

func (f Func[S]) Get(ctx context.Context, subject S) (cachekey.KeyParts[S], error) {
	return f(ctx, subject)
}

// Neutral is the innermost extractor: it produces no parts.
func Neutral[S any]() Extractor[S] {
	return Func[S](func(_ context.Context, subject S) (cachekey.KeyParts[S], error) {
		return cachekey.KeyParts[S]{Subject: subject}, nil
	})
}

// Chain composes extractors left-to-right: the first element is innermost
// (fires first), matching the "Neutral -> method -> path -> header" style
// chains from the spec. Chain(e1, e2, e3) appends e1's parts, then e2's,
// then e3's.
func Chain[S any](extractors ...Extractor[S]) Extractor[S] {
	return Func[S](func(ctx context.Context, subject S) (cachekey.KeyParts[S], error) {
		acc := cachekey.KeyParts[S]{Subject: subject}
		for _, e := range extractors {
			next, err := e.Get(ctx, acc.Subject)
			if err != nil {
				return cachekey.KeyParts[S]{}, err
			}
			acc = cachekey.KeyParts[S]{Subject: next.Subject, Parts: append(acc.Parts, next.Parts...)}
		}
		return acc, nil
	})
}
