package predicate

import (
	"context"

	"github.com/relaycache/cacheproxy/internal/subject"
)

// Status is Cacheable iff the response status code matches exactly.
func Status(code int) Predicate[*subject.Response] {
	return Func[*subject.Response](func(_ context.Context, s *subject.Response) (Result[*subject.Response], error) {
		return Result[*subject.Response]{Subject: s, Cacheable: s.StatusCode == code}, nil
	})
}
