// Package bodymatch evaluates a JSONPath expression against a materialized
// request or response body, used by both the Body predicate leaves and the
// Body extractor leaf. It is backed by github.com/ohler55/ojg/jp rather
// than a hand-rolled path evaluator.
package bodymatch

import (
	"encoding/json"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Parsing identifies the body encoding a path expression is evaluated
// against. Only JSON is specified today; the type exists so a future
// encoding doesn't change the Body leaf's signature.
type Parsing int

const (
	ParsingJSON Parsing = iota
)

// Expr is a compiled path expression ready for repeated evaluation.
type Expr struct {
	parsing Parsing
	path    jp.Expr
	raw     string
}

// Compile parses a JSONPath expression such as "$.user.id" once, so it can
// be reused across every request/response the predicate or extractor sees.
func Compile(parsing Parsing, expression string) (*Expr, error) {
	switch parsing {
	case ParsingJSON:
		path, err := jp.ParseString(expression)
		if err != nil {
			return nil, fmt.Errorf("bodymatch: compile %q: %w", expression, err)
		}
		return &Expr{parsing: parsing, path: path, raw: expression}, nil
	default:
		return nil, fmt.Errorf("bodymatch: unsupported parsing %d", parsing)
	}
}

func (e *Expr) String() string { return e.raw }

// First evaluates the compiled expression against body and returns the
// first matched value, stringified, and whether anything matched at all.
// A body that fails to parse, or a path with no match, both report found=false
// rather than erroring — an unmatched body predicate is simply NonCacheable,
// not a pipeline failure.
func (e *Expr) First(body []byte) (value string, found bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", false
	}
	results := e.path.Get(data)
	if len(results) == 0 {
		return "", false
	}
	return stringify(results[0]), true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
