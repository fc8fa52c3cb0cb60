package config

import (
	"fmt"
	"time"

	"github.com/relaycache/cacheproxy/internal/bodymatch"
	"github.com/relaycache/cacheproxy/internal/extractor"
	"github.com/relaycache/cacheproxy/internal/policy"
	"github.com/relaycache/cacheproxy/internal/predicate"
	"github.com/relaycache/cacheproxy/internal/subject"
)

// Endpoint is a compiled endpoint: everything a driver.Driver needs to
// decide cacheability, build a key, and classify a response, ready to run.
type Endpoint struct {
	Name       string
	KeyPrefix  string
	Evaluator  policy.Evaluator
	Classifier policy.Classifier
}

// Compile validates doc and compiles every endpoint into predicate,
// extractor, and policy objects. Errors are collected with the offending
// endpoint name so a misconfiguration is surfaced once at load time, never
// at request time.
func Compile(doc *Document) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(doc.Endpoints))
	for _, e := range doc.Endpoints {
		compiled, err := compileEndpoint(e)
		if err != nil {
			return nil, fmt.Errorf("config: endpoint %q: %w", e.Name, err)
		}
		out = append(out, compiled)
	}
	return out, nil
}

func compileEndpoint(e EndpointNode) (Endpoint, error) {
	reqPred, err := compileRequestAll(e.Request)
	if err != nil {
		return Endpoint{}, err
	}
	respPred, err := compileResponseAll(e.Response)
	if err != nil {
		return Endpoint{}, err
	}
	ext, err := compileExtractors(e.Extractors)
	if err != nil {
		return Endpoint{}, err
	}
	cfg, err := compilePolicy(e.Policy)
	if err != nil {
		return Endpoint{}, err
	}
	if cfg.Enabled && len(e.Extractors) == 0 {
		return Endpoint{}, fmt.Errorf("extractors: an enabled endpoint must have at least one extractor leaf, or every request produces the same empty key")
	}

	return Endpoint{
		Name:      e.Name,
		KeyPrefix: e.KeyPrefix,
		Evaluator: policy.Evaluator{
			Config:     cfg,
			KeyPrefix:  e.KeyPrefix,
			Predicates: reqPred,
			Extractors: ext,
		},
		Classifier: policy.Classifier{Predicates: respPred},
	}, nil
}

func compilePolicy(n PolicyNode) (policy.Config, error) {
	if n.Enabled == nil {
		return policy.Config{Enabled: false}, nil
	}
	ttl, err := time.ParseDuration(n.Enabled.TTL)
	if err != nil {
		return policy.Config{}, fmt.Errorf("policy.enabled.ttl: %w", err)
	}
	var staleTTL *time.Duration
	if n.Enabled.StaleTTL != "" {
		d, err := time.ParseDuration(n.Enabled.StaleTTL)
		if err != nil {
			return policy.Config{}, fmt.Errorf("policy.enabled.stale_ttl: %w", err)
		}
		staleTTL = &d
	}
	mode := policy.ModeBlockAndRefresh
	switch n.Enabled.RefreshMode {
	case "", "block_and_refresh":
		mode = policy.ModeBlockAndRefresh
	case "serve_stale_and_refresh":
		mode = policy.ModeServeStaleAndRefresh
	default:
		return policy.Config{}, fmt.Errorf("policy.enabled.refresh_mode: unknown variant %q", n.Enabled.RefreshMode)
	}
	cfg := policy.Config{Enabled: true, TTL: ttl, StaleTTL: staleTTL, RefreshMode: mode}
	if err := cfg.Validate(); err != nil {
		return policy.Config{}, err
	}
	return cfg, nil
}

func compileRequestAll(nodes []RequestNode) (predicate.Predicate[*subject.Request], error) {
	ps := make([]predicate.Predicate[*subject.Request], 0, len(nodes))
	for _, n := range nodes {
		p, err := compileRequestNode(n)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return predicate.All(ps...), nil
}

func compileRequestNode(n RequestNode) (predicate.Predicate[*subject.Request], error) {
	count := fieldCount(n.Method != nil, n.Path != nil, n.Header != nil, n.HeaderIn != nil,
		n.Query != nil, n.QueryIn != nil, n.Body != nil, len(n.And) > 0, len(n.Or) > 0, len(n.Not) > 0)
	if count != 1 {
		return nil, errAmbiguousNode("request", fmt.Sprintf("%+v", n))
	}

	switch {
	case n.Method != nil:
		return predicate.Method(*n.Method), nil
	case n.Path != nil:
		return predicate.Path(*n.Path), nil
	case n.Header != nil:
		op, err := parseOp(n.Header.Op)
		if err != nil {
			return nil, err
		}
		return predicate.Header(n.Header.Name, n.Header.Value, op), nil
	case n.HeaderIn != nil:
		return predicate.HeaderIn(n.HeaderIn.Name, n.HeaderIn.Set), nil
	case n.Query != nil:
		op, err := parseOp(n.Query.Op)
		if err != nil {
			return nil, err
		}
		return predicate.Query(n.Query.Name, n.Query.Value, op), nil
	case n.QueryIn != nil:
		return predicate.QueryIn(n.QueryIn.Name, n.QueryIn.Set), nil
	case n.Body != nil:
		expr, op, want, err := compileBodyMatch(n.Body)
		if err != nil {
			return nil, err
		}
		return predicate.Body(expr, op, want), nil
	case len(n.And) > 0:
		ps, err := compileRequestList(n.And)
		if err != nil {
			return nil, err
		}
		return predicate.All(ps...), nil
	case len(n.Or) > 0:
		ps, err := compileRequestList(n.Or)
		if err != nil {
			return nil, err
		}
		return predicate.Any(ps...), nil
	default: // n.Not
		if len(n.Not) != 2 {
			return nil, fmt.Errorf("request.not: expects exactly two operands [p, q], got %d", len(n.Not))
		}
		p, err := compileRequestNode(n.Not[0])
		if err != nil {
			return nil, err
		}
		q, err := compileRequestNode(n.Not[1])
		if err != nil {
			return nil, err
		}
		return predicate.Not(p, q), nil
	}
}

func compileRequestList(nodes []RequestNode) ([]predicate.Predicate[*subject.Request], error) {
	ps := make([]predicate.Predicate[*subject.Request], 0, len(nodes))
	for _, n := range nodes {
		p, err := compileRequestNode(n)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

func compileResponseAll(nodes []ResponseNode) (predicate.Predicate[*subject.Response], error) {
	ps := make([]predicate.Predicate[*subject.Response], 0, len(nodes))
	for _, n := range nodes {
		p, err := compileResponseNode(n)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return predicate.All(ps...), nil
}

func compileResponseNode(n ResponseNode) (predicate.Predicate[*subject.Response], error) {
	count := fieldCount(n.Status != nil, n.Body != nil, len(n.And) > 0, len(n.Or) > 0, len(n.Not) > 0)
	if count != 1 {
		return nil, errAmbiguousNode("response", fmt.Sprintf("%+v", n))
	}

	switch {
	case n.Status != nil:
		return predicate.Status(*n.Status), nil
	case n.Body != nil:
		expr, op, want, err := compileBodyMatch(n.Body)
		if err != nil {
			return nil, err
		}
		return predicate.ResponseBody(expr, op, want), nil
	case len(n.And) > 0:
		ps, err := compileResponseList(n.And)
		if err != nil {
			return nil, err
		}
		return predicate.All(ps...), nil
	case len(n.Or) > 0:
		ps, err := compileResponseList(n.Or)
		if err != nil {
			return nil, err
		}
		return predicate.Any(ps...), nil
	default: // n.Not
		if len(n.Not) != 2 {
			return nil, fmt.Errorf("response.not: expects exactly two operands [p, q], got %d", len(n.Not))
		}
		p, err := compileResponseNode(n.Not[0])
		if err != nil {
			return nil, err
		}
		q, err := compileResponseNode(n.Not[1])
		if err != nil {
			return nil, err
		}
		return predicate.Not(p, q), nil
	}
}

func compileResponseList(nodes []ResponseNode) ([]predicate.Predicate[*subject.Response], error) {
	ps := make([]predicate.Predicate[*subject.Response], 0, len(nodes))
	for _, n := range nodes {
		p, err := compileResponseNode(n)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

func compileBodyMatch(b *BodyMatch) (*bodymatch.Expr, predicate.Op, string, error) {
	expr, err := bodymatch.Compile(bodymatch.ParsingJSON, b.Expression)
	if err != nil {
		return nil, 0, "", fmt.Errorf("body.expression %q: %w", b.Expression, err)
	}
	op, err := parseOp(b.Op)
	if err != nil {
		return nil, 0, "", err
	}
	return expr, op, b.Want, nil
}

func compileExtractors(nodes []ExtractorNode) (extractor.Extractor[*subject.Request], error) {
	exts := make([]extractor.Extractor[*subject.Request], 0, len(nodes))
	for _, n := range nodes {
		e, err := compileExtractorNode(n)
		if err != nil {
			return nil, err
		}
		exts = append(exts, e)
	}
	return extractor.Chain(exts...), nil
}

func compileExtractorNode(n ExtractorNode) (extractor.Extractor[*subject.Request], error) {
	count := fieldCount(n.Method != nil, n.Path != nil, n.Header != nil, n.Query != nil, n.Body != nil)
	if count != 1 {
		return nil, errAmbiguousNode("extractor", fmt.Sprintf("%+v", n))
	}
	switch {
	case n.Method != nil:
		return extractor.Method(), nil
	case n.Path != nil:
		return extractor.Path(*n.Path), nil
	case n.Header != nil:
		return extractor.Header(*n.Header), nil
	case n.Query != nil:
		return extractor.Query(n.Query.Name), nil
	default: // n.Body
		expr, err := bodymatch.Compile(bodymatch.ParsingJSON, n.Body.Expression)
		if err != nil {
			return nil, fmt.Errorf("extractors.body.expression %q: %w", n.Body.Expression, err)
		}
		return extractor.Body(n.Body.Label, expr), nil
	}
}

func parseOp(s string) (predicate.Op, error) {
	switch s {
	case "eq":
		return predicate.OpEq, nil
	case "exists":
		return predicate.OpExists, nil
	case "in":
		return predicate.OpIn, nil
	default:
		return 0, fmt.Errorf("unknown op %q: must be one of eq, exists, in", s)
	}
}
