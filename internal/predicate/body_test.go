package predicate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaycache/cacheproxy/internal/bodymatch"
	"github.com/relaycache/cacheproxy/internal/subject"
)

func TestBodyPredicate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"user":{"plan":"gold"}}`))
	s := subject.NewRequest(req)

	expr, err := bodymatch.Compile(bodymatch.ParsingJSON, "$.user.plan")
	if err != nil {
		t.Fatal(err)
	}

	r, err := Body(expr, OpEq, "gold").Check(context.Background(), s)
	if err != nil || !r.Cacheable {
		t.Fatalf("body predicate should match: %+v, err=%v", r, err)
	}

	r, err = Body(expr, OpEq, "silver").Check(context.Background(), s)
	if err != nil || r.Cacheable {
		t.Fatalf("body predicate should not match a different value: %+v, err=%v", r, err)
	}
}

func TestResponseBodyPredicate(t *testing.T) {
	resp := subject.NewResponseFromBytes(200, http.Header{}, []byte(`{"status":"ok"}`))

	expr, err := bodymatch.Compile(bodymatch.ParsingJSON, "$.status")
	if err != nil {
		t.Fatal(err)
	}

	r, err := ResponseBody(expr, OpEq, "ok").Check(context.Background(), resp)
	if err != nil || !r.Cacheable {
		t.Fatalf("response body predicate should match: %+v, err=%v", r, err)
	}
}

func TestStatusPredicate(t *testing.T) {
	resp := subject.NewResponseFromBytes(200, http.Header{}, nil)
	if r, _ := Status(200).Check(context.Background(), resp); !r.Cacheable {
		t.Fatal("Status(200) should match a 200 response")
	}
	if r, _ := Status(404).Check(context.Background(), resp); r.Cacheable {
		t.Fatal("Status(404) should not match a 200 response")
	}
}
