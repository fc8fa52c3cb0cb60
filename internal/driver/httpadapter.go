package driver

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relaycache/cacheproxy/internal/subject"
)

// hopHeaders lists hop-by-hop headers that must never be forwarded or
// cached as-is, per RFC 7230 6.1. This list is standard, not something
// any particular library owns.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPUpstream adapts an *http.Transport (or any http.RoundTripper) into
// the driver's Upstream contract, rewriting the outbound request for a
// fixed target: strips hop-by-hop headers, sets X-Forwarded-*, and
// rewrites scheme/host/path.
type HTTPUpstream struct {
	Target    *url.URL
	Transport http.RoundTripper
}

// NewHTTPUpstream builds an Upstream that forwards to target using the
// given transport (a *http.Transport tuned with sane dial/idle timeouts if
// transport is nil).
func NewHTTPUpstream(target *url.URL, transport http.RoundTripper) *HTTPUpstream {
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	return &HTTPUpstream{Target: target, Transport: transport}
}

func (u *HTTPUpstream) RoundTrip(ctx context.Context, req *subject.Request) (*subject.Response, error) {
	outbound := req.Clone(ctx)
	directRequest(outbound, u.Target)

	upstreamResp, err := u.Transport.RoundTrip(outbound)
	if err != nil {
		return nil, err
	}
	defer upstreamResp.Body.Close()

	body, err := io.ReadAll(upstreamResp.Body)
	if err != nil {
		return nil, err
	}
	header := sanitizeHeaders(upstreamResp.Header.Clone())
	return subject.NewResponseFromBytes(upstreamResp.StatusCode, header, body), nil
}

// directRequest rewrites the request URL, host, and hop-by-hop headers
// before sending it to the upstream target.
func directRequest(outReq *http.Request, target *url.URL) {
	outReq.URL.Scheme = target.Scheme
	outReq.URL.Host = target.Host
	outReq.URL.Path = singleJoiningSlash(target.Path, outReq.URL.Path)

	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(outReq.RemoteAddr); err == nil && clientIP != "" {
		if xff := outReq.Header.Get("X-Forwarded-For"); xff == "" {
			outReq.Header.Set("X-Forwarded-For", clientIP)
		} else {
			outReq.Header.Set("X-Forwarded-For", xff+", "+clientIP)
		}
	}
	outReq.Header.Set("X-Forwarded-Proto", schemeOf(outReq))
	outReq.Header.Set("X-Forwarded-Host", outReq.Host)
	outReq.Host = target.Host
}

func schemeOf(req *http.Request) string {
	if req.TLS != nil {
		return "https"
	}
	if sch := req.Header.Get("X-Forwarded-Proto"); sch != "" {
		return sch
	}
	return "http"
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	default:
		return a + b
	}
}

func sanitizeHeaders(h http.Header) http.Header {
	for _, hop := range hopHeaders {
		h.Del(hop)
	}
	return h
}

// writeResponse copies a subject.Response onto an http.ResponseWriter,
// stamping the cache outcome and, when age is non-nil (a hit or a stale
// serve), the Age header - mirroring the
// teacher's cache-hit response path in ServeHTTP.
func writeResponse(w http.ResponseWriter, resp *subject.Response, outcome Outcome, age *time.Duration) {
	dst := w.Header()
	for k, vv := range resp.Head {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	body, _ := resp.Body()
	if _, ok := dst["Content-Length"]; !ok {
		dst.Set("Content-Length", strconv.Itoa(len(body)))
	}
	dst.Set("X-Cache", string(outcome))
	if age != nil {
		seconds := int(age.Seconds())
		if seconds < 0 {
			seconds = 0
		}
		dst.Set("Age", strconv.Itoa(seconds))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
