package subject

import (
	"bytes"
	"encoding/gob"
	"io"
	"net/http"
	"sync"
)

// Response is the subject borrowed by response-side predicates. It wraps an
// upstream *http.Response, materializing the body at most once just like
// Request.
type Response struct {
	StatusCode int
	Head       http.Header

	bodyOnce sync.Once
	bodyBuf  []byte
	bodyErr  error
	source   io.ReadCloser
}

// NewResponse wraps an upstream response. body may be nil if the body was
// already drained into bytes by the caller (use NewResponseFromBytes then).
func NewResponse(statusCode int, header http.Header, body io.ReadCloser) *Response {
	return &Response{StatusCode: statusCode, Head: header, source: body}
}

// NewResponseFromBytes wraps an already-materialized response body.
func NewResponseFromBytes(statusCode int, header http.Header, body []byte) *Response {
	r := &Response{StatusCode: statusCode, Head: header}
	r.bodyOnce.Do(func() {})
	r.bodyBuf = body
	return r
}

// Body materializes the response body exactly once.
func (s *Response) Body() ([]byte, error) {
	s.bodyOnce.Do(func() {
		if s.source == nil {
			return
		}
		s.bodyBuf, s.bodyErr = io.ReadAll(s.source)
		_ = s.source.Close()
	})
	if s.bodyErr != nil {
		return nil, s.bodyErr
	}
	return s.bodyBuf, nil
}

// Clone returns a deep-enough copy (header + materialized body bytes) safe
// to hand to a second consumer (e.g. one copy to WriteCache, one returned
// to the caller).
func (s *Response) Clone() *Response {
	body, _ := s.Body()
	bodyCopy := append([]byte(nil), body...)
	return NewResponseFromBytes(s.StatusCode, s.Head.Clone(), bodyCopy)
}

// CachedPayload is the classifier's Cached associated type: the minimal
// shape a Backend needs to reconstruct a servable HTTP response.
type CachedPayload struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ToResponse reconstructs a Response from a stored payload.
func (p *CachedPayload) ToResponse() *Response {
	return NewResponseFromBytes(p.StatusCode, p.Header.Clone(), append([]byte(nil), p.Body...))
}

// FromResponse captures a Response as a payload ready for storage.
func FromResponse(r *Response) (*CachedPayload, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	return &CachedPayload{
		StatusCode: r.StatusCode,
		Header:     r.Head.Clone(),
		Body:       append([]byte(nil), body...),
	}, nil
}

// GobEncode/GobDecode pin CachedPayload's wire shape so backends that
// serialize with encoding/gob (e.g. rediscache) round-trip it independent
// of http.Header's internal map representation.
type payloadWire struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

func (p *CachedPayload) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	wire := payloadWire{StatusCode: p.StatusCode, Header: map[string][]string(p.Header), Body: p.Body}
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *CachedPayload) GobDecode(data []byte) error {
	var wire payloadWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}
	p.StatusCode = wire.StatusCode
	p.Header = http.Header(wire.Header)
	p.Body = wire.Body
	return nil
}
