// Package cachekey implements the ordered KeyPart accumulator and the
// deterministic CacheKey serialization that extractors build up.
package cachekey

import (
	"net/url"
	"strings"
)

// KeyPart is a single labeled fragment contributing to a CacheKey. HasValue
// distinguishes a part whose value is genuinely absent from the request
// (serialized as empty) from one whose value happens to be the empty string.
type KeyPart struct {
	Name     string
	Value    string
	HasValue bool
}

// Part constructs a KeyPart with a present value.
func Part(name, value string) KeyPart {
	return KeyPart{Name: name, Value: value, HasValue: true}
}

// MissingPart constructs a KeyPart whose value was not found on the subject.
func MissingPart(name string) KeyPart {
	return KeyPart{Name: name, HasValue: false}
}

// KeyParts pairs the subject an extractor is still carrying with the ordered
// fragments accumulated so far. Subject is generic so request and response
// extractor chains share the same accumulator shape.
type KeyParts[S any] struct {
	Subject S
	Parts   []KeyPart
}

// Append returns a new KeyParts with extra parts appended, leaving the
// receiver's backing slice untouched so concurrent extractor chains sharing
// a prefix never alias each other's storage.
func (kp KeyParts[S]) Append(parts ...KeyPart) KeyParts[S] {
	out := make([]KeyPart, 0, len(kp.Parts)+len(parts))
	out = append(out, kp.Parts...)
	out = append(out, parts...)
	return KeyParts[S]{Subject: kp.Subject, Parts: out}
}

// CacheKey is the canonical, deterministic string identifier for a cache
// entry: "<prefix>::name1=value1&name2=value2&...". Two KeyPart sequences
// that are logically equal always serialize to the same CacheKey.
type CacheKey string

// Build serializes an ordered KeyPart sequence under the given prefix. Parts
// are emitted in accumulation order (never sorted) per the extractor
// composition order; an absent value is serialized as empty.
func Build(prefix string, parts []KeyPart) CacheKey {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("::")
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		if p.HasValue {
			b.WriteString(url.QueryEscape(p.Value))
		}
	}
	return CacheKey(b.String())
}

// Empty reports whether the serialized key carries no fragments at all,
// i.e. the extractor chain produced nothing beyond "prefix::" - a key error.
func Empty(prefix string, parts []KeyPart) bool {
	return len(parts) == 0
}
