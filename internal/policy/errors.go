package policy

import "errors"

// Configuration errors, detected at construction and surfaced once, never
// at request time.
var (
	ErrNonPositiveTTL = errors.New("policy: ttl must be > 0")
	ErrStaleBelowTTL  = errors.New("policy: stale_ttl must be >= ttl")
)
