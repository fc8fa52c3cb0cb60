package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaycache/cacheproxy/internal/cachekey"
)

// Backend is the narrow asynchronous contract the driver consumes. Start is
// idempotent and is called once before the first Get/Set. Get MUST return
// Miss for absent or expired entries; it MAY return Stale if a stale
// window applies. Set overwrites any prior value for key. Serialization of
// V is entirely the backend's responsibility.
type Backend[V any] interface {
	Start(ctx context.Context) error
	Get(ctx context.Context, key cachekey.CacheKey) (CacheState[V], error)
	Set(ctx context.Context, key cachekey.CacheKey, value *CachedValue[V], ttl time.Duration) error
	Delete(ctx context.Context, key cachekey.CacheKey) (DeleteStatus, error)
}

// Locker is an optional capability a Backend may additionally implement to
// offer single-flight-style coalescing of its own writes. The driver never
// calls Lock itself (see DESIGN.md's Open Question on single-flight); it is
// exposed purely so a Backend implementation can use it internally or a
// direct caller can opt in.
type Locker interface {
	Lock(ctx context.Context, key cachekey.CacheKey, ttl time.Duration) (LockStatus, error)
}

// Error is a Backend failure. Kinds: Get failures are treated by the
// driver as CacheError (leading to an upstream poll); Set failures are
// logged and swallowed; Delete/Lock failures propagate only to their
// direct, non-hot-path caller. Serialization failures are reported as
// Error with Op "serialize"/"deserialize" and treated as a backend error
// for both reads and writes.
type Error struct {
	Op  string // "get", "set", "delete", "lock", "serialize", "deserialize", "start"
	Key cachekey.CacheKey
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a Backend Error for the given operation and key.
func NewError(op string, key cachekey.CacheKey, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}

// IsBackendError reports whether err is (or wraps) a Backend Error.
func IsBackendError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}
