// Package rediscache implements a Backend on top of a redigo connection
// pool: redigo.Conn-driven GET/SET/DEL calls against a gob-encoded
// cache.CachedValue so the stale window survives the round trip. Redis'
// own TTL (PEXPIRE) only gives a hard cutoff, so the StoredAt/TTL/StaleTTL
// fields travel alongside the payload in the same encoded value to make
// cache.CacheState.Stale observable.
package rediscache

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/relaycache/cacheproxy/internal/cache"
	"github.com/relaycache/cacheproxy/internal/cachekey"
)

// Backend stores CachedValue[V] entries in Redis via a pooled connection.
type Backend[V any] struct {
	Pool      *redis.Pool
	KeyPrefix string
}

// New builds a Backend over an existing redigo pool. keyPrefix namespaces
// keys so the cache entries don't collide with unrelated data in the same
// Redis instance.
func New[V any](pool *redis.Pool, keyPrefix string) *Backend[V] {
	if keyPrefix == "" {
		keyPrefix = "httpcache:"
	}
	return &Backend[V]{Pool: pool, KeyPrefix: keyPrefix}
}

func (b *Backend[V]) redisKey(key cachekey.CacheKey) string {
	return b.KeyPrefix + string(key)
}

// Start verifies connectivity with a PING, surfacing a misconfigured pool
// at construction time rather than on the first request.
func (b *Backend[V]) Start(ctx context.Context) error {
	conn, err := b.Pool.GetContext(ctx)
	if err != nil {
		return cache.NewError("start", "", err)
	}
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return cache.NewError("start", "", err)
	}
	return nil
}

func (b *Backend[V]) Get(ctx context.Context, key cachekey.CacheKey) (cache.CacheState[V], error) {
	conn, err := b.Pool.GetContext(ctx)
	if err != nil {
		return cache.CacheState[V]{}, cache.NewError("get", key, err)
	}
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("GET", b.redisKey(key)))
	if err == redis.ErrNil {
		return cache.MissState[V](), nil
	}
	if err != nil {
		return cache.CacheState[V]{}, cache.NewError("get", key, err)
	}

	var value cache.CachedValue[V]
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&value); err != nil {
		return cache.CacheState[V]{}, cache.NewError("deserialize", key, err)
	}

	now := time.Now()
	if value.Expired(now) {
		_, _ = conn.Do("DEL", b.redisKey(key))
		return cache.MissState[V](), nil
	}
	if value.Stale(now) {
		return cache.StaleState(&value), nil
	}
	return cache.ActualState(&value), nil
}

func (b *Backend[V]) Set(ctx context.Context, key cachekey.CacheKey, value *cache.CachedValue[V], ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(*value); err != nil {
		return cache.NewError("serialize", key, err)
	}

	conn, err := b.Pool.GetContext(ctx)
	if err != nil {
		return cache.NewError("set", key, err)
	}
	defer conn.Close()

	expirySeconds := int(expiryFor(value).Seconds())
	if expirySeconds <= 0 {
		expirySeconds = 1
	}
	if _, err := conn.Do("SET", b.redisKey(key), buf.Bytes(), "EX", expirySeconds); err != nil {
		return cache.NewError("set", key, err)
	}
	return nil
}

func (b *Backend[V]) Delete(ctx context.Context, key cachekey.CacheKey) (cache.DeleteStatus, error) {
	conn, err := b.Pool.GetContext(ctx)
	if err != nil {
		return 0, cache.NewError("delete", key, err)
	}
	defer conn.Close()

	n, err := redis.Int(conn.Do("DEL", b.redisKey(key)))
	if err != nil {
		return 0, cache.NewError("delete", key, err)
	}
	if n == 0 {
		return cache.Missing, nil
	}
	return cache.Deleted, nil
}

// expiryFor picks the hard TTL Redis itself should enforce: the stale
// window when present, otherwise the plain TTL, so a key hit by
// cache.CacheState.Stale isn't evicted by Redis before the driver can see
// it.
func expiryFor[V any](value *cache.CachedValue[V]) time.Duration {
	if value.StaleTTL != nil {
		return *value.StaleTTL
	}
	return value.TTL
}
