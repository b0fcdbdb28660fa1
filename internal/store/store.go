// Package store is the engine's durable state: the sync cursor, per-release
// fingerprints, and per-changelog-entry markers, kept in a shared key-value
// service with optional TTLs.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crateio/carrier/internal/config"
)

// Store wraps a redis connection with an optional global key prefix. All
// keys passing through it are plain colon-delimited strings.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to the configured redis instance and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("store: connecting to redis at %s: %w", cfg.Addr, err)
	}

	return New(rdb, cfg.Prefix), nil
}

// New wraps an existing redis client. Exported for tests, which point it at
// a miniredis instance.
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Get returns the value at key. The second return value is false when the
// key does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes key with no expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// SetEx writes key with a time-to-live.
func (s *Store) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store: setex %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefix + k
	}
	if err := s.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Keys returns every key matching the glob pattern, with the store prefix
// stripped from the results.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	found, err := s.rdb.Keys(ctx, s.prefix+pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", pattern, err)
	}
	out := make([]string, 0, len(found))
	for _, k := range found {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out, nil
}
