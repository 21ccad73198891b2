// Package kv wraps the shared Redis store used for intel caches, stateful
// feature counters, cooldowns, and execution locks.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by GetJSON when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a thin go-redis wrapper exposing only the primitives the
// back-plane relies on: GET/SETEX JSON, INCR, and SET NX EX claims.
type Store struct {
	rdb *redis.Client
}

// Open connects using a redis:// or rediss:// URL (the latter enables TLS)
// and verifies connectivity with a short ping.
func Open(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("Redis connected", "addr", opts.Addr, "tls", opts.TLSConfig != nil)
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an existing client (used by tests with miniredis).
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close shuts down the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

// Ping reports store reachability.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// GetJSON unmarshals the value at key into out. Returns ErrNotFound when
// the key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, out any) error {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v at key with the given TTL (0 means no expiry).
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, body, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Incr atomically increments the counter key and returns the new value.
// Counter keys carry no TTL; within a process lifetime they are
// monotonically non-decreasing.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

// TryClaim attempts SET key NX EX ttl. It returns true when the claim was
// won, false when the key already exists. Cooldowns and execution locks
// both ride on this single primitive.
func (s *Store) TryClaim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes a claimed key. Best-effort: callers log but do not fail
// on release errors.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// CounterKey builds the per-agent stateful-feature counter key.
func CounterKey(agentID, name string) string {
	return "counter:" + agentID + ":" + name
}
