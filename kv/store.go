// Package kv wraps the Redis client with the primitive set the cache and
// stream layers rely on: strings with optional expiry, field maps with atomic
// counter increments, unordered sets, and append-only streams. Every other
// package reaches persistence only through this adapter.
//
// All operations are single-key atomic. Multi-key sequences are NOT
// transactional; callers follow the write-ordering discipline documented in
// the cache package to stay recoverable.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key or member does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Config configures the store connection.
type Config struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0").
	URL string
}

// Store is a typed adapter over a Redis-compatible key-value server.
type Store struct {
	client *redis.Client
}

// NewStore connects to the configured server and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	url := cfg.URL
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: connect: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreFromClient wraps an existing client. Used by tests to point the
// store at a miniredis instance.
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the string value at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a string value. A zero ttl persists the key indefinitely.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

// SetNX stores a value only if the key does not already exist. Returns false
// without error when the key was already present.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Del removes one or more keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("kv: del %v: %w", keys, err)
	}
	return nil
}

// HSet writes fields into the map at key, creating it if absent.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("kv: hset %s: %w", key, err)
	}
	return nil
}

// HGetAll returns every field of the map at key. A missing key yields an
// empty map, matching Redis semantics; callers decide whether that means
// "absent".
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: hgetall %s: %w", key, err)
	}
	return fields, nil
}

// HIncrBy atomically increments an integer field, creating key and field at
// zero when absent, and returns the new value.
func (s *Store) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	val, err := s.client.HIncrBy(ctx, key, field, n).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: hincrby %s.%s: %w", key, field, err)
	}
	return val, nil
}

// SAdd adds members to the set at key.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("kv: sadd %s: %w", key, err)
	}
	return nil
}

// SRem removes members from the set at key.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("kv: srem %s: %w", key, err)
	}
	return nil
}

// SMembers returns every member of the set at key. A missing key yields an
// empty slice.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: smembers %s: %w", key, err)
	}
	return members, nil
}

// XAdd appends an entry to the stream and returns the assigned monotonic id.
func (s *Store) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("kv: xadd %s: %w", stream, err)
	}
	return id, nil
}

// StreamEntry is one raw entry read from a stream.
type StreamEntry struct {
	ID     string
	Values map[string]interface{}
}

// XReadFrom reads up to count entries strictly after fromID in ascending
// order. fromID "" or "0" reads from the beginning of the stream.
func (s *Store) XReadFrom(ctx context.Context, stream, fromID string, count int64) ([]StreamEntry, error) {
	start := "-"
	if fromID != "" && fromID != "0" {
		// "(" makes the range exclusive of the cursor itself.
		start = "(" + fromID
	}

	msgs, err := s.client.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: xrange %s from %s: %w", stream, fromID, err)
	}

	entries := make([]StreamEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = StreamEntry{ID: m.ID, Values: m.Values}
	}
	return entries, nil
}

// XLen returns the number of entries in the stream.
func (s *Store) XLen(ctx context.Context, stream string) (int64, error) {
	n, err := s.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: xlen %s: %w", stream, err)
	}
	return n, nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("kv: expire %s: %w", key, err)
	}
	return nil
}

// Persist removes any TTL from a key.
func (s *Store) Persist(ctx context.Context, key string) error {
	if err := s.client.Persist(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv: persist %s: %w", key, err)
	}
	return nil
}
