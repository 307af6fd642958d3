// Package redis provides a Redis implementation of the facade store, built
// directly on github.com/redis/go-redis/v9 rather than a Pulse replicated
// map: facade status/session records are node-local scratch data recovered
// on restart, not a cluster-coordinated value that needs rmap's
// compare-and-swap semantics.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aura-automation/aura/store"
)

// Store is a Redis implementation of store.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new Redis store using the given client. Every key is
// namespaced under keyPrefix (e.g. "aura:") to keep it from colliding with
// unrelated keys in a shared Redis instance.
func New(rdb *redis.Client, keyPrefix string) *Store {
	return &Store{rdb: rdb, prefix: keyPrefix}
}

func (s *Store) namespaced(key string) string {
	return s.prefix + key
}

// Put stores or replaces the value at key with no expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.namespaced(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}
	return nil
}

// Get retrieves the value at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.namespaced(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return b, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.namespaced(key)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// List returns every key with the given prefix, scanning rather than
// blocking the server with KEYS.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, s.namespaced(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis list %q: %w", prefix, err)
	}
	return out, nil
}
