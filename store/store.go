// Package store defines the persistence layer used to make facade state
// (run-status snapshots) durable across process restarts and visible
// across a multi-node deployment.
//
// The Store interface abstracts a flat, versionless key/value namespace,
// allowing different backend implementations. Available implementations:
//
//   - memory: in-process store for development, testing, and single-node
//     deployments where persistence across restarts is not required
//   - redis: github.com/redis/go-redis/v9-backed store, suited to status
//     data that needs low-latency access; values are stored with no expiry
//   - mongo: go.mongodb.org/mongo-driver/v2-backed store, suited to
//     schedule/session records that need durable, queryable persistence
//
// To add a new implementation, create a subpackage that implements Store
// and returns ErrNotFound for missing keys.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key is not present in the store.
var ErrNotFound = errors.New("store: key not found")

// Store defines the persistence layer for opaque, JSON-encoded records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores or replaces the value at key.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves the value at key. Returns ErrNotFound if key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Returns ErrNotFound if key is absent.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}
