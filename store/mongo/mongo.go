// Package mongo provides a MongoDB implementation of the facade store.
//
// This implementation persists facade records (run-status snapshots) to
// MongoDB for durability across restarts, suitable for production
// deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aura-automation/aura/store"
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	collection *mongo.Collection
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// document is the MongoDB representation of a single key/value record.
type document struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

// New creates a new MongoDB store using the provided collection. The
// collection should be from a connected mongo.Client.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Put stores or replaces the value at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, document{Key: key, Value: value}, opts)
	if err != nil {
		return fmt.Errorf("mongodb put %q: %w", key, err)
	}
	return nil
}

// Get retrieves the value at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get %q: %w", key, err)
	}
	return doc.Value, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("mongodb delete %q: %w", key, err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// List returns every key with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + escapeRegex(prefix)}}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongodb list %q: %w", prefix, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []struct {
		Key string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list %q decode: %w", prefix, err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key
	}
	return out, nil
}

// escapeRegex escapes special regex characters for safe use in MongoDB
// regex queries.
func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, char := range special {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}
	return result
}
