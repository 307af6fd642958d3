package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PutJSON marshals v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %q: %w", key, err)
	}
	return s.Put(ctx, key, b)
}

// GetJSON retrieves the value at key and unmarshals it into v. It reports
// found=false, with no error, when key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (found bool, err error) {
	b, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("store: unmarshal %q: %w", key, err)
	}
	return true, nil
}
