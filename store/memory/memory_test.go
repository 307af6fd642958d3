package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-automation/aura/store"
)

func TestPutGet_RoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("hello")))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestGet_MissingKeyReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDelete_RemovesKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	require.NoError(t, s.Delete(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDelete_MissingKeyReturnsErrNotFound(t *testing.T) {
	s := New()
	err := s.Delete(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestList_FiltersByPrefix(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "run/1", []byte("x")))
	require.NoError(t, s.Put(ctx, "run/2", []byte("x")))
	require.NoError(t, s.Put(ctx, "schedule/1", []byte("x")))

	keys, err := s.List(ctx, "run/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run/1", "run/2"}, keys)
}

// TestPutGetRoundTripConsistency verifies that for any key/value pair,
// storing then retrieving returns the exact bytes written.
func TestPutGetRoundTripConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("put then get returns identical bytes", prop.ForAll(
		func(key, value string) bool {
			s := New()
			ctx := context.Background()
			if err := s.Put(ctx, key, []byte(value)); err != nil {
				return false
			}
			got, err := s.Get(ctx, key)
			return err == nil && string(got) == value
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
