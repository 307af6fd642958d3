package mongo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aura-automation/aura/store"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongoDB() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
		return
	}
}

func getMongoStore(t *testing.T) *Store {
	t.Helper()
	if testMongoClient == nil && !skipMongoTests {
		setupMongoDB()
	}
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	collection := testMongoClient.Database("aura_test").Collection(t.Name())
	require.NoError(t, collection.Drop(context.Background()))
	return New(collection)
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := getMongoStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run/1", []byte(`{"status":"running"}`)))
	v, err := s.Get(ctx, "run/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running"}`, string(v))
}

func TestGet_MissingKeyReturnsErrNotFound(t *testing.T) {
	s := getMongoStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPut_UpsertsExistingKey(t *testing.T) {
	s := getMongoStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run/1", []byte("v1")))
	require.NoError(t, s.Put(ctx, "run/1", []byte("v2")))

	v, err := s.Get(ctx, "run/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
}

func TestDelete_RemovesKey(t *testing.T) {
	s := getMongoStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run/1", []byte("v1")))
	require.NoError(t, s.Delete(ctx, "run/1"))

	_, err := s.Get(ctx, "run/1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestList_FiltersByPrefix(t *testing.T) {
	s := getMongoStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run/1", []byte("x")))
	require.NoError(t, s.Put(ctx, "run/2", []byte("x")))
	require.NoError(t, s.Put(ctx, "schedule/1", []byte("x")))

	keys, err := s.List(ctx, "run/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run/1", "run/2"}, keys)
}
