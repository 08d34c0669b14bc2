package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/testutil"
)

type fakeCollection struct {
	docs   map[string]bson.D
	err    error
	filter interface{}
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.filter = filter
	if f.err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.err, nil)
	}
	id, _ := filter.(bson.D)[0].Value.(string)
	doc, ok := f.docs[id]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func newTestBackend(coll *fakeCollection) (*Backend, *string) {
	var used string
	return &Backend{
		collection: func(name string) collection {
			used = name
			return coll
		},
		log: testutil.NewMockLogger(),
	}, &used
}

func TestFetch_Document(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	coll := &fakeCollection{docs: map[string]bson.D{
		"orders": {
			{Key: "_id", Value: "orders"},
			{Key: "vault-key", Value: "config data works"},
			{Key: "workers", Value: int32(4)},
			{Key: "db", Value: bson.D{{Key: "host", Value: "db.internal"}}},
			{Key: "hosts", Value: bson.A{"a", "b"}},
			{Key: "created", Value: primitive.NewDateTimeFromTime(created)},
		},
	}}
	backend, used := newTestBackend(coll)

	got, err := backend.Fetch(context.Background(), "settings/orders")
	require.NoError(t, err)

	assert.Equal(t, "settings", *used)
	assert.NotContains(t, got, "_id")
	assert.Equal(t, "config data works", got["vault-key"])
	assert.Equal(t, int64(4), got["workers"])
	assert.Equal(t, map[string]any{"host": "db.internal"}, got["db"])
	assert.Equal(t, []any{"a", "b"}, got["hosts"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["created"])
}

func TestFetch_ResolvesNestedKeys(t *testing.T) {
	coll := &fakeCollection{docs: map[string]bson.D{
		"orders": {{Key: "db", Value: bson.D{{Key: "pool", Value: bson.D{{Key: "size", Value: int32(8)}}}}}},
	}}
	backend, _ := newTestBackend(coll)
	resolver := configdata.NewResolver(configdata.NewFetcher(configdata.WithBackend(Scheme, backend)))

	env, err := resolver.Resolve(context.Background(), []string{"mongodb:settings/orders"}, configdata.Layers{})
	require.NoError(t, err)
	size, found, err := env.GetInt("db.pool.size")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(8), size)
}

func TestFetch_NotFound(t *testing.T) {
	backend, _ := newTestBackend(&fakeCollection{})
	_, err := backend.Fetch(context.Background(), "settings/absent")
	assert.ErrorIs(t, err, configdata.ErrNotFound)
}

func TestFetch_Errors(t *testing.T) {
	backend, _ := newTestBackend(&fakeCollection{})
	for _, path := range []string{"", "settings", "settings/", "/orders"} {
		_, err := backend.Fetch(context.Background(), path)
		assert.Error(t, err, path)
	}

	boom := errors.New("server selection timeout")
	failing, _ := newTestBackend(&fakeCollection{err: boom})
	_, err := failing.Fetch(context.Background(), "settings/orders")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, configdata.ErrNotFound)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{Database: "config"}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), Config{URL: "mongodb://localhost:27017"}, nil)
	assert.Error(t, err)
}
