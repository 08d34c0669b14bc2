package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/configdata/pkg/configdata"
)

type fakeClient struct {
	types   map[string]string
	hashes  map[string]map[string]string
	strings map[string]string
	err     error
	closed  bool
}

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeClient) Type(ctx context.Context, key string) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	kind, ok := f.types[key]
	if !ok {
		kind = "none"
	}
	return redis.NewStatusResult(kind, nil)
}

func (f *fakeClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(f.hashes[key], nil)
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	value, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func newFakeBackend() (*Backend, *fakeClient) {
	fake := &fakeClient{
		types: map[string]string{
			"app:config": "hash",
			"app:doc":    "string",
			"app:bad":    "string",
			"app:list":   "list",
		},
		hashes: map[string]map[string]string{
			"app:config": {"db.url": "postgres://db", "db.pool": "8"},
		},
		strings: map[string]string{
			"app:doc": "server:\n  port: 8080\nfeatures: [a, b]\n",
			"app:bad": "- just\n- a list\n",
		},
	}
	return &Backend{client: fake}, fake
}

func TestFetch_Hash(t *testing.T) {
	backend, _ := newFakeBackend()

	data, err := backend.Fetch(context.Background(), "app:config")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data["db.url"] != "postgres://db" || data["db.pool"] != "8" {
		t.Fatalf("unexpected hash payload: %v", data)
	}
}

func TestFetch_Document(t *testing.T) {
	backend, _ := newFakeBackend()

	data, err := backend.Fetch(context.Background(), "app:doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flat, err := configdata.Flatten(data)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if flat["server.port"] != 8080 {
		t.Fatalf("expected server.port 8080, got %#v", flat["server.port"])
	}
	if flat["features.1"] != "b" {
		t.Fatalf("expected features.1 b, got %#v", flat["features.1"])
	}
}

func TestFetch_Errors(t *testing.T) {
	backend, fake := newFakeBackend()

	if _, err := backend.Fetch(context.Background(), "app:missing"); !errors.Is(err, configdata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := backend.Fetch(context.Background(), "app:list"); err == nil || errors.Is(err, configdata.ErrNotFound) {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
	if _, err := backend.Fetch(context.Background(), "app:bad"); err == nil {
		t.Fatal("expected decode error for a non-mapping document")
	}
	if _, err := backend.Fetch(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty key")
	}

	fake.err = errors.New("connection refused")
	_, err := backend.Fetch(context.Background(), "app:config")
	if err == nil || errors.Is(err, configdata.ErrNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err := backend.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
	if _, err := New(context.Background(), Config{URL: "://bad"}, nil); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestClose(t *testing.T) {
	backend, fake := newFakeBackend()
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !fake.closed {
		t.Fatal("expected client to be closed")
	}
}
