// Package redis serves configuration imports from Redis keys.
//
// A hash key yields one property per field. A string key holding a YAML or
// JSON document yields the document's (possibly nested) entries.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "redis"

// Config holds Redis connection settings.
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
}

type client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Type(ctx context.Context, key string) *redis.StatusCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Backend reads configuration from Redis. It implements configdata.Backend.
type Backend struct {
	client  client
	log     logger.Logger
	timeout time.Duration
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("redis config backend connected", "addr", opts.Addr, "db", opts.DB)
	return &Backend{client: rdb, log: log, timeout: cfg.OperationTimeout}, nil
}

// Fetch reads the key named by path.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	key := strings.TrimSpace(path)
	if key == "" {
		return nil, fmt.Errorf("redis: empty key")
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	kind, err := b.client.Type(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: type %s: %w", key, err)
	}

	switch kind {
	case "none":
		return nil, fmt.Errorf("redis: %s: %w", key, configdata.ErrNotFound)
	case "hash":
		fields, err := b.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: hgetall %s: %w", key, err)
		}
		out := make(map[string]any, len(fields))
		for field, value := range fields {
			out[field] = value
		}
		return out, nil
	case "string":
		raw, err := b.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis: %s: %w", key, configdata.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get %s: %w", key, err)
		}
		return decodeDocument(key, raw)
	default:
		return nil, fmt.Errorf("redis: key %s has unsupported type %q", key, kind)
	}
}

// Ping verifies the connection is alive.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

// decodeDocument parses YAML, which also covers JSON.
func decodeDocument(key, raw string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("redis: %s does not hold a YAML or JSON mapping: %w", key, err)
	}
	return out, nil
}
