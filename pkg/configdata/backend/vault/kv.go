package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "vault"

type mount struct {
	path    string
	version int
}

// Backend reads KV secrets. It implements configdata.Backend.
type Backend struct {
	client    *api.Client
	kvVersion int
	log       logger.Logger

	mu     sync.Mutex
	mounts map[string]mount
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for mount detection messages.
func WithLogger(log logger.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// New creates a client from cfg, authenticates, and returns a Backend.
func New(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg.KVVersion, opts...), nil
}

// NewWithClient wraps an authenticated client. kvVersion zero enables detection.
func NewWithClient(client *api.Client, kvVersion int, opts ...Option) *Backend {
	b := &Backend{
		client:    client,
		kvVersion: kvVersion,
		log:       logger.NewNop(),
		mounts:    make(map[string]mount),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fetch reads the secret at path and returns its data.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("vault: empty secret path")
	}

	m, err := b.mountFor(ctx, path)
	if err != nil {
		return nil, err
	}

	readPath := path
	if m.version == 2 {
		readPath = dataPath(m.path, path)
	}
	secret, err := b.client.Logical().ReadWithContext(ctx, readPath)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("vault: %s: %w", path, configdata.ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", readPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: %s: %w", path, configdata.ErrNotFound)
	}

	data := secret.Data
	if m.version == 2 {
		inner, ok := secret.Data["data"].(map[string]any)
		if !ok {
			// deleted or destroyed versions come back with data set to null
			return nil, fmt.Errorf("vault: %s: %w", path, configdata.ErrNotFound)
		}
		data = inner
	}
	return normalize(data).(map[string]any), nil
}

// Ping checks that the server is reachable, initialized and unsealed.
func (b *Backend) Ping(ctx context.Context) error {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health: %w", err)
	}
	if !health.Initialized {
		return errors.New("vault is not initialized")
	}
	if health.Sealed {
		return errors.New("vault is sealed")
	}
	return nil
}

func (b *Backend) mountFor(ctx context.Context, path string) (mount, error) {
	if b.kvVersion != 0 {
		return mount{path: firstSegment(path), version: b.kvVersion}, nil
	}

	b.mu.Lock()
	for prefix, m := range b.mounts {
		if strings.HasPrefix(path, prefix) {
			b.mu.Unlock()
			return m, nil
		}
	}
	b.mu.Unlock()

	m, err := b.detectMount(ctx, path)
	if err != nil {
		return mount{}, err
	}
	b.mu.Lock()
	b.mounts[m.path] = m
	b.mu.Unlock()
	b.log.Debug("vault kv mount detected", "mount", m.path, "version", m.version)
	return m, nil
}

// detectMount asks Vault which mount serves path. Servers that predate the
// endpoint answer 404 and only support KV v1.
func (b *Backend) detectMount(ctx context.Context, path string) (mount, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, "sys/internal/ui/mounts/"+path)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return mount{path: firstSegment(path), version: 1}, nil
		}
		return mount{}, fmt.Errorf("vault: detect mount for %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return mount{path: firstSegment(path), version: 1}, nil
	}

	m := mount{path: firstSegment(path), version: 1}
	if mountPath, ok := secret.Data["path"].(string); ok && mountPath != "" {
		m.path = mountPath
	}
	if options, ok := secret.Data["options"].(map[string]any); ok {
		if version, ok := options["version"].(string); ok && version == "2" {
			m.version = 2
		}
	}
	return m, nil
}

// dataPath inserts the KV v2 "data/" segment after the mount.
func dataPath(mountPath, path string) string {
	if !strings.HasSuffix(mountPath, "/") {
		mountPath += "/"
	}
	rel := strings.TrimPrefix(path, mountPath)
	if rel == path {
		rel = strings.TrimPrefix(path, strings.TrimSuffix(mountPath, "/"))
		rel = strings.TrimPrefix(rel, "/")
	}
	return mountPath + "data/" + rel
}

func firstSegment(path string) string {
	if idx := strings.Index(path, "/"); idx >= 0 {
		return path[:idx+1]
	}
	return path + "/"
}

func isStatus(err error, status int) bool {
	var respErr *api.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

// normalize converts the json.Number values produced by the Vault client into
// int64 or float64.
func normalize(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalize(item)
		}
		return out
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	default:
		return value
	}
}
