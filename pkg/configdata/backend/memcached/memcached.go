// Package memcached serves configuration imports from memcached items that
// hold a YAML or JSON document. The locator path is the item key.
package memcached

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Scheme is the locator scheme this backend is registered under.
const Scheme = "memcached"

const maxKeyLength = 250

// Config holds memcached settings.
type Config struct {
	Servers          []string
	OperationTimeout time.Duration
}

// Backend speaks the memcached text protocol over short-lived TCP
// connections. It implements configdata.Backend.
type Backend struct {
	servers []string
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
	log     logger.Logger
}

// New validates the server list. No connection is opened until Fetch or Ping.
func New(cfg Config, log logger.Logger) (*Backend, error) {
	servers := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		if trimmed := strings.TrimSpace(server); trimmed != "" {
			servers = append(servers, trimmed)
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("at least one memcached server is required")
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	log.Info("memcached config backend initialized", "servers", len(servers))
	return &Backend{
		servers: servers,
		timeout: timeout,
		dial:    (&net.Dialer{Timeout: timeout}).DialContext,
		log:     log,
	}, nil
}

// Fetch reads the item named by path and decodes it as a document.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	key := strings.TrimSpace(path)
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("memcached: %w", err)
	}

	conn, reader, err := b.connect(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("memcached: %w", err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "get "+key+"\r\n"); err != nil {
		return nil, fmt.Errorf("memcached: get %s: %w", key, err)
	}
	line, err := readLine(reader)
	if err != nil {
		return nil, fmt.Errorf("memcached: get %s: %w", key, err)
	}
	if line == "END" {
		return nil, fmt.Errorf("memcached: %s: %w", key, configdata.ErrNotFound)
	}

	// VALUE <key> <flags> <bytes>
	parts := strings.Fields(line)
	if len(parts) != 4 || parts[0] != "VALUE" {
		return nil, fmt.Errorf("memcached: unexpected response %q", line)
	}
	size, err := strconv.Atoi(parts[3])
	if err != nil || size < 0 {
		return nil, fmt.Errorf("memcached: invalid item size %q", parts[3])
	}
	payload := make([]byte, size+2)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, fmt.Errorf("memcached: read %s: %w", key, err)
	}
	if end, err := readLine(reader); err != nil || end != "END" {
		return nil, fmt.Errorf("memcached: unterminated response for %s", key)
	}

	out := map[string]any{}
	if strings.TrimSpace(string(payload[:size])) == "" {
		return out, nil
	}
	if err := yaml.Unmarshal(payload[:size], &out); err != nil {
		return nil, fmt.Errorf("memcached: %s does not hold a YAML or JSON mapping: %w", key, err)
	}
	return out, nil
}

// Ping asks every server for its version.
func (b *Backend) Ping(ctx context.Context) error {
	for _, server := range b.servers {
		conn, reader, err := b.open(ctx, server)
		if err != nil {
			return fmt.Errorf("memcached %s: %w", server, err)
		}
		_, err = io.WriteString(conn, "version\r\n")
		var line string
		if err == nil {
			line, err = readLine(reader)
		}
		conn.Close()
		if err != nil {
			return fmt.Errorf("memcached %s: %w", server, err)
		}
		if !strings.HasPrefix(line, "VERSION") {
			return fmt.Errorf("memcached %s: unexpected response %q", server, line)
		}
	}
	return nil
}

func (b *Backend) connect(ctx context.Context, key string) (net.Conn, *bufio.Reader, error) {
	return b.open(ctx, b.pick(key))
}

func (b *Backend) open(ctx context.Context, server string) (net.Conn, *bufio.Reader, error) {
	conn, err := b.dial(ctx, "tcp", server)
	if err != nil {
		return nil, nil, err
	}
	deadline := time.Now().Add(b.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)
	return conn, bufio.NewReader(conn), nil
}

// pick shards keys across servers by FNV hash.
func (b *Backend) pick(key string) string {
	if len(b.servers) == 1 {
		return b.servers[0]
	}
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return b.servers[int(hash.Sum32()%uint32(len(b.servers)))]
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func validKey(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key longer than %d bytes", maxKeyLength)
	}
	for _, r := range key {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("key %q contains whitespace or control characters", key)
		}
	}
	return nil
}
