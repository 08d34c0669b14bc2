// Package sql serves configuration imports from a relational table, one row
// per property:
//
//	CREATE TABLE properties (
//	    application VARCHAR(128) NOT NULL,
//	    profile     VARCHAR(128) NOT NULL DEFAULT 'default',
//	    label       VARCHAR(128) NOT NULL DEFAULT 'main',
//	    prop_key    VARCHAR(512) NOT NULL,
//	    prop_value  TEXT,
//	    PRIMARY KEY (application, profile, label, prop_key)
//	);
//
// The locator path is application[/profile[/label]], e.g.
// postgres:orders/production. PostgreSQL (lib/pq) and MySQL
// (go-sql-driver/mysql) are supported.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/nimburion/configdata/pkg/configdata"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

// Supported drivers. Each is also the locator scheme of its backend.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Defaults for the optional path segments.
const (
	DefaultProfile = "default"
	DefaultLabel   = "main"
	DefaultTable   = "properties"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTable rejects names that are not a plain or schema-qualified
// identifier. The table name is interpolated into queries.
func ValidateTable(table string) error {
	if !identifier.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// Config holds connection and table settings.
type Config struct {
	Driver          string
	URL             string
	Table           string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Backend reads properties rows. It implements configdata.Backend.
type Backend struct {
	db      *sql.DB
	driver  string
	query   string
	log     logger.Logger
	timeout time.Duration
}

// New opens a connection pool and verifies it with a ping.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backend, err := NewWithDB(db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewWithDB wraps an open pool. The backend takes ownership of db.
func NewWithDB(db *sql.DB, cfg Config, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}

	query := "SELECT prop_key, prop_value FROM " + table + " WHERE application = ? AND profile = ? AND label = ?"
	if cfg.Driver == DriverPostgres {
		query = "SELECT prop_key, prop_value FROM " + table + " WHERE application = $1 AND profile = $2 AND label = $3"
	}

	log.Info("sql config backend connected", "driver", cfg.Driver, "table", table)
	return &Backend{db: db, driver: cfg.Driver, query: query, log: log, timeout: cfg.QueryTimeout}, nil
}

// Fetch returns every property row of the application, profile and label
// named by path. No rows means the import is absent.
func (b *Backend) Fetch(ctx context.Context, path string) (map[string]any, error) {
	application, profile, label, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	rows, err := b.db.QueryContext(ctx, b.query, application, profile, label)
	if err != nil {
		return nil, fmt.Errorf("%s: query %s: %w", b.driver, path, err)
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var (
			key   string
			value sql.NullString
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%s: scan %s: %w", b.driver, path, err)
		}
		if value.Valid {
			out[key] = value.String
		} else {
			out[key] = nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", b.driver, path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %s/%s/%s: %w", b.driver, application, profile, label, configdata.ErrNotFound)
	}
	return out, nil
}

// Ping verifies the pool can reach the database.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases the pool.
func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", b.driver, err)
	}
	return nil
}

func splitPath(path string) (application, profile, label string, err error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(path), "/"), "/")
	if len(parts) > 3 || parts[0] == "" {
		return "", "", "", fmt.Errorf("sql: path %q must be application[/profile[/label]]", path)
	}
	application, profile, label = parts[0], DefaultProfile, DefaultLabel
	if len(parts) > 1 && parts[1] != "" {
		profile = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		label = parts[2]
	}
	return application, profile, label, nil
}
