package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	sqlbackend "github.com/nimburion/configdata/pkg/configdata/backend/sql"
	"github.com/nimburion/configdata/pkg/observability/logger"
)

//go:embed sql
var embedded embed.FS

var migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

const tablePlaceholder = "${table}"

// Migration is a versioned pair of up and down scripts.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// dialect holds the statements that differ between drivers.
type dialect struct {
	dir          string
	createLedger string
	recordSQL    string
	forgetSQL    string
}

var dialects = map[string]dialect{
	sqlbackend.DriverPostgres: {
		dir: "sql/postgres",
		createLedger: `CREATE TABLE IF NOT EXISTS configdata_schema_migrations (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		recordSQL: `INSERT INTO configdata_schema_migrations (version) VALUES ($1)`,
		forgetSQL: `DELETE FROM configdata_schema_migrations WHERE version = $1`,
	},
	sqlbackend.DriverMySQL: {
		dir: "sql/mysql",
		createLedger: `CREATE TABLE IF NOT EXISTS configdata_schema_migrations (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		recordSQL: `INSERT INTO configdata_schema_migrations (version) VALUES (?)`,
		forgetSQL: `DELETE FROM configdata_schema_migrations WHERE version = ?`,
	},
}

// SQLManager applies and reverts the properties table migrations.
type SQLManager struct {
	db         *sql.DB
	dialect    dialect
	migrations []Migration
}

// NewSQLManager loads the embedded migrations of driver for table, which
// defaults to the sql backend's table.
func NewSQLManager(db *sql.DB, driver, table string) (*SQLManager, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported migration driver %q", driver)
	}
	return newSQLManager(db, d, embedded, table)
}

func newSQLManager(db *sql.DB, d dialect, files fs.FS, table string) (*SQLManager, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if table == "" {
		table = sqlbackend.DefaultTable
	}
	if err := sqlbackend.ValidateTable(table); err != nil {
		return nil, err
	}
	migrations, err := loadMigrations(files, d.dir, table)
	if err != nil {
		return nil, err
	}
	return &SQLManager{db: db, dialect: d, migrations: migrations}, nil
}

// Operations adapts the manager to RunParsed.
func (m *SQLManager) Operations() Operations {
	return Operations{Up: m.Up, Down: m.Down, Status: m.Status}
}

// Up applies all pending migrations in order.
func (m *SQLManager) Up(ctx context.Context) (int, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		done[version] = struct{}{}
	}

	count := 0
	for _, migration := range m.migrations {
		if _, ok := done[migration.Version]; ok {
			continue
		}
		if err := m.apply(ctx, migration.Version, migration.UpSQL, m.dialect.recordSQL); err != nil {
			return count, fmt.Errorf("apply migration %d_%s: %w", migration.Version, migration.Name, err)
		}
		count++
	}
	return count, nil
}

// Down reverts the latest steps migrations.
func (m *SQLManager) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.ensureLedger(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(applied) - 1; i >= 0 && count < steps; i-- {
		version := applied[i]
		migration, ok := m.migrationByVersion(version)
		if !ok {
			return count, fmt.Errorf("migration definition not found for applied version %d", version)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return count, fmt.Errorf("down migration missing for version %d", version)
		}
		if err := m.apply(ctx, version, migration.DownSQL, m.dialect.forgetSQL); err != nil {
			return count, fmt.Errorf("revert migration %d_%s: %w", migration.Version, migration.Name, err)
		}
		count++
	}
	return count, nil
}

// Status reports applied and pending migrations.
func (m *SQLManager) Status(ctx context.Context) (*Status, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]struct{}, len(applied))
	for _, version := range applied {
		done[version] = struct{}{}
	}

	pending := make([]PendingMigration, 0)
	for _, migration := range m.migrations {
		if _, ok := done[migration.Version]; !ok {
			pending = append(pending, PendingMigration{Version: migration.Version, Name: migration.Name})
		}
	}
	return &Status{AppliedVersions: applied, Pending: pending}, nil
}

// apply runs script and the ledger statement in one transaction.
func (m *SQLManager) apply(ctx context.Context, version int64, script, ledger string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, ledger, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update ledger: %w", err)
	}
	return tx.Commit()
}

func (m *SQLManager) ensureLedger(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, m.dialect.createLedger); err != nil {
		return fmt.Errorf("ensure configdata_schema_migrations table: %w", err)
	}
	return nil
}

// appliedVersions returns applied versions in ascending order.
func (m *SQLManager) appliedVersions(ctx context.Context) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM configdata_schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func (m *SQLManager) migrationByVersion(version int64) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

func loadMigrations(files fs.FS, dir, table string) ([]Migration, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}
		payload, err := fs.ReadFile(files, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", entry.Name(), err)
		}
		script := strings.ReplaceAll(string(payload), tablePlaceholder, table)

		migration, ok := byVersion[version]
		if !ok {
			migration = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = migration
		}
		if matches[3] == "up" {
			migration.UpSQL = script
		} else {
			migration.DownSQL = script
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, migration := range byVersion {
		if strings.TrimSpace(migration.UpSQL) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", migration.Version)
		}
		migrations = append(migrations, *migration)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// RunWithSQLDriver opens the database, runs subcommand and closes it again.
func RunWithSQLDriver(ctx context.Context, dbURL, subcommand string, steps int, opts Options) error {
	if opts.Driver == "" {
		return fmt.Errorf("driver name is required")
	}
	if dbURL == "" {
		return fmt.Errorf("%s url is required", opts.Driver)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	db, err := sql.Open(opts.Driver, dbURL)
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	manager, err := NewSQLManager(db, opts.Driver, opts.Table)
	if err != nil {
		return err
	}
	return RunParsed(ctx, subcommand, steps, opts, manager.Operations())
}
