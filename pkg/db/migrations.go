package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/relief/pkg/logging"
)

// migrationLockKey is the pg_advisory_lock key held while migrations run,
// so concurrent `relief db migrate` invocations apply each file once.
const migrationLockKey int64 = 0x72656c696566

var errNilPool = errors.New("pool is nil")

// Migration is one numbered .sql file. A file named 002_add_index.sql has
// Version "002" and Name "add_index".
type Migration struct {
	Version string
	Name    string
	File    string
}

// MigrationResult holds the result of a migration run.
type MigrationResult struct {
	Applied []Migration
	Skipped []Migration
}

// MigrationStatusEntry represents a single migration in a status report.
type MigrationStatusEntry struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"` // nil for pending
}

// MigrationStatus represents the complete status of migrations.
type MigrationStatus struct {
	Applied []MigrationStatusEntry `json:"applied"` // applied and has file
	Pending []MigrationStatusEntry `json:"pending"` // has file but not applied
	Drift   []MigrationStatusEntry `json:"drift"`   // applied but no file
}

// Migrator applies the .sql files at the root of an fs.FS in version
// order and records them in schema_migrations.
type Migrator struct {
	pool   *pgxpool.Pool
	fsys   fs.FS
	logger logging.Logger
}

// NewMigrator creates a migrator for the files in fsys.
func NewMigrator(pool *pgxpool.Pool, fsys fs.FS, logger logging.Logger) *Migrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Migrator{pool: pool, fsys: fsys, logger: logger.With(logging.F("component", "migrator"))}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) (*MigrationResult, error) {
	return m.UpTo(ctx, "")
}

// UpTo applies pending migrations up to and including target. target may
// be given as "002", "002_add_index" or "002_add_index.sql". An empty
// target applies everything. Each file runs in its own transaction; the
// first failure stops the run and the result lists what was applied
// before it.
func (m *Migrator) UpTo(ctx context.Context, target string) (*MigrationResult, error) {
	if m.pool == nil {
		return nil, errNilPool
	}

	migrations, err := findMigrations(m.fsys)
	if err != nil {
		return nil, err
	}
	if target != "" {
		idx := indexOfVersion(migrations, versionOf(target))
		if idx < 0 {
			return nil, fmt.Errorf("target version %s not found in migrations", target)
		}
		migrations = migrations[:idx+1]
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer func() {
		// The lock is session scoped; release it even if ctx is done.
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			m.logger.Warn("Releasing migration lock failed", logging.Err(err))
		}
	}()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{}
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			result.Skipped = append(result.Skipped, mig)
			continue
		}

		start := time.Now()
		if err := m.apply(ctx, conn, mig); err != nil {
			return result, fmt.Errorf("migration %s (%s) failed: %w", mig.Version, mig.Name, err)
		}
		m.logger.Debug("Applied migration",
			logging.F("version", mig.Version),
			logging.F("name", mig.Name),
			logging.F("duration_ms", time.Since(start).Milliseconds()))
		result.Applied = append(result.Applied, mig)
	}
	return result, nil
}

// Pending returns the migrations that have not been applied yet.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if m.pool == nil {
		return nil, errNilPool
	}
	migrations, err := findMigrations(m.fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, m.pool); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, m.pool)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Status compares the files with schema_migrations. Drift lists versions
// recorded in the database that no longer ship with the binary.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	if m.pool == nil {
		return nil, errNilPool
	}
	migrations, err := findMigrations(m.fsys)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, m.pool); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, m.pool)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
		Drift:   []MigrationStatusEntry{},
	}
	files := make(map[string]bool, len(migrations))
	for _, mig := range migrations {
		files[mig.Version] = true
		if row, ok := applied[mig.Version]; ok {
			appliedAt := row.appliedAt
			status.Applied = append(status.Applied, MigrationStatusEntry{Version: mig.Version, Name: mig.Name, AppliedAt: &appliedAt})
		} else {
			status.Pending = append(status.Pending, MigrationStatusEntry{Version: mig.Version, Name: mig.Name})
		}
	}
	for version, row := range applied {
		if files[version] {
			continue
		}
		appliedAt := row.appliedAt
		status.Drift = append(status.Drift, MigrationStatusEntry{Version: version, Name: row.name, AppliedAt: &appliedAt})
	}
	sort.Slice(status.Drift, func(i, j int) bool { return status.Drift[i].Version < status.Drift[j].Version })
	return status, nil
}

func (m *Migrator) apply(ctx context.Context, conn *pgxpool.Conn, mig Migration) error {
	content, err := fs.ReadFile(m.fsys, mig.File)
	if err != nil {
		return fmt.Errorf("reading %s: %w", mig.File, err)
	}
	sql := string(content)
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("%s is empty", mig.File)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	if _, err := tx.Exec(ctx, sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit(ctx)
}

// execer is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type appliedRow struct {
	name      string
	appliedAt time.Time
}

func ensureMigrationsTable(ctx context.Context, q execer) error {
	_, err := q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	// Tables created before names were recorded.
	if _, err := q.Exec(ctx, `ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS name TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("upgrading schema_migrations: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, q execer) (map[string]appliedRow, error) {
	rows, err := q.Query(ctx, "SELECT version, name, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]appliedRow)
	for rows.Next() {
		var version string
		var row appliedRow
		if err := rows.Scan(&version, &row.name, &row.appliedAt); err != nil {
			return nil, err
		}
		applied[versionOf(version)] = row
	}
	return applied, rows.Err()
}

// findMigrations lists the .sql files at the root of fsys in version order.
func findMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(path.Ext(entry.Name()), ".sql") {
			continue
		}
		mig := parseMigration(entry.Name())
		if other, dup := seen[mig.Version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %s", other, mig.File, mig.Version)
		}
		seen[mig.Version] = mig.File
		migrations = append(migrations, mig)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigration(file string) Migration {
	base := strings.TrimSuffix(file, path.Ext(file))
	version, name, ok := strings.Cut(base, "_")
	if !ok {
		name = base
	}
	return Migration{Version: version, Name: name, File: file}
}

// versionOf reduces "002", "002_add_index" or "002_add_index.sql" to "002".
func versionOf(s string) string {
	if strings.EqualFold(path.Ext(s), ".sql") {
		s = s[:len(s)-len(path.Ext(s))]
	}
	version, _, _ := strings.Cut(s, "_")
	return version
}

func indexOfVersion(migrations []Migration, version string) int {
	for i, m := range migrations {
		if m.Version == version {
			return i
		}
	}
	return -1
}
