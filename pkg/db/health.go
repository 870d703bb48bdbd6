package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// HealthStatus is the result of probing the report store.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
	// SchemaVersion is the newest applied migration, or empty when the
	// schema has not been migrated.
	SchemaVersion string
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	Error         error
}

// Check pings the pool and reads the schema version.
func Check(ctx context.Context, pool *pgxpool.Pool) *HealthStatus {
	status := &HealthStatus{}
	if pool == nil {
		status.Error = errNilPool
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Errorf("ping failed: %w", err)
		return status
	}

	version, err := SchemaVersion(ctx, pool)
	if err != nil {
		status.Error = fmt.Errorf("reading schema version: %w", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.SchemaVersion = version
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.AcquiredConns = stats.AcquiredConns()
	return status
}

// SchemaVersion returns the newest applied migration version. A database
// that was never migrated reports "".
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	if pool == nil {
		return "", errNilPool
	}
	var version string
	err := pool.QueryRow(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err == nil {
		return version, nil
	}
	if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
		return "", nil
	}
	return "", err
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
