package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestCheck_NilPool(t *testing.T) {
	status := Check(context.Background(), nil)

	if status.Healthy {
		t.Error("expected unhealthy status for nil pool")
	}
	if status.Error == nil {
		t.Error("expected error in status for nil pool")
	}
}

func TestSchemaVersion_NilPool(t *testing.T) {
	if _, err := SchemaVersion(context.Background(), nil); err == nil {
		t.Error("expected error for nil pool, got nil")
	}
}

func TestIsUndefinedTable(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", &pgconn.PgError{Code: pgUndefinedTable})
	if !isUndefinedTable(wrapped) {
		t.Error("expected wrapped 42P01 to be recognized")
	}
	if isUndefinedTable(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation is not an undefined table")
	}
	if isUndefinedTable(fmt.Errorf("plain")) {
		t.Error("non-postgres error is not an undefined table")
	}
}

func TestCheck_Integration(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	status := Check(context.Background(), pool)
	if !status.Healthy {
		t.Fatalf("expected healthy database, got %v", status.Error)
	}
	if status.TotalConns < 1 {
		t.Errorf("expected at least one open connection, got %d", status.TotalConns)
	}
}
