package db

import (
	"context"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/relief/pkg/logging"
)

func TestParseMigration(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
	}{
		{file: "001_create_reports.sql", version: "001", name: "create_reports"},
		{file: "002_reports_source_post_unique.SQL", version: "002", name: "reports_source_post_unique"},
		{file: "003.sql", version: "003", name: "003"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			m := parseMigration(tt.file)
			assert.Equal(t, tt.version, m.Version)
			assert.Equal(t, tt.name, m.Name)
			assert.Equal(t, tt.file, m.File)
		})
	}
}

func TestVersionOf(t *testing.T) {
	for _, in := range []string{"002", "002_add_index", "002_add_index.sql", "002_add_index.SQL"} {
		assert.Equal(t, "002", versionOf(in), in)
	}
	assert.Equal(t, "", versionOf(""))
}

func TestFindMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"003_add_help_type_index.sql": {Data: []byte("-- test")},
		"001_create_reports.sql":      {Data: []byte("-- test")},
		"002_add_source_post_id.sql":  {Data: []byte("-- test")},
		"README.md":                   {Data: []byte("ignored")},
		"nested/004_ignored.sql":      {Data: []byte("-- nested files are ignored")},
	}

	migrations, err := findMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, []string{"001", "002", "003"}, []string{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	assert.Equal(t, "create_reports", migrations[0].Name)
	assert.Equal(t, "003_add_help_type_index.sql", migrations[2].File)
}

func TestFindMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_create_reports.sql": {Data: []byte("-- a")},
		"001_create_other.sql":   {Data: []byte("-- b")},
	}

	_, err := findMigrations(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share version 001")
}

func TestFindMigrations_Empty(t *testing.T) {
	migrations, err := findMigrations(fstest.MapFS{})
	require.NoError(t, err)
	assert.Empty(t, migrations)
}

func TestFindMigrations_NonExistentDir(t *testing.T) {
	_, err := findMigrations(os.DirFS("/nonexistent/path/to/migrations"))
	assert.Error(t, err)
}

func TestMigrator_NilPool(t *testing.T) {
	ctx := context.Background()
	m := NewMigrator(nil, fstest.MapFS{}, nil)

	_, err := m.Up(ctx)
	assert.ErrorIs(t, err, errNilPool)

	_, err = m.UpTo(ctx, "001")
	assert.ErrorIs(t, err, errNilPool)

	_, err = m.Pending(ctx)
	assert.ErrorIs(t, err, errNilPool)

	_, err = m.Status(ctx)
	assert.ErrorIs(t, err, errNilPool)
}

func TestMigrator_UpTo(t *testing.T) {
	ctx := context.Background()
	pool := setupTestDB(t)
	defer pool.Close()

	fsys := fstest.MapFS{
		"901_target_test.sql": {Data: []byte("CREATE TABLE target_test_901 (id INT);")},
		"902_target_test.sql": {Data: []byte("ALTER TABLE target_test_901 ADD COLUMN name TEXT;")},
		"903_target_test.sql": {Data: []byte("CREATE TABLE target_test_903 (id INT);")},
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS target_test_901")
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS target_test_903")
		_, _ = pool.Exec(ctx, "DELETE FROM schema_migrations WHERE version IN ('901', '902', '903')")
	})
	m := NewMigrator(pool, fsys, logging.NewNopLogger())

	result, err := m.UpTo(ctx, "902_target_test.sql")
	require.NoError(t, err)
	require.Len(t, result.Applied, 2)
	assert.Equal(t, "901", result.Applied[0].Version)
	assert.Equal(t, "902", result.Applied[1].Version)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "903", pending[0].Version)

	again, err := m.UpTo(ctx, "902")
	require.NoError(t, err)
	assert.Empty(t, again.Applied)
	assert.Len(t, again.Skipped, 2)

	_, err = m.UpTo(ctx, "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target version")

	version, err := SchemaVersion(ctx, pool)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, "902")
}

func TestMigrator_FailureStopsRun(t *testing.T) {
	ctx := context.Background()
	pool := setupTestDB(t)
	defer pool.Close()

	fsys := fstest.MapFS{
		"911_fail_test.sql": {Data: []byte("CREATE TABLE fail_test_911 (id INT);")},
		"912_fail_test.sql": {Data: []byte("THIS IS NOT SQL;")},
		"913_fail_test.sql": {Data: []byte("CREATE TABLE fail_test_913 (id INT);")},
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS fail_test_911")
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS fail_test_913")
		_, _ = pool.Exec(ctx, "DELETE FROM schema_migrations WHERE version IN ('911', '912', '913')")
	})

	result, err := NewMigrator(pool, fsys, nil).Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 912")
	require.NotNil(t, result)
	require.Len(t, result.Applied, 1)
	assert.Equal(t, "911", result.Applied[0].Version)
}

func TestMigrator_Status(t *testing.T) {
	ctx := context.Background()
	pool := setupTestDB(t)
	defer pool.Close()

	fsys := fstest.MapFS{
		"921_status_test.sql": {Data: []byte("CREATE TABLE status_test_921 (id INT);")},
		"922_status_test.sql": {Data: []byte("CREATE TABLE status_test_922 (id INT);")},
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS status_test_921")
		_, _ = pool.Exec(ctx, "DELETE FROM schema_migrations WHERE version IN ('921', '922', '929')")
	})
	m := NewMigrator(pool, fsys, nil)

	_, err := m.UpTo(ctx, "921")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, "INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, $3)", "929", "drift_migration", time.Now())
	require.NoError(t, err)

	status, err := m.Status(ctx)
	require.NoError(t, err)

	versions := func(entries []MigrationStatusEntry) map[string]string {
		out := make(map[string]string)
		for _, e := range entries {
			out[e.Version] = e.Name
		}
		return out
	}
	assert.Equal(t, "status_test", versions(status.Applied)["921"])
	assert.Equal(t, "status_test", versions(status.Pending)["922"])
	assert.Equal(t, "drift_migration", versions(status.Drift)["929"])
}

// setupTestDB connects to DATABASE_URL, skipping the test when it is unset.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" || testing.Short() {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(context.Background()))
	return pool
}
