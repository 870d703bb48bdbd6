package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/relief/config"
	"github.com/otherjamesbrown/relief/pkg/auditlog"
)

type fakeAuditLog struct {
	entries  []auditlog.Entry
	err      error
	gotLimit int
	closed   bool
}

func (f *fakeAuditLog) History(_ context.Context, limit int) ([]auditlog.Entry, error) {
	f.gotLimit = limit
	return f.entries, f.err
}

func (f *fakeAuditLog) Close() error {
	f.closed = true
	return nil
}

func newTestHistoryDeps(cfg *config.Config, log *fakeAuditLog) (*HistoryCommandDeps, *string) {
	var gotDSN string
	return &HistoryCommandDeps{
		LoadConfig: func() (*config.Config, error) { return cfg, nil },
		OpenAuditLog: func(dsn string) (AuditLog, error) {
			gotDSN = dsn
			return log, nil
		},
	}, &gotDSN
}

func TestHistory_NoDSN(t *testing.T) {
	deps, _ := newTestHistoryDeps(config.DefaultConfig(), &fakeAuditLog{})

	_, err := run(t, NewHistoryCommand(deps), "")
	assert.ErrorContains(t, err, "no audit log configured")
}

func TestHistory_Table(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.DSN = "postgres://audit@localhost/audit"
	fake := &fakeAuditLog{entries: []auditlog.Entry{
		{
			ID:          2,
			Command:     "process all",
			FullCommand: "relief process all --concurrency 8",
			DurationMs:  1532,
			Success:     true,
			CreatedAt:   time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC),
		},
		{
			ID:           1,
			Command:      "report show",
			FullCommand:  "relief report show missing",
			DurationMs:   12,
			ErrorMessage: "report not found",
			CreatedAt:    time.Date(2026, 10, 14, 8, 29, 0, 0, time.UTC),
		},
	}}
	deps, gotDSN := newTestHistoryDeps(cfg, fake)

	out, err := run(t, NewHistoryCommand(deps), "", "-n", "5")
	require.NoError(t, err)

	assert.Equal(t, "postgres://audit@localhost/audit", *gotDSN)
	assert.Equal(t, 5, fake.gotLimit)
	assert.True(t, fake.closed)
	assert.Contains(t, out, "TIME")
	assert.Contains(t, out, "COMMAND")
	assert.Contains(t, out, "2026-10-14 08:30:00")
	assert.Contains(t, out, "1532ms")
	assert.Contains(t, out, "relief process all --concurrency 8")
	assert.Contains(t, out, "failed")
}

func TestHistory_Empty(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.URL = "postgres://relief@localhost/relief"
	deps, gotDSN := newTestHistoryDeps(cfg, &fakeAuditLog{})

	out, err := run(t, NewHistoryCommand(deps), "")
	require.NoError(t, err)
	assert.Equal(t, "No commands recorded.\n", out)
	assert.NotEmpty(t, *gotDSN, "database settings are used when audit.dsn is unset")
}

func TestHistory_JSON(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.DSN = "postgres://audit@localhost/audit"
	cfg.OutputFormat = config.OutputFormatJSON
	deps, _ := newTestHistoryDeps(cfg, &fakeAuditLog{})

	out, err := run(t, NewHistoryCommand(deps), "")
	require.NoError(t, err)

	var entries []auditlog.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestHistory_QueryError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Audit.DSN = "postgres://audit@localhost/audit"
	fake := &fakeAuditLog{err: errors.New("relation \"command_history\" does not exist")}
	deps, _ := newTestHistoryDeps(cfg, fake)

	_, err := run(t, NewHistoryCommand(deps), "")
	assert.ErrorContains(t, err, "command_history")
	assert.True(t, fake.closed)
}
