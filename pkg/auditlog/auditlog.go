// Package auditlog records relief CLI invocations in Postgres.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// maxMessageLen bounds stored error messages.
const maxMessageLen = 500

const createTableSQL = `
CREATE TABLE IF NOT EXISTS relief_command_log (
    id           BIGSERIAL PRIMARY KEY,
    command      TEXT        NOT NULL,
    args         TEXT[]      NOT NULL DEFAULT '{}',
    full_command TEXT        NOT NULL,
    duration_ms  INTEGER     NOT NULL,
    success      BOOLEAN     NOT NULL,
    error_message TEXT,
    hostname     TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const insertSQL = `
INSERT INTO relief_command_log (command, args, full_command, duration_ms, success, error_message, hostname)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const historySQL = `
SELECT id, command, args, full_command, duration_ms, success, error_message, hostname, created_at
FROM relief_command_log
ORDER BY created_at DESC, id DESC
LIMIT $1`

// Entry is one logged CLI invocation.
type Entry struct {
	ID           int64     `json:"id"`
	Command      string    `json:"command"`
	Args         []string  `json:"args"`
	FullCommand  string    `json:"full_command"`
	DurationMs   int       `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Hostname     string    `json:"hostname,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewEntry builds an entry for a finished command. cmdErr may be nil.
func NewEntry(command string, args []string, started time.Time, cmdErr error) *Entry {
	e := &Entry{
		Command:     command,
		Args:        args,
		FullCommand: strings.TrimSpace(command + " " + strings.Join(args, " ")),
		DurationMs:  int(time.Since(started).Milliseconds()),
		Success:     cmdErr == nil,
	}
	if cmdErr != nil {
		e.ErrorMessage = cmdErr.Error()
	}
	return e
}

// Client writes audit entries.
type Client struct {
	db       *sql.DB
	hostname string

	schemaOnce sync.Once
	schemaErr  error
}

// NewClient opens a lib/pq connection to dsn.
func NewClient(dsn string) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit log database not configured")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The CLI writes one row per run.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewClientWithDB(db), nil
}

// NewClientWithDB wraps an existing handle.
func NewClientWithDB(db *sql.DB) *Client {
	hostname, _ := os.Hostname()
	return &Client{db: db, hostname: hostname}
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// EnsureSchema creates the log table if needed. It runs at most once per
// client.
func (c *Client) EnsureSchema(ctx context.Context) error {
	c.schemaOnce.Do(func() {
		if _, err := c.db.ExecContext(ctx, createTableSQL); err != nil {
			c.schemaErr = fmt.Errorf("creating audit table: %w", err)
		}
	})
	return c.schemaErr
}

// Log writes entry.
func (c *Client) Log(ctx context.Context, entry *Entry) error {
	if err := c.EnsureSchema(ctx); err != nil {
		return err
	}

	hostname := entry.Hostname
	if hostname == "" {
		hostname = c.hostname
	}
	args := entry.Args
	if args == nil {
		args = []string{}
	}

	_, err := c.db.ExecContext(ctx, insertSQL,
		entry.Command,
		pq.Array(args),
		entry.FullCommand,
		entry.DurationMs,
		entry.Success,
		nullIfEmpty(truncate(entry.ErrorMessage, maxMessageLen)),
		nullIfEmpty(hostname),
	)
	if err != nil {
		return fmt.Errorf("logging command: %w", err)
	}
	return nil
}

// History returns the most recent entries, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Entry, error) {
	if err := c.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.QueryContext(ctx, historySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errorMsg, hostname sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.Command,
			pq.Array(&e.Args),
			&e.FullCommand,
			&e.DurationMs,
			&e.Success,
			&errorMsg,
			&hostname,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.ErrorMessage = errorMsg.String
		e.Hostname = hostname.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return entries, nil
}

// truncate cuts s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
