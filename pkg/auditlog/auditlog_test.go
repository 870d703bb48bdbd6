package auditlog

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	started := time.Now().Add(-250 * time.Millisecond)

	ok := NewEntry("report list", []string{"--status", "Pending"}, started, nil)
	assert.Equal(t, "report list --status Pending", ok.FullCommand)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.ErrorMessage)
	assert.GreaterOrEqual(t, ok.DurationMs, 250)

	failed := NewEntry("process", nil, started, errors.New("report not found"))
	assert.Equal(t, "process", failed.FullCommand)
	assert.False(t, failed.Success)
	assert.Equal(t, "report not found", failed.ErrorMessage)
}

func TestNewClient_RequiresDSN(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
	assert.Len(t, []rune(truncate(strings.Repeat("x", 900), maxMessageLen)), maxMessageLen)
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "host", nullIfEmpty("host"))
}

func TestClient_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	client, err := NewClient(dsn)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Log(ctx, NewEntry("stats", []string{"-o", "json"}, time.Now(), nil)))

	entries, err := client.History(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "stats", entries[0].Command)
	assert.Equal(t, []string{"-o", "json"}, entries[0].Args)
	assert.True(t, entries[0].Success)
}
