package triage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/otherjamesbrown/relief/pkg/errors"
)

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	repo.SetClock(func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	})
	return repo
}

func TestMemoryRepository_SaveInsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, NewReport("help", Source{Platform: PlatformTwitter, PostID: "1"}, nil))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, int64(1), saved.Version)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)

	got, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestMemoryRepository_DuplicateSourcePost(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, NewReport("a", Source{Platform: PlatformTwitter, PostID: "42"}, nil))
	require.NoError(t, err)

	_, err = repo.Save(ctx, NewReport("b", Source{Platform: PlatformTwitter, PostID: "42"}, nil))
	assert.True(t, rferrors.IsAlreadyExists(err))

	_, err = repo.Save(ctx, NewReport("c", Source{Platform: PlatformReddit, PostID: "42"}, nil))
	assert.NoError(t, err, "same post id on another platform is distinct")

	_, err = repo.Save(ctx, NewReport("d", Source{Platform: PlatformTwitter}, nil))
	assert.NoError(t, err)
	_, err = repo.Save(ctx, NewReport("e", Source{Platform: PlatformTwitter}, nil))
	assert.NoError(t, err, "reports without a post id are never duplicates")
}

func TestMemoryRepository_SaveUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, NewReport("help", Source{}, nil))
	require.NoError(t, err)

	saved.ProcessedText = "help"
	updated, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, saved.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(saved.UpdatedAt))

	// saved still carries version 1.
	_, err = repo.Save(ctx, saved)
	assert.True(t, rferrors.IsConflict(err))

	missing := saved.Clone()
	missing.ID = "nope"
	_, err = repo.Save(ctx, missing)
	assert.True(t, rferrors.IsNotFound(err))
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	_, err := newTestRepo(t).FindByID(context.Background(), "missing")
	assert.True(t, rferrors.IsNotFound(err))
}

func TestMemoryRepository_StoresCopies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, NewReport("help", Source{}, nil))
	require.NoError(t, err)
	saved.RawText = "mutated"

	got, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "help", got.RawText)
}

func TestMemoryRepository_FindOrderingAndPaging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"one", "two", "three", "four"} {
		r, err := repo.Save(ctx, NewReport(text, Source{}, nil))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	desc, err := repo.Find(ctx, Filter{}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, desc, 4)
	assert.Equal(t, ids[3], desc[0].ID)
	assert.Equal(t, ids[0], desc[3].ID)

	asc, err := repo.Find(ctx, Filter{}, FindOptions{Sort: SortCreatedAtAsc, Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, ids[1], asc[0].ID)
	assert.Equal(t, ids[2], asc[1].ID)

	none, err := repo.Find(ctx, Filter{}, FindOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepository_FindTiesKeepInsertionOrder(t *testing.T) {
	repo := NewMemoryRepository()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	first, err := repo.Save(ctx, NewReport("first", Source{}, nil))
	require.NoError(t, err)
	second, err := repo.Save(ctx, NewReport("second", Source{}, nil))
	require.NoError(t, err)

	asc, err := repo.Find(ctx, Filter{}, FindOptions{Sort: SortCreatedAtAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, []string{asc[0].ID, asc[1].ID})
}

func TestMemoryRepository_CountAndDeleteMany(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, p := range []Platform{PlatformWeb, PlatformWeb, PlatformReddit} {
		_, err := repo.Save(ctx, NewReport("x", Source{Platform: p}, nil))
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx, Filter{Platform: PlatformWeb})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deleted, err := repo.DeleteMany(ctx, Filter{Platform: PlatformWeb})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	n, err = repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryRepository_Claim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, NewReport("help", Source{}, nil))
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, saved.ID, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.ProcessingStatus)
	assert.Equal(t, saved.Version+1, claimed.Version)

	_, err = repo.Claim(ctx, saved.ID, ReprocessableStatuses...)
	assert.True(t, rferrors.IsInvalidState(err))

	_, err = repo.Claim(ctx, "missing", StatusPending)
	assert.True(t, rferrors.IsNotFound(err))
}

func TestMemoryRepository_ConcurrentClaimSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved, err := repo.Save(ctx, NewReport("help", Source{}, nil))
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Claim(ctx, saved.ID, StatusPending); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemoryRepository_Stats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	add := func(urgency Urgency, help bool, status ProcessingStatus) {
		r := NewReport("x", Source{}, nil)
		r.Classification.Urgency = urgency
		r.Classification.IsHelpRequest = help
		r.ProcessingStatus = status
		_, err := repo.Save(ctx, r)
		require.NoError(t, err)
	}
	add(UrgencyHigh, true, StatusCompleted)
	add(UrgencyHigh, false, StatusCompleted)
	add(UrgencyMedium, true, StatusCompleted)
	add("", false, StatusPending)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByUrgency[UrgencyHigh])
	assert.Equal(t, 1, stats.ByUrgency[UrgencyMedium])
	assert.Equal(t, 0, stats.ByUrgency[UrgencyLow])
	assert.Equal(t, 3, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, 2, stats.Urgent)
	assert.Equal(t, 1, stats.HighPriority)
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRepo(t).Save(ctx, NewReport("x", Source{}, nil))
	assert.ErrorIs(t, err, context.Canceled)
}
