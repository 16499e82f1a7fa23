package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ratingsync/internal/rating"
	"github.com/roach88/ratingsync/internal/testutil"
)

func TestSaveRating_StampsState(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	rec := createTestRating("FORM-7", 5)
	rec.Comments = "great"
	rec.Synced = true
	rec.SyncAttempts = 4

	id, err := s.SaveRating(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "FORM-7", got.Identifier)
	assert.Equal(t, 5, got.Rating)
	assert.Equal(t, "great", got.Comments)
	assert.Equal(t, "tablet_test", got.DeviceID)
	assert.False(t, got.Synced, "new records are never synced")
	assert.Equal(t, 0, got.SyncAttempts)
	assert.Nil(t, got.LastSyncAttempt)
	assert.Nil(t, got.SyncedAt)
	assert.True(t, clk.Now().Equal(got.Timestamp))
	assert.Equal(t, rating.SourcePrimary, got.Source)
}

func TestSaveRating_IncreasingIDs(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 1; i <= 5; i++ {
		id, err := s.SaveRating(ctx, createTestRating("X", i))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestSaveRating_RejectsInvalid(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveRating(ctx, rating.Record{Rating: 3})
	assert.ErrorIs(t, err, rating.ErrInvalid)

	_, err = s.SaveRating(ctx, rating.Record{Identifier: "X"})
	assert.ErrorIs(t, err, rating.ErrInvalid)

	n, err := s.CountUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSaveRating_NormalizesText(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	rec := createTestRating("café", 2)
	rec.Comments = "très bien"
	id, err := s.SaveRating(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "café", got.Identifier)
	assert.Equal(t, "très bien", got.Comments)
}

func TestImport_PreservesState(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	last := ts.Add(time.Minute)
	rec := createTestRating("OLD", 4)
	rec.ID = -1706774400000
	rec.Timestamp = ts
	rec.SyncAttempts = 2
	rec.LastSyncAttempt = &last

	id, err := s.Import(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, 2, got.SyncAttempts)
	require.NotNil(t, got.LastSyncAttempt)
	assert.True(t, last.Equal(*got.LastSyncAttempt))

	var origin string
	require.NoError(t, s.db.QueryRow("SELECT origin FROM ratings WHERE id = ?", id).Scan(&origin))
	assert.Equal(t, "fallback", origin)
}

func TestMarkSynced_SetsSyncedAt(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	require.NoError(t, s.MarkSynced(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Synced)
	require.NotNil(t, got.SyncedAt)
	assert.True(t, clk.Now().Equal(*got.SyncedAt))
}

func TestMarkSynced_Idempotent(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, id))
	first, err := s.Get(ctx, id)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	require.NoError(t, s.MarkSynced(ctx, id))
	second, err := s.Get(ctx, id)
	require.NoError(t, err)

	assert.True(t, second.Synced)
	assert.True(t, first.SyncedAt.Equal(*second.SyncedAt), "syncedAt must keep its first value")
}

func TestMarkSynced_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	err := s.MarkSynced(context.Background(), 999)
	assert.ErrorIs(t, err, rating.ErrNotFound)
}

func TestIncrementSyncAttempt_Counts(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		clk.Advance(time.Second)
		n, err := s.IncrementSyncAttempt(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SyncAttempts)
	require.NotNil(t, got.LastSyncAttempt)
	assert.True(t, clk.Now().Equal(*got.LastSyncAttempt))
	assert.False(t, got.Synced)
}

func TestIncrementSyncAttempt_FrozenAfterSync(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)
	_, err = s.IncrementSyncAttempt(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, id))

	n, err := s.IncrementSyncAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIncrementSyncAttempt_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.IncrementSyncAttempt(context.Background(), 42)
	assert.ErrorIs(t, err, rating.ErrNotFound)
}

func TestIncrementSyncAttempt_Concurrent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementSyncAttempt(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workers, got.SyncAttempts)
	assert.Equal(t, 0, s.locks.size(), "record locks must be released")
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/ratings.db"
	clk := testutil.NewFakeClock(testutil.DefaultStart)
	ctx := context.Background()

	s1, err := Open(path, WithClock(clk))
	require.NoError(t, err)
	id, err := s1.SaveRating(ctx, createTestRating("KEEP", 8))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, WithClock(clk))
	require.NoError(t, err)
	defer s2.Close()

	pending, err := s2.GetUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, "KEEP", pending[0].Identifier)
}

func TestResetAttempts(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		_, err := s.IncrementSyncAttempt(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, s.ResetAttempts(ctx, id))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SyncAttempts)
	assert.Nil(t, got.LastSyncAttempt)

	n, err := s.IncrementSyncAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResetAttempts_SyncedUntouched(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRating(ctx, createTestRating("A", 1))
	require.NoError(t, err)
	_, err = s.IncrementSyncAttempt(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, id))

	require.NoError(t, s.ResetAttempts(ctx, id))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SyncAttempts)
}

func TestResetAttempts_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	err := s.ResetAttempts(context.Background(), 42)
	assert.ErrorIs(t, err, rating.ErrNotFound)
}
