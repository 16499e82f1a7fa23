package store

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ratingsync/internal/rating"
)

func TestCache_PutMatch(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "gen-1"))

	h := http.Header{}
	h.Set("Content-Type", "text/css")
	require.NoError(t, s.CachePut(ctx, "gen-1", CachedResponse{
		URL:    "/static/css/styles.css",
		Status: http.StatusOK,
		Header: h,
		Body:   []byte("body{}"),
	}))

	got, ok, err := s.CacheMatch(ctx, "gen-1", "/static/css/styles.css")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("body{}"), got.Body)
	assert.False(t, got.StoredAt.IsZero())
}

func TestCache_MatchMiss(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "gen-1"))

	_, ok, err := s.CacheMatch(ctx, "gen-1", "/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.CacheMatch(ctx, "no-such-gen", "/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PutReplaces(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "gen-1"))
	require.NoError(t, s.CachePut(ctx, "gen-1", CachedResponse{URL: "/", Status: 200, Body: []byte("v1")}))
	require.NoError(t, s.CachePut(ctx, "gen-1", CachedResponse{URL: "/", Status: 200, Body: []byte("v2")}))

	got, ok, err := s.CacheMatch(ctx, "gen-1", "/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got.Body)

	urls, err := s.CacheURLs(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, urls)
}

func TestCache_PutRequiresGeneration(t *testing.T) {
	s, _ := createTestStore(t)

	err := s.CachePut(context.Background(), "never-opened", CachedResponse{URL: "/", Status: 200})
	assert.Error(t, err)
}

func TestCache_GenerationsIsolated(t *testing.T) {
	s, clk := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "old"))
	clk.Advance(time.Minute)
	require.NoError(t, s.OpenCache(ctx, "new"))
	require.NoError(t, s.CachePut(ctx, "old", CachedResponse{URL: "/", Status: 200, Body: []byte("old")}))
	require.NoError(t, s.CachePut(ctx, "new", CachedResponse{URL: "/", Status: 200, Body: []byte("new")}))

	keys, err := s.CacheKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, keys)

	deleted, err := s.DeleteCache(ctx, "old")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := s.CacheMatch(ctx, "old", "/")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := s.CacheMatch(ctx, "new", "/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got.Body)

	deleted, err = s.DeleteCache(ctx, "old")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCache_OpenIdempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "gen-1"))
	require.NoError(t, s.CachePut(ctx, "gen-1", CachedResponse{URL: "/", Status: 200}))
	require.NoError(t, s.OpenCache(ctx, "gen-1"))

	has, err := s.HasCache(ctx, "gen-1")
	require.NoError(t, err)
	assert.True(t, has)

	urls, err := s.CacheURLs(ctx, "gen-1")
	require.NoError(t, err)
	assert.Len(t, urls, 1, "reopening must not drop entries")
}

func TestCache_InstalledMarker(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "gen-1"))
	installed, err := s.CacheInstalled(ctx, "gen-1")
	require.NoError(t, err)
	assert.False(t, installed, "an opened generation is not installed")

	require.NoError(t, s.MarkCacheInstalled(ctx, "gen-1"))
	installed, err = s.CacheInstalled(ctx, "gen-1")
	require.NoError(t, err)
	assert.True(t, installed)

	// Reopening starts a new fill.
	require.NoError(t, s.OpenCache(ctx, "gen-1"))
	installed, err = s.CacheInstalled(ctx, "gen-1")
	require.NoError(t, err)
	assert.False(t, installed)

	assert.ErrorIs(t, s.MarkCacheInstalled(ctx, "missing"), rating.ErrNotFound)
}

func TestCache_DeleteEntry(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.OpenCache(ctx, "gen-1"))
	require.NoError(t, s.CachePut(ctx, "gen-1", CachedResponse{URL: "/", Status: 200, Body: []byte("home")}))

	deleted, err := s.CacheDelete(ctx, "gen-1", "/")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := s.CacheMatch(ctx, "gen-1", "/")
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = s.CacheDelete(ctx, "gen-1", "/")
	require.NoError(t, err)
	assert.False(t, deleted)
}
