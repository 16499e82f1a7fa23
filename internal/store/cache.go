package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/ratingsync/internal/rating"
)

// CachedResponse is a captured response stored in a cache generation.
type CachedResponse struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// OpenCache creates the named cache generation if it does not exist. An
// existing generation keeps its entries but is no longer marked installed
// until MarkCacheInstalled is called again.
func (s *Store) OpenCache(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_generations (name, created_at)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET installed_at = NULL
	`, name, rating.FormatTime(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("open cache %q: %w", name, err)
	}
	return nil
}

// MarkCacheInstalled records that every asset of the named generation has
// been stored. Returns rating.ErrNotFound if the generation does not exist.
func (s *Store) MarkCacheInstalled(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cache_generations SET installed_at = ? WHERE name = ?
	`, rating.FormatTime(s.clock.Now()), name)
	if err != nil {
		return fmt.Errorf("mark cache %q installed: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark cache %q installed: rows affected: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("mark cache %q installed: %w", name, rating.ErrNotFound)
	}
	return nil
}

// HasCache reports whether the named generation exists, installed or not.
func (s *Store) HasCache(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cache_generations WHERE name = ?
	`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("has cache %q: %w", name, err)
	}
	return n > 0, nil
}

// CacheInstalled reports whether the named generation exists and finished
// installing.
func (s *Store) CacheInstalled(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cache_generations WHERE name = ? AND installed_at IS NOT NULL
	`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("cache installed %q: %w", name, err)
	}
	return n > 0, nil
}

// CacheKeys lists every cache generation, oldest first.
func (s *Store) CacheKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM cache_generations ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("cache keys: scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache keys: iterate: %w", err)
	}
	return names, nil
}

// DeleteCache removes a generation and all of its entries.
// Returns false if the generation did not exist.
func (s *Store) DeleteCache(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete cache %q: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete cache %q: entries: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cache_generations WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %q: generation: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cache %q: rows affected: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete cache %q: commit: %w", name, err)
	}
	return n > 0, nil
}

// CachePut stores (or replaces) a response in the named generation.
// The generation must have been created with OpenCache.
func (s *Store) CachePut(ctx context.Context, name string, resp CachedResponse) error {
	header, err := marshalHeader(resp.Header)
	if err != nil {
		return fmt.Errorf("cache put %q: %w", resp.URL, err)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = s.clock.Now()
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, url, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, url) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, name, resp.URL, resp.Status, header, body, rating.FormatTime(storedAt))
	if err != nil {
		return fmt.Errorf("cache put %q: %w", resp.URL, err)
	}
	return nil
}

// CacheMatch looks up url in the named generation.
func (s *Store) CacheMatch(ctx context.Context, name, url string) (CachedResponse, bool, error) {
	var (
		resp     CachedResponse
		header   string
		storedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, status, header, body, stored_at
		FROM cache_entries
		WHERE cache_name = ? AND url = ?
	`, name, url).Scan(&resp.URL, &resp.Status, &header, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, fmt.Errorf("cache match %q: %w", url, err)
	}

	if resp.Header, err = unmarshalHeader(header); err != nil {
		return CachedResponse{}, false, fmt.Errorf("cache match %q: %w", url, err)
	}
	if resp.StoredAt, err = rating.ParseTime(storedAt); err != nil {
		return CachedResponse{}, false, fmt.Errorf("cache match %q: %w", url, err)
	}
	return resp, true, nil
}

// CacheDelete removes url from the named generation.
// Returns false if there was no such entry.
func (s *Store) CacheDelete(ctx context.Context, name, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE cache_name = ? AND url = ?
	`, name, url)
	if err != nil {
		return false, fmt.Errorf("cache delete %q: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache delete %q: rows affected: %w", url, err)
	}
	return n > 0, nil
}

// CacheURLs lists the keys stored in the named generation in key order.
func (s *Store) CacheURLs(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("cache urls %q: %w", name, err)
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("cache urls %q: scan: %w", name, err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache urls %q: iterate: %w", name, err)
	}
	return urls, nil
}
