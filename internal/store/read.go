package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ratingsync/internal/rating"
)

// GetUnsynced returns all records with synced=false in insertion order.
//
// Returns an empty slice (not nil) when nothing is pending.
func (s *Store) GetUnsynced(ctx context.Context) ([]rating.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM ratings
		WHERE synced = 0
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced: %w", err)
	}
	defer rows.Close()

	records := []rating.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unsynced: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsynced: %w", err)
	}
	return records, nil
}

// Get retrieves a single record by id.
// Returns rating.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id int64) (rating.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM ratings
		WHERE id = ?
	`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rating.Record{}, fmt.Errorf("get %d: %w", id, rating.ErrNotFound)
	}
	if err != nil {
		return rating.Record{}, fmt.Errorf("get %d: %w", id, err)
	}
	return r, nil
}

// CountUnsynced returns the number of records with synced=false.
func (s *Store) CountUnsynced(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ratings WHERE synced = 0
	`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsynced: %w", err)
	}
	return n, nil
}

// CountAbandoned returns the number of unsynced records whose attempts
// reached maxRetries.
func (s *Store) CountAbandoned(ctx context.Context, maxRetries int) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ratings WHERE synced = 0 AND sync_attempts >= ?
	`, maxRetries).Scan(&n); err != nil {
		return 0, fmt.Errorf("count abandoned: %w", err)
	}
	return n, nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]rating.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM ratings
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	records := []rating.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent: %w", err)
	}
	return records, nil
}
