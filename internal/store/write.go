package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ratingsync/internal/rating"
)

// SaveRating inserts a new unsynced record and returns its generated id.
//
// Only identifier and rating presence are checked. Timestamp, synced=false
// and syncAttempts=0 are stamped here; DeviceID is taken from the record.
// Free text is NFC normalized before it is persisted.
func (s *Store) SaveRating(ctx context.Context, r rating.Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("save rating: %w", err)
	}

	r.Timestamp = s.clock.Now()
	r.Synced = false
	r.SyncAttempts = 0
	r.LastSyncAttempt = nil
	r.SyncedAt = nil

	id, err := s.insert(ctx, r, rating.SourcePrimary)
	if err != nil {
		return 0, fmt.Errorf("save rating: %w", err)
	}
	return id, nil
}

// Import inserts a record preserving its timestamp and sync state, assigning
// a new id. Used to move records recovered from the fallback path.
func (s *Store) Import(ctx context.Context, r rating.Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("import rating: %w", err)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.clock.Now()
	}
	if r.Synced && r.SyncedAt == nil {
		now := s.clock.Now()
		r.SyncedAt = &now
	}

	id, err := s.insert(ctx, r, rating.SourceFallback)
	if err != nil {
		return 0, fmt.Errorf("import rating: %w", err)
	}
	return id, nil
}

func (s *Store) insert(ctx context.Context, r rating.Record, origin rating.Source) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ratings
		(identifier, rating, comments, timestamp, synced, sync_attempts,
		 last_sync_attempt, synced_at, device_id, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rating.Normalize(r.Identifier),
		r.Rating,
		rating.Normalize(r.Comments),
		rating.FormatTime(r.Timestamp),
		boolToInt(r.Synced),
		r.SyncAttempts,
		formatNullTime(r.LastSyncAttempt),
		formatNullTime(r.SyncedAt),
		r.DeviceID,
		string(origin),
	)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// MarkSynced sets synced=true and syncedAt=now.
// Returns rating.ErrNotFound if the id is absent. Marking an already synced
// record is a no-op that keeps the original syncedAt.
func (s *Store) MarkSynced(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark synced %d: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	var synced int
	err = tx.QueryRowContext(ctx, `SELECT synced FROM ratings WHERE id = ?`, id).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark synced %d: %w", id, rating.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark synced %d: select: %w", id, err)
	}
	if synced == 1 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ratings SET synced = 1, synced_at = ? WHERE id = ?
	`, rating.FormatTime(s.clock.Now()), id); err != nil {
		return fmt.Errorf("mark synced %d: update: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark synced %d: commit: %w", id, err)
	}
	return nil
}

// IncrementSyncAttempt increments syncAttempts, sets lastSyncAttempt=now and
// returns the new count. Returns rating.ErrNotFound if the id is absent.
// A synced record's count is frozen: the call returns it unchanged.
func (s *Store) IncrementSyncAttempt(ctx context.Context, id int64) (int, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("increment attempt %d: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	var attempts, synced int
	err = tx.QueryRowContext(ctx, `
		SELECT sync_attempts, synced FROM ratings WHERE id = ?
	`, id).Scan(&attempts, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("increment attempt %d: %w", id, rating.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempt %d: select: %w", id, err)
	}
	if synced == 1 {
		return attempts, nil
	}

	attempts++
	if _, err := tx.ExecContext(ctx, `
		UPDATE ratings SET sync_attempts = ?, last_sync_attempt = ? WHERE id = ?
	`, attempts, rating.FormatTime(s.clock.Now()), id); err != nil {
		return 0, fmt.Errorf("increment attempt %d: update: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("increment attempt %d: commit: %w", id, err)
	}
	return attempts, nil
}

// ResetAttempts clears syncAttempts and lastSyncAttempt so an abandoned
// record re-enters normal retrying. Returns rating.ErrNotFound if the id is
// absent. Synced records are left alone.
func (s *Store) ResetAttempts(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE ratings SET sync_attempts = 0, last_sync_attempt = NULL
		WHERE id = ? AND synced = 0
	`, id)
	if err != nil {
		return fmt.Errorf("reset attempts %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM ratings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reset attempts %d: %w", id, rating.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reset attempts %d: select: %w", id, err)
	}
	return nil
}
