package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/ratingsync/internal/rating"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const recordColumns = `id, identifier, rating, comments, timestamp, synced, sync_attempts,
	last_sync_attempt, synced_at, device_id`

// scanRecord scans a row selected with recordColumns.
func scanRecord(row rowScanner) (rating.Record, error) {
	var (
		r           rating.Record
		ts          string
		synced      int
		lastAttempt sql.NullString
		syncedAt    sql.NullString
	)

	if err := row.Scan(
		&r.ID, &r.Identifier, &r.Rating, &r.Comments, &ts, &synced, &r.SyncAttempts,
		&lastAttempt, &syncedAt, &r.DeviceID,
	); err != nil {
		return rating.Record{}, err
	}

	var err error
	if r.Timestamp, err = rating.ParseTime(ts); err != nil {
		return rating.Record{}, fmt.Errorf("scan record %d: %w", r.ID, err)
	}
	r.Synced = synced == 1
	if r.LastSyncAttempt, err = parseNullTime(lastAttempt); err != nil {
		return rating.Record{}, fmt.Errorf("scan record %d: %w", r.ID, err)
	}
	if r.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return rating.Record{}, fmt.Errorf("scan record %d: %w", r.ID, err)
	}
	r.Source = rating.SourcePrimary
	return r, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := rating.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: rating.FormatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalHeader converts response headers to JSON TEXT for storage.
func marshalHeader(h http.Header) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	return string(data), nil
}

// unmarshalHeader parses JSON TEXT back into response headers.
func unmarshalHeader(data string) (http.Header, error) {
	h := make(http.Header)
	if data == "" || data == "{}" {
		return h, nil
	}
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return h, nil
}
