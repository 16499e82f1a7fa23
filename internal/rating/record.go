package rating

import (
	"errors"
	"fmt"
	"time"
)

// Source tags where a record is persisted.
type Source string

const (
	// SourcePrimary marks records held by the SQLite record store.
	SourcePrimary Source = "primary"

	// SourceFallback marks records written to the profile key-value store
	// because the primary store was unavailable. Fallback ids are negative.
	SourceFallback Source = "fallback"
)

// Rating value bounds accepted by the remote endpoint.
const (
	MinValue = 1
	MaxValue = 9
)

var (
	// ErrNotFound is returned when a store mutation targets a missing id.
	ErrNotFound = errors.New("rating not found")

	// ErrInvalid is returned when a record lacks an identifier or rating value.
	ErrInvalid = errors.New("invalid rating")

	// ErrStorageUnavailable is returned when the durable store cannot be used.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Record is one submitted rating awaiting or having completed delivery.
type Record struct {
	ID              int64      `json:"id"`
	Identifier      string     `json:"identifier"`
	Rating          int        `json:"rating"`
	Comments        string     `json:"comments"`
	Timestamp       time.Time  `json:"timestamp"`
	Synced          bool       `json:"synced"`
	SyncAttempts    int        `json:"syncAttempts"`
	LastSyncAttempt *time.Time `json:"lastSyncAttempt,omitempty"`
	SyncedAt        *time.Time `json:"syncedAt,omitempty"`
	DeviceID        string     `json:"deviceId"`
	Source          Source     `json:"source,omitempty"`
}

// Validate checks the only fields the core requires: identifier and rating.
// Range checks are a UI concern and live in the local API.
func (r Record) Validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalid)
	}
	if r.Rating == 0 {
		return fmt.Errorf("%w: rating value is required", ErrInvalid)
	}
	return nil
}

// Eligible reports whether the record may be attempted under maxRetries.
func (r Record) Eligible(maxRetries int) bool {
	return !r.Synced && r.SyncAttempts < maxRetries
}

// Payload returns the wire representation of the record with the
// internal bookkeeping fields (synced, syncAttempts, lastSyncAttempt) stripped.
func (r Record) Payload() map[string]any {
	p := map[string]any{
		"id":         r.ID,
		"identifier": r.Identifier,
		"rating":     r.Rating,
		"comments":   r.Comments,
		"timestamp":  FormatTime(r.Timestamp),
		"deviceId":   r.DeviceID,
	}
	if r.SyncedAt != nil {
		p["syncedAt"] = FormatTime(*r.SyncedAt)
	}
	return p
}

// FormatTime renders t as ISO-8601 in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTime parses timestamps written by FormatTime (and plain RFC 3339).
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
