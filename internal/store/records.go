package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/ratingsync/internal/clock"
	"github.com/roach88/ratingsync/internal/kv"
	"github.com/roach88/ratingsync/internal/rating"
)

// Records is the Durable Record Store used by the rest of the agent.
//
// It fronts the SQLite Store with the profile key-value store as a secondary
// path. Saves that cannot reach SQLite are kept in kv under
// kv.KeyOfflineRatings with negative ids, and every read merges both paths
// into one view of unsynced work. Mutations dispatch on the id sign.
//
// A record recovered through both paths can be delivered twice; delivery is
// at-least-once.
type Records struct {
	primary  *Store
	cause    error
	fallback *kv.Store
	deviceID string
	notify   func()
	clock    clock.Clock
	logger   *slog.Logger

	fallbackMu sync.Mutex
}

// RecordsOption configures Records.
type RecordsOption func(*Records)

// WithNotifier sets the hook called after every successful save, on either
// path. The sync engine uses it to react without polling.
func WithNotifier(fn func()) RecordsOption {
	return func(r *Records) {
		r.notify = fn
	}
}

// WithRecordsClock sets the clock used by the fallback path.
func WithRecordsClock(c clock.Clock) RecordsOption {
	return func(r *Records) {
		r.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RecordsOption {
	return func(r *Records) {
		r.logger = l
	}
}

// NewRecords wraps an already opened primary store. primary may be nil, in
// which case Records runs degraded on the fallback path only.
func NewRecords(primary *Store, fallback *kv.Store, deviceID string, opts ...RecordsOption) *Records {
	r := &Records{
		primary:  primary,
		fallback: fallback,
		deviceID: deviceID,
		notify:   func() {},
		clock:    clock.System{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if primary == nil {
		r.cause = rating.ErrStorageUnavailable
	}
	return r
}

// OpenRecords opens the SQLite store at path. If it cannot be opened the
// returned Records is degraded: a non-blocking warning is logged and all
// saves go to the fallback path. Check Degraded for the cause.
func OpenRecords(path string, fallback *kv.Store, deviceID string, storeOpts []Option, opts ...RecordsOption) *Records {
	primary, err := Open(path, storeOpts...)
	r := NewRecords(primary, fallback, deviceID, opts...)
	if err != nil {
		r.cause = fmt.Errorf("%w: %v", rating.ErrStorageUnavailable, err)
		r.logger.Warn("record store unavailable, using fallback persistence",
			"path", path, "error", err)
	}
	return r
}

// Degraded returns the reason the primary store is unavailable, or nil.
func (r *Records) Degraded() error {
	return r.cause
}

// Primary returns the SQLite store, or nil when degraded.
func (r *Records) Primary() *Store {
	return r.primary
}

// DeviceID returns the device id stamped on new records.
func (r *Records) DeviceID() string {
	return r.deviceID
}

// Close closes the primary store.
func (r *Records) Close() error {
	if r.primary == nil {
		return nil
	}
	return r.primary.Close()
}

// SaveRating persists a new rating and returns its id. The device id is
// stamped here. A primary failure is never silent: the record goes to the
// fallback path, and only if both fail is an error returned.
func (r *Records) SaveRating(ctx context.Context, rec rating.Record) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	rec.DeviceID = r.deviceID

	if r.primary != nil {
		id, err := r.primary.SaveRating(ctx, rec)
		if err == nil {
			r.logger.Debug("rating saved", "id", id, "identifier", rec.Identifier)
			r.notify()
			return id, nil
		}
		if ctx.Err() != nil {
			return 0, err
		}
		r.logger.Warn("primary save failed, using fallback persistence", "error", err)
	}

	id, err := r.saveFallback(rec)
	if err != nil {
		return 0, fmt.Errorf("save rating: %w", err)
	}
	r.logger.Info("rating saved to fallback", "id", id, "identifier", rec.Identifier)
	r.notify()
	return id, nil
}

// GetUnsynced returns primary unsynced records followed by fallback ones.
// A fallback read failure is logged and skipped; a primary failure is fatal.
func (r *Records) GetUnsynced(ctx context.Context) ([]rating.Record, error) {
	out := []rating.Record{}
	if r.primary != nil {
		recs, err := r.primary.GetUnsynced(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	fb, err := r.loadFallback()
	if err != nil {
		r.logger.Warn("fallback records unreadable", "error", err)
		return out, nil
	}
	for _, rec := range fb {
		if !rec.Synced {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CountUnsynced counts unsynced records across both paths.
func (r *Records) CountUnsynced(ctx context.Context) (int, error) {
	n := 0
	if r.primary != nil {
		c, err := r.primary.CountUnsynced(ctx)
		if err != nil {
			return 0, err
		}
		n = c
	}
	fb, err := r.loadFallback()
	if err != nil {
		return n, nil
	}
	for _, rec := range fb {
		if !rec.Synced {
			n++
		}
	}
	return n, nil
}

// CountAbandoned counts unsynced records on both paths whose attempts reached
// maxRetries.
func (r *Records) CountAbandoned(ctx context.Context, maxRetries int) (int, error) {
	n := 0
	if r.primary != nil {
		c, err := r.primary.CountAbandoned(ctx, maxRetries)
		if err != nil {
			return 0, err
		}
		n = c
	}
	fb, err := r.loadFallback()
	if err != nil {
		return n, nil
	}
	for _, rec := range fb {
		if !rec.Synced && rec.SyncAttempts >= maxRetries {
			n++
		}
	}
	return n, nil
}

// MarkSynced marks a record synced on whichever path holds it.
func (r *Records) MarkSynced(ctx context.Context, id int64) error {
	if id < 0 {
		return r.mutateFallback(id, func(rec *rating.Record) error {
			if rec.Synced {
				return nil
			}
			now := r.clock.Now()
			rec.Synced = true
			rec.SyncedAt = &now
			return nil
		})
	}
	if r.primary == nil {
		return fmt.Errorf("mark synced %d: %w", id, rating.ErrStorageUnavailable)
	}
	return r.primary.MarkSynced(ctx, id)
}

// IncrementSyncAttempt increments attempts on whichever path holds the record.
func (r *Records) IncrementSyncAttempt(ctx context.Context, id int64) (int, error) {
	if id < 0 {
		var attempts int
		err := r.mutateFallback(id, func(rec *rating.Record) error {
			if !rec.Synced {
				now := r.clock.Now()
				rec.SyncAttempts++
				rec.LastSyncAttempt = &now
			}
			attempts = rec.SyncAttempts
			return nil
		})
		return attempts, err
	}
	if r.primary == nil {
		return 0, fmt.Errorf("increment attempt %d: %w", id, rating.ErrStorageUnavailable)
	}
	return r.primary.IncrementSyncAttempt(ctx, id)
}

// ResetAttempts clears the attempt count on whichever path holds the record.
func (r *Records) ResetAttempts(ctx context.Context, id int64) error {
	if id < 0 {
		return r.mutateFallback(id, func(rec *rating.Record) error {
			if !rec.Synced {
				rec.SyncAttempts = 0
				rec.LastSyncAttempt = nil
			}
			return nil
		})
	}
	if r.primary == nil {
		return fmt.Errorf("reset attempts %d: %w", id, rating.ErrStorageUnavailable)
	}
	return r.primary.ResetAttempts(ctx, id)
}

// Get returns a record by id from whichever path holds it.
func (r *Records) Get(ctx context.Context, id int64) (rating.Record, error) {
	if id < 0 {
		fb, err := r.loadFallback()
		if err != nil {
			return rating.Record{}, err
		}
		for _, rec := range fb {
			if rec.ID == id {
				return rec, nil
			}
		}
		return rating.Record{}, fmt.Errorf("get %d: %w", id, rating.ErrNotFound)
	}
	if r.primary == nil {
		return rating.Record{}, fmt.Errorf("get %d: %w", id, rating.ErrStorageUnavailable)
	}
	return r.primary.Get(ctx, id)
}

// FallbackCount returns how many records are held on the fallback path.
func (r *Records) FallbackCount() int {
	fb, err := r.loadFallback()
	if err != nil {
		return 0
	}
	return len(fb)
}

// MergeFallback moves every fallback record into the primary store,
// preserving its timestamp and sync state. Returns the number moved.
//
// A crash between import and removal leaves the record on both paths; it is
// then delivered twice, which the at-least-once contract accepts.
func (r *Records) MergeFallback(ctx context.Context) (int, error) {
	if r.primary == nil {
		return 0, rating.ErrStorageUnavailable
	}

	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()

	var fb []rating.Record
	if _, err := r.fallback.GetJSON(kv.KeyOfflineRatings, &fb); err != nil {
		return 0, fmt.Errorf("merge fallback: %w", err)
	}
	if len(fb) == 0 {
		return 0, nil
	}

	var remaining []rating.Record
	moved := 0
	var firstErr error
	for _, rec := range fb {
		newID, err := r.primary.Import(ctx, rec)
		if err != nil {
			remaining = append(remaining, rec)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.logger.Info("fallback record merged", "fallback_id", rec.ID, "id", newID)
		moved++
	}

	if len(remaining) == 0 {
		if err := r.fallback.Delete(kv.KeyOfflineRatings); err != nil {
			return moved, fmt.Errorf("merge fallback: %w", err)
		}
	} else if err := r.fallback.SetJSON(kv.KeyOfflineRatings, remaining); err != nil {
		return moved, fmt.Errorf("merge fallback: %w", err)
	}

	if firstErr != nil {
		return moved, fmt.Errorf("merge fallback: %w", firstErr)
	}
	return moved, nil
}

func (r *Records) loadFallback() ([]rating.Record, error) {
	if r.fallback == nil {
		return nil, nil
	}
	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()

	var fb []rating.Record
	if _, err := r.fallback.GetJSON(kv.KeyOfflineRatings, &fb); err != nil {
		return nil, err
	}
	for i := range fb {
		fb[i].Source = rating.SourceFallback
	}
	return fb, nil
}

// saveFallback appends rec to the fallback list with a fresh negative id.
func (r *Records) saveFallback(rec rating.Record) (int64, error) {
	if r.fallback == nil {
		return 0, rating.ErrStorageUnavailable
	}

	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()

	var id int64
	err := r.fallback.Update(kv.KeyOfflineRatings, func(current string) (string, error) {
		var fb []rating.Record
		if err := decodeFallback(current, &fb); err != nil {
			return "", err
		}

		now := r.clock.Now()
		id = -now.UnixMilli()
		for _, existing := range fb {
			if existing.ID <= id {
				id = existing.ID - 1
			}
		}

		rec.ID = id
		rec.Timestamp = now
		rec.Synced = false
		rec.SyncAttempts = 0
		rec.LastSyncAttempt = nil
		rec.SyncedAt = nil
		rec.Identifier = rating.Normalize(rec.Identifier)
		rec.Comments = rating.Normalize(rec.Comments)
		rec.Source = rating.SourceFallback
		fb = append(fb, rec)

		return encodeFallback(fb)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Records) mutateFallback(id int64, fn func(*rating.Record) error) error {
	if r.fallback == nil {
		return fmt.Errorf("fallback record %d: %w", id, rating.ErrNotFound)
	}

	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()

	return r.fallback.Update(kv.KeyOfflineRatings, func(current string) (string, error) {
		var fb []rating.Record
		if err := decodeFallback(current, &fb); err != nil {
			return "", err
		}
		for i := range fb {
			if fb[i].ID == id {
				if err := fn(&fb[i]); err != nil {
					return "", err
				}
				return encodeFallback(fb)
			}
		}
		return "", fmt.Errorf("fallback record %d: %w", id, rating.ErrNotFound)
	})
}
