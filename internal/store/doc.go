// Package store provides SQLite-backed durable storage for rating records
// and for the asset cache generations.
//
// The record table is a local durable queue:
//   - Records: one row per submitted rating with sync-state metadata
//   - Deterministic reads: unsynced records are always returned ORDER BY id ASC
//   - Per-record serialization: every mutation takes the record's lock and
//     runs in its own transaction
//   - Monotonic attempts: sync_attempts is only ever incremented, and is
//     frozen once a record is marked synced
//
// Records wraps Store with the profile key-value store as a secondary path,
// used when SQLite cannot be opened or an insert fails.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Cache entries cascade with their generation
package store
