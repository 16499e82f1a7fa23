// Package rating defines the rating record and its canonical encodings.
//
// This package contains the types shared by every other internal package.
// rating imports nothing internal, so the store, engine, cache manager and
// local API can all depend on it without cycles.
//
// Key constraints:
//   - Record.ID is assigned by the store on insert and never changes
//   - Synced implies SyncedAt is set and SyncAttempts is frozen
//   - SyncAttempts only increases
//   - Wire payloads never carry synced, syncAttempts or lastSyncAttempt
package rating
