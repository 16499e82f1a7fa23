// Package engine implements the ratingsync delivery engine.
//
// The engine drains the durable record queue to the remote ratings endpoint.
// Each sync pass visits every unsynced record once, in insertion order, and
// decides per record whether to skip it (abandoned or still backing off) or
// attempt delivery. A failed delivery increments the record's attempt count;
// a successful one marks it synced. One failing record never aborts the pass.
//
// ARCHITECTURE:
//
// Single pass at a time:
// SyncData is guarded by an atomic flag. A trigger that arrives while a pass
// is running is dropped, not queued. The next trigger starts a fresh pass that
// picks up anything the dropped one would have seen.
//
// Triggers:
// 1. NEW_DATA on the bus while online (a rating was just saved)
// 2. SYNC_INITIATED on the bus (page request or background wake-up)
// 3. FORCE_SYNC on the bus or a direct ForceSync call (manual retry)
// 4. The connectivity coordinator calling SyncData after reconnect
//
// Run consumes the bus triggers in one goroutine. BackgroundSync is an
// optional ticker that publishes SYNC_INITIATED; nothing depends on it firing.
//
// Retry policy:
// attempts=0 → no wait. Otherwise wait min(initial*2^(attempts-1), max) since
// lastSyncAttempt. Records with attempts >= MaxRetries are abandoned: they
// stay unsynced and are only re-attempted by ForceSync.
package engine
