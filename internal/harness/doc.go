// Package harness runs offline-delivery scenarios against the real record
// store, sync engine and connectivity coordinator.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_then_online
//	description: "Ratings saved offline are delivered after reconnecting"
//	storage: sqlite            # or "fallback" to run degraded
//	retry:
//	  max_retries: 3
//	  initial_backoff: 30s
//	  max_backoff: 4m
//	steps:
//	  - offline: true
//	  - save: { identifier: CNA-5438, rating: 7 }
//	  - sync: normal
//	    expect: { outcome: offline }
//	  - remote: { fail_next: 1, status: 500 }
//	  - online: true
//	  - advance: 30s
//	  - sync: force
//	assertions:
//	  - type: trace_count
//	    action: SYNC_COMPLETED
//	    count: 2
//	  - type: final_state
//	    table: ratings
//	    where: { identifier: CNA-5438 }
//	    expect: { synced: true, sync_attempts: 1 }
//
// Going online runs a sync pass the way the agent does after the settle
// delay, so scenarios stay deterministic.
//
// # Assertion Types
//
//   - trace_contains: a step or bus event with a matching result subset
//   - trace_order: steps or events appear in the given order
//   - trace_count: a step or event appears exactly N times
//   - final_state: rows of the "ratings" or "counts" table match
//
// # Deterministic Testing
//
// Scenarios run with a fake clock that only moves on advance steps, pass ids
// of the form pass-N, and a fresh data directory, so traces compare
// byte-for-byte against golden files.
package harness
