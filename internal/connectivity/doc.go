// Package connectivity tracks whether the device can reach the rating
// server and reacts to transitions.
//
// A Coordinator owns the current online state. Every transition updates the
// status surface, emits exactly one user notification, publishes CONNECTIVITY
// on the bus and persists the state. Going online schedules a sync pass after
// a settle delay; going offline before the delay elapses cancels it, so a
// flapping link does not trigger a burst of passes.
//
// Transitions come from two places: the page reporting browser online/offline
// events through the local API, and a Prober that checks the origin with
// periodic HEAD requests.
package connectivity
