// Package assetcache keeps a versioned local copy of the rating form's
// static assets and serves the form when the origin is unreachable.
//
// A Manager owns a sequence of cache generations stored in SQLite. A
// generation's name is derived from the manifest and the built-in fallback
// content, so changing either produces a new generation. The lifecycle is an
// explicit state machine:
//
//	Idle → Installing → Installed → Activating → Active
//
// Install fetches the manifest's assets by tier. Critical assets are
// integrity checked and replaced by synthetic fallbacks when they fail.
// Important assets are best effort with failures logged, and additional
// assets are best effort with failures ignored. Installation never aborts on
// an asset failure.
//
// Activate deletes every other generation, switches request handling to the
// new generation in one atomic step and publishes SW_ACTIVATED on the bus.
// The previous generation keeps serving until that switch, so two
// generations never serve side by side.
//
// ServeHTTP is the request path. Non-GET requests and the API path go
// straight to the origin. Home requests are served cache-first with
// background revalidation. Every other GET is cache-first, then network,
// then a known-asset alias, then a typed fallback.
package assetcache
