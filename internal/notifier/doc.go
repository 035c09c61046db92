// Package notifier posts system-level notifications while the app is not in
// the foreground.
//
// Messages go through a bounded queue served by a small worker pool. Intake
// is rate limited: posts over the limit are dropped, never delayed, since a
// burst of stale banners is worse than a missing one. Each post is retried
// with jittered exponential backoff and identical messages inside the dedup
// window are suppressed.
//
// # Transport
//
// Delivery is delegated to a Poster (the OS notification surface). The
// daemon's Poster writes JSON lines for the host shell to render.
//
// # History
//
// The service keeps a short in-memory history of posted messages for the
// debug endpoints.
package notifier
