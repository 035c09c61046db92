// Package session owns the authentication state and tears it down when the
// backend rejects the token.
//
// An invalidation episode snapshots the token and push identity, gives the
// push deregistration call a bounded head start, clears local state, resets
// navigation to the login screen and raises one "session expired" alert.
// Triggers that arrive while an episode is running join it, and triggers
// that arrive after it finished find an unauthenticated session and only
// make sure state is clear.
package session
