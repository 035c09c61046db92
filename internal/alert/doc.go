// Package alert keeps at most one in-app alert visible.
//
// The Coordinator is a small state machine (idle, showing, hiding) guarded
// by a mutex. Requests that arrive while an alert is visible or animating
// out wait in a bounded FIFO queue; the presenter never sees two alerts at
// once.
package alert
