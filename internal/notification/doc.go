// Package notification defines the transport-agnostic Notification model,
// the type taxonomy shared by push and realtime events, normalization of raw
// provider payloads, and the bounded notification Store.
package notification
