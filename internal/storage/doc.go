// Package storage provides the on-device key-value store backing the
// notification logs and persisted session data.
//
// Drivers: "memory" (default, volatile), "file" (snapshot + journal) and
// "sqlite" (modernc.org/sqlite, pure Go).
package storage
