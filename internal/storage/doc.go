// Package storage persists the append-only reminder audit trail.
//
// Two drivers exist: "file" writes JSON Lines, "sqlite" writes to an SQLite
// database through modernc.org/sqlite.
package storage
