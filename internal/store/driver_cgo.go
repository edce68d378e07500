//go:build sqlite_cgo

package store

// Build with -tags "sqlite_cgo sqlite_fts5" so mattn compiles FTS5 in.

import (
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver
)

// DriverName is the database/sql driver used by the store.
const DriverName = "sqlite3"

// DriverDescription is reported by Stats.
const DriverDescription = "mattn/go-sqlite3 (cgo)"

func dsn(path string) string {
	return "file:" + path +
		"?_busy_timeout=5000" +
		"&_journal_mode=WAL" +
		"&_synchronous=NORMAL"
}
