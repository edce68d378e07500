//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DriverName is the database/sql driver used by the store.
const DriverName = "sqlite"

// DriverDescription is reported by Stats.
const DriverDescription = "modernc.org/sqlite (pure Go)"

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}
