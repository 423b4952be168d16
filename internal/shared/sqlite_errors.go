// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteClass groups SQLite failures by how callers should react.
type SQLiteClass int

const (
	SQLiteOther SQLiteClass = iota
	// SQLiteConflict is SQLITE_BUSY or SQLITE_LOCKED; the write may be retried.
	SQLiteConflict
	// SQLiteFull means the disk or quota is exhausted. Never retried.
	SQLiteFull
)

var classMessages = []struct {
	substr string
	class  SQLiteClass
}{
	{"SQLITE_BUSY", SQLiteConflict},
	{"database is locked", SQLiteConflict},
	{"SQLITE_FULL", SQLiteFull},
	{"database or disk is full", SQLiteFull},
	{"no space left on device", SQLiteFull},
}

// ClassifySQLite returns the class of err. Driver errors are matched on their
// primary result code, anything else on its message.
func ClassifySQLite(err error) SQLiteClass {
	if err == nil {
		return SQLiteOther
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return SQLiteConflict
		case sqlite3.SQLITE_FULL:
			return SQLiteFull
		}
	}
	msg := err.Error()
	for _, m := range classMessages {
		if strings.Contains(msg, m.substr) {
			return m.class
		}
	}
	return SQLiteOther
}

// IsSQLiteConflictError reports SQLite concurrency errors worth retrying.
func IsSQLiteConflictError(err error) bool { return ClassifySQLite(err) == SQLiteConflict }

// IsStorageFullError reports errors meaning the disk or quota is exhausted.
func IsStorageFullError(err error) bool { return ClassifySQLite(err) == SQLiteFull }
