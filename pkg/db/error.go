package db

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryableErr reports whether err is a transient datastore failure that a
// later re-submission of the same work may succeed on: lock contention,
// serialization failures, dropped connections. Constraint and data errors are
// never retryable.
func IsRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if IsDuplicateKeyErr(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",                 // postgres 40P01 / mysql 1213
		"could not serialize",      // postgres 40001
		"lock wait timeout",        // mysql 1205
		"database is locked",       // sqlite busy
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"too many connections",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
