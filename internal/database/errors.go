// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package database

import (
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrIdentityExists is returned when a username is already taken.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrIdentityNotFound is returned by lookups by id.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrLessonNotFound is returned when a lesson id does not exist.
	ErrLessonNotFound = errors.New("lesson not found")

	// ErrCourseExists is returned when a course slug is already taken.
	ErrCourseExists = errors.New("course already exists")
)

// closeQuietly closes a resource, ignoring any error.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // Explicitly ignore error - cleanup is best-effort
	}
}

// rollbackQuietly rolls back a transaction that may already be committed.
func rollbackQuietly(tx *sql.Tx) {
	_ = tx.Rollback() //nolint:errcheck // ErrTxDone after commit is expected
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// DuckDB unique constraint error messages contain "UNIQUE constraint" or "Duplicate key"
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "unique constraint") || strings.Contains(errMsg, "duplicate key")
}

// isTransactionConflict reports a DuckDB write-write conflict between transactions.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "conflict")
}

// utc normalizes timestamps before they are written. DuckDB TIMESTAMP has no zone.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
