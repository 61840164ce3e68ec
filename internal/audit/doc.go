// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package audit records the security trail of the login surface: sign-ins,
// failures, throttling, lockouts, logouts and two-factor changes.
//
// # Event Types
//
// Authentication:
//   - auth.login_succeeded: a session was issued
//   - auth.login_challenged: password accepted, second factor pending
//   - auth.login_failed: wrong credentials (unknown usernames included)
//   - auth.throttled: attempt refused inside a delay window
//   - auth.locked: attempt refused while the pair or account is locked
//   - auth.challenge_failed: wrong TOTP or backup code
//   - auth.logout: session destroyed by its owner
//
// Two-factor:
//   - 2fa.enrolled, 2fa.disabled, 2fa.backup_codes_regenerated
//
// # Writes
//
// Logger.Record never blocks a request. Events go through a bounded buffer
// to a single writer goroutine; when the buffer is full the event is dropped,
// counted in lessongate_audit_events_total{result="dropped"} and logged.
// Close drains what is buffered.
//
// Events never carry passwords, codes, challenge ids or session ids.
//
// # Storage
//
// DuckDBStore keeps events in the security_events table of the main
// database. MemoryStore is a bounded ring for tests and ephemeral setups.
// Retention is enforced by Logger.Cleanup, which the state cleanup service
// calls on its interval.
//
// # Usage
//
//	store := audit.NewDuckDBStore(db.Conn())
//	if err := store.CreateTable(ctx); err != nil { ... }
//	trail := audit.NewLogger(store, audit.Config{BufferSize: 1024, RetentionDays: 90})
//	defer trail.Close()
//
//	trail.Record(ctx, &audit.Event{
//	    Type:     audit.EventLoginFailed,
//	    Username: "alice",
//	    Address:  "203.0.113.7",
//	})
package audit
