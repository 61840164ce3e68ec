// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"errors"
	"fmt"
	"time"
)

// Denial taxonomy shared by the Guard, the two-factor flow and the API layer.
// The API maps each sentinel to exactly one status code and message.
var (
	// ErrUnauthenticated covers unknown principals, wrong credentials, disabled
	// identities, missing sessions and attempt-store failures alike.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotEntitled means the caller may not watch the requested lesson.
	ErrNotEntitled = errors.New("not entitled")

	// ErrRateLimited means the attempt arrived inside a progressive delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrLocked means the principal or principal/address pair is locked out.
	ErrLocked = errors.New("locked")

	// ErrInvalidTwoFactorCode means a TOTP or backup code was rejected.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
)

// RateLimitedError carries how long the caller must wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Is reports ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// LockedError carries when the lockout ends.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is reports ErrLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// RetryAfter returns the remaining lockout relative to now, never negative.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	if d := e.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}
