// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package audit

import (
	"context"
	"time"
)

// EventType names a kind of security event.
type EventType string

const (
	EventLoginSucceeded  EventType = "auth.login_succeeded"
	EventLoginChallenged EventType = "auth.login_challenged"
	EventLoginFailed     EventType = "auth.login_failed"
	EventThrottled       EventType = "auth.throttled"
	EventLocked          EventType = "auth.locked"
	EventChallengeFailed EventType = "auth.challenge_failed"
	EventLogout          EventType = "auth.logout"

	EventTwoFactorEnrolled      EventType = "2fa.enrolled"
	EventTwoFactorDisabled      EventType = "2fa.disabled"
	EventBackupCodesRegenerated EventType = "2fa.backup_codes_regenerated"
)

// Severity ranks events for triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome is whether the recorded action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// typeDefaults gives the severity and outcome implied by each type.
var typeDefaults = map[EventType]struct {
	severity Severity
	outcome  Outcome
}{
	EventLoginSucceeded:         {SeverityInfo, OutcomeSuccess},
	EventLoginChallenged:        {SeverityInfo, OutcomeSuccess},
	EventLoginFailed:            {SeverityWarning, OutcomeFailure},
	EventThrottled:              {SeverityWarning, OutcomeFailure},
	EventLocked:                 {SeverityCritical, OutcomeFailure},
	EventChallengeFailed:        {SeverityWarning, OutcomeFailure},
	EventLogout:                 {SeverityInfo, OutcomeSuccess},
	EventTwoFactorEnrolled:      {SeverityWarning, OutcomeSuccess},
	EventTwoFactorDisabled:      {SeverityCritical, OutcomeSuccess},
	EventBackupCodesRegenerated: {SeverityWarning, OutcomeSuccess},
}

// Event is one audit record. IdentityID is zero when the username did not
// resolve (failed logins for unknown names).
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	Severity   Severity  `json:"severity"`
	Outcome    Outcome   `json:"outcome"`
	IdentityID int64     `json:"identity_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	Address    string    `json:"address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`

	// Detail is a short machine-readable qualifier such as the second-factor
	// method or the lock scope.
	Detail string `json:"detail,omitempty"`
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	Types      []EventType
	Username   string
	IdentityID int64
	Address    string
	Since      time.Time
	Until      time.Time
	Limit      int
}

func (f *QueryFilter) matches(e *Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Username != "" && f.Username != e.Username {
		return false
	}
	if f.IdentityID != 0 && f.IdentityID != e.IdentityID {
		return false
	}
	if f.Address != "" && f.Address != e.Address {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	// Query returns matching events, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	// DeleteBefore removes events older than cutoff and returns how many.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
