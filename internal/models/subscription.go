// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package models

import "time"

// SubscriptionStatus is the lifecycle state of a course subscription.
type SubscriptionStatus string

const (
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// Subscription relates one identity to one course. There is at most one row per
// (IdentityID, CourseID).
type Subscription struct {
	IdentityID int64              `json:"identity_id"`
	CourseID   int64              `json:"course_id"`
	Status     SubscriptionStatus `json:"status"`
	ExternalID string             `json:"external_id,omitempty"`
	StartAt    time.Time          `json:"start_at"`
	EndAt      *time.Time         `json:"end_at,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// IsActive reports whether the subscription confers entitlement at now.
// Trialing counts the same as active.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return false
	}
	return s.EndAt == nil || s.EndAt.After(now)
}
