// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package models

import "time"

// Identity is a principal that can authenticate. Identities are soft-disabled,
// never deleted.
type Identity struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Course owns lessons and is the unit of subscription.
type Course struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// Lesson is a single video. PlaybackID is the asset identifier at the video
// delivery network and must never reach a caller who is not entitled.
type Lesson struct {
	ID          int64      `json:"id"`
	CourseID    int64      `json:"course_id"`
	Title       string     `json:"title"`
	PlaybackID  string     `json:"-"`
	FreePreview bool       `json:"free_preview"`
	UnlockAt    *time.Time `json:"unlock_at,omitempty"`
}

// Released reports whether a drip-scheduled lesson is available at now.
func (l *Lesson) Released(now time.Time) bool {
	return l.UnlockAt == nil || !now.Before(*l.UnlockAt)
}
