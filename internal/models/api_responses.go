// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package models

import "time"

// APIResponse is the envelope for every JSON response.
//
// Success:
//
//	{"status":"success","data":{...},"metadata":{"timestamp":"..."}}
//
// Error:
//
//	{"status":"error","data":null,"metadata":{...},"error":{"code":"NOT_ENTITLED","message":"content unavailable"}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError is the machine-readable error payload. Denials carry a code and a
// fixed message; Details only ever holds retry timing.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResponse is returned when a session was issued.
type LoginResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeRequiredResponse is returned when a second factor is needed.
type ChallengeRequiredResponse struct {
	ChallengeRequired bool      `json:"challenge_required"`
	ChallengeID       string    `json:"challenge_id"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// ChallengeRequest is the body of POST /2fa/challenge.
type ChallengeRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required,hexadecimal,len=64"`
	Code        string `json:"code" validate:"required,twofactor_code"`
}

// CodeRequest carries a TOTP code for setup confirmation.
type CodeRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

// PasswordConfirmRequest re-confirms the password for sensitive 2FA changes.
type PasswordConfirmRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
}

// TwoFactorSetupResponse is shown exactly once when setup begins.
type TwoFactorSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// BackupCodesResponse is shown exactly once after enrollment or regeneration.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// TwoFactorStatusResponse describes the caller's enrollment state.
type TwoFactorStatusResponse struct {
	State                string `json:"state"`
	BackupCodesRemaining int    `json:"backup_codes_remaining"`
}

// PlaybackResponse is returned to entitled callers only.
type PlaybackResponse struct {
	LessonID    int64     `json:"lesson_id"`
	PlaybackURL string    `json:"playback_url"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
