// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package api is the HTTP surface: login, the two-factor challenge, lesson
// playback, two-factor management, the payment webhook and health probes.
// Handlers hold no policy of their own; they call the Guard, the Resolver and
// the Issuer and map the result through respondDenial.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/lessongate/internal/audit"
	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/models"
	"github.com/tomtom215/lessongate/internal/playback"
	"github.com/tomtom215/lessongate/internal/twofactor"
)

// LessonStore loads lessons by id.
type LessonStore interface {
	GetLesson(ctx context.Context, id int64) (*models.Lesson, error)
}

// Entitlements decides access. Satisfied by *entitlement.Resolver.
type Entitlements interface {
	HasAccess(ctx context.Context, identityID int64, lesson *models.Lesson) (bool, error)
}

// TwoFactorManager is the enrollment surface. Satisfied by *twofactor.Manager.
type TwoFactorManager interface {
	BeginSetup(ctx context.Context, identityID int64, accountName string) (*twofactor.SetupMaterial, error)
	ConfirmSetup(ctx context.Context, identityID int64, code string) ([]string, error)
	CancelSetup(ctx context.Context, identityID int64) error
	Disable(ctx context.Context, identityID int64) error
	RegenerateBackupCodes(ctx context.Context, identityID int64) ([]string, error)
	Status(ctx context.Context, identityID int64) (twofactor.Status, error)
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerDeps wires the handler. Webhook may be nil when payment ingress is
// served elsewhere. Audit may be nil.
type HandlerDeps struct {
	Guard        *auth.Guard
	Sessions     *auth.SessionMiddleware
	Lessons      LessonStore
	Entitlements Entitlements
	Issuer       *playback.Issuer
	TwoFactor    TwoFactorManager
	Webhook      http.Handler
	Ready        map[string]Pinger
	Audit        *audit.Logger

	PlaybackBaseURL string
	TokenTTL        time.Duration
	TrustProxy      bool
}

// Handler serves the API routes.
type Handler struct {
	guard        *auth.Guard
	sessions     *auth.SessionMiddleware
	lessons      LessonStore
	entitlements Entitlements
	issuer       *playback.Issuer
	twoFactor    TwoFactorManager
	webhook      http.Handler
	ready        map[string]Pinger
	audit        *audit.Logger

	playbackBaseURL string
	tokenTTL        time.Duration
	trustProxy      bool
	startTime       time.Time
}

// NewHandler creates a Handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		guard:           deps.Guard,
		sessions:        deps.Sessions,
		lessons:         deps.Lessons,
		entitlements:    deps.Entitlements,
		issuer:          deps.Issuer,
		twoFactor:       deps.TwoFactor,
		webhook:         deps.Webhook,
		ready:           deps.Ready,
		audit:           deps.Audit,
		playbackBaseURL: deps.PlaybackBaseURL,
		tokenTTL:        deps.TokenTTL,
		trustProxy:      deps.TrustProxy,
		startTime:       time.Now(),
	}
}

// clientAddress returns the caller's IP without port. With TrustProxy the
// router's RealIP middleware has already rewritten RemoteAddr.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) record(r *http.Request, eventType audit.EventType, identityID int64, username, detail string) {
	h.audit.Record(r.Context(), &audit.Event{
		Type:       eventType,
		IdentityID: identityID,
		Username:   username,
		Address:    clientAddress(r),
		UserAgent:  r.UserAgent(),
		Detail:     detail,
	})
}

// recordDenial classifies a Guard error for the audit trail. Store failures
// surface as ErrUnauthenticated and are recorded as failed logins.
func (h *Handler) recordDenial(r *http.Request, identityID int64, username string, err error) {
	switch {
	case errors.Is(err, auth.ErrLocked):
		h.record(r, audit.EventLocked, identityID, username, "")
	case errors.Is(err, auth.ErrRateLimited):
		h.record(r, audit.EventThrottled, identityID, username, "")
	case errors.Is(err, auth.ErrInvalidTwoFactorCode):
		h.record(r, audit.EventChallengeFailed, identityID, username, "")
	case errors.Is(err, auth.ErrUnauthenticated):
		h.record(r, audit.EventLoginFailed, identityID, username, "")
	}
}
