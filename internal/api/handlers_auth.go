// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"net/http"

	"github.com/tomtom215/lessongate/internal/audit"
	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/models"
)

// Login handles POST /api/v1/login. A correct password yields either a
// session (200) or, for identities with two-factor enrolled, a challenge (202).
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.guard.Authenticate(r.Context(), req.Username, req.Password, clientAddress(r))
	if err != nil {
		h.recordDenial(r, 0, req.Username, err)
		respondDenial(w, r, err)
		return
	}
	h.respondAuthResult(w, r, result)
}

// Challenge handles POST /api/v1/2fa/challenge.
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req models.ChallengeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.guard.CompleteChallenge(r.Context(), req.ChallengeID, req.Code, clientAddress(r))
	if err != nil {
		h.recordDenial(r, 0, "", err)
		respondDenial(w, r, err)
		return
	}
	h.respondAuthResult(w, r, result)
}

func (h *Handler) respondAuthResult(w http.ResponseWriter, r *http.Request, result *auth.Result) {
	switch result.Outcome {
	case auth.OutcomeChallengeRequired:
		h.record(r, audit.EventLoginChallenged, result.Challenge.IdentityID, result.Challenge.Username, "")
		respondSuccess(w, r, http.StatusAccepted, models.ChallengeRequiredResponse{
			ChallengeRequired: true,
			ChallengeID:       result.Challenge.ID,
			ExpiresAt:         result.Challenge.ExpiresAt,
		})
	default:
		detail := "password"
		if result.Session.TwoFactor {
			detail = "two_factor"
		}
		h.record(r, audit.EventLoginSucceeded, result.Session.IdentityID, result.Session.Username, detail)
		h.sessions.SetSessionCookie(w, result.Session)
		respondSuccess(w, r, http.StatusOK, models.LoginResponse{
			SessionID: result.Session.ID,
			ExpiresAt: result.Session.ExpiresAt,
		})
	}
}

// Logout handles POST /api/v1/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session == nil {
		respondDenial(w, r, auth.ErrUnauthenticated)
		return
	}

	if err := h.sessions.DestroySession(r.Context(), w, session.ID); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Int64("identity_id", session.IdentityID).Msg("Failed to destroy session")
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return
	}
	h.record(r, audit.EventLogout, session.IdentityID, session.Username, "")
	respondSuccess(w, r, http.StatusOK, map[string]bool{"logged_out": true})
}
