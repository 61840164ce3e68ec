// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/lessongate/internal/audit"
	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/models"
	"github.com/tomtom215/lessongate/internal/twofactor"
)

// TwoFactorStatus handles GET /api/v1/2fa.
func (h *Handler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	status, err := h.twoFactor.Status(r.Context(), session.IdentityID)
	if err != nil {
		h.respondTwoFactorError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, models.TwoFactorStatusResponse{
		State:                string(status.State),
		BackupCodesRemaining: status.RemainingBackupCodes,
	})
}

// BeginTwoFactorSetup handles POST /api/v1/2fa/setup.
func (h *Handler) BeginTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	material, err := h.twoFactor.BeginSetup(r.Context(), session.IdentityID, session.Username)
	if err != nil {
		h.respondTwoFactorError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, models.TwoFactorSetupResponse{
		Secret:     material.Secret,
		OTPAuthURL: material.URL,
	})
}

// ConfirmTwoFactorSetup handles POST /api/v1/2fa/setup/confirm.
func (h *Handler) ConfirmTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	var req models.CodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.twoFactor.ConfirmSetup(r.Context(), session.IdentityID, req.Code)
	if err != nil {
		h.respondTwoFactorError(w, r, err)
		return
	}
	h.record(r, audit.EventTwoFactorEnrolled, session.IdentityID, session.Username, "")
	respondSuccess(w, r, http.StatusOK, models.BackupCodesResponse{BackupCodes: codes})
}

// CancelTwoFactorSetup handles DELETE /api/v1/2fa/setup.
func (h *Handler) CancelTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	if err := h.twoFactor.CancelSetup(r.Context(), session.IdentityID); err != nil {
		h.respondTwoFactorError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, models.TwoFactorStatusResponse{State: string(twofactor.StateUnenrolled)})
}

// DisableTwoFactor handles POST /api/v1/2fa/disable. The password is
// re-verified through the Guard, so guesses here count toward lockout.
func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	var req models.PasswordConfirmRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.guard.VerifyPassword(r.Context(), session.Username, req.Password, clientAddress(r)); err != nil {
		h.recordDenial(r, session.IdentityID, session.Username, err)
		respondDenial(w, r, err)
		return
	}

	if err := h.twoFactor.Disable(r.Context(), session.IdentityID); err != nil {
		h.respondTwoFactorError(w, r, err)
		return
	}
	h.record(r, audit.EventTwoFactorDisabled, session.IdentityID, session.Username, "")
	respondSuccess(w, r, http.StatusOK, models.TwoFactorStatusResponse{State: string(twofactor.StateUnenrolled)})
}

// RegenerateBackupCodes handles POST /api/v1/2fa/backup-codes.
func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())

	var req models.PasswordConfirmRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.guard.VerifyPassword(r.Context(), session.Username, req.Password, clientAddress(r)); err != nil {
		h.recordDenial(r, session.IdentityID, session.Username, err)
		respondDenial(w, r, err)
		return
	}

	codes, err := h.twoFactor.RegenerateBackupCodes(r.Context(), session.IdentityID)
	if err != nil {
		h.respondTwoFactorError(w, r, err)
		return
	}
	h.record(r, audit.EventBackupCodesRegenerated, session.IdentityID, session.Username, "")
	respondSuccess(w, r, http.StatusOK, models.BackupCodesResponse{BackupCodes: codes})
}

func (h *Handler) respondTwoFactorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, twofactor.ErrInvalidCode):
		respondDenial(w, r, err)
	case errors.Is(err, twofactor.ErrAlreadyEnrolled):
		respondError(w, r, http.StatusConflict, CodeConflict, "two-factor already enrolled", nil)
	case errors.Is(err, twofactor.ErrNotPending):
		respondError(w, r, http.StatusConflict, CodeConflict, "no pending two-factor setup", nil)
	case errors.Is(err, twofactor.ErrNotEnrolled):
		respondError(w, r, http.StatusConflict, CodeConflict, "two-factor not enrolled", nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Two-factor operation failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
