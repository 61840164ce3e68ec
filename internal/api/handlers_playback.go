// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/database"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/models"
	"github.com/tomtom215/lessongate/internal/playback"
)

// Playback handles GET /api/v1/lesson/{id}/playback. Unknown, unreleased and
// unentitled lessons all get the same 403 so a caller cannot probe which ids
// exist. The raw asset id only leaves the server inside a signed URL.
func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lessonID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || lessonID <= 0 {
		respondDenial(w, r, auth.ErrNotEntitled)
		return
	}

	var identityID int64
	if session := auth.SessionFromContext(ctx); session != nil {
		identityID = session.IdentityID
	}

	lesson, err := h.lessons.GetLesson(ctx, lessonID)
	if err != nil {
		if !errors.Is(err, database.ErrLessonNotFound) {
			logging.Ctx(ctx).Warn().Err(err).Int64("lesson_id", lessonID).Msg("Lesson lookup failed, denying")
		}
		respondDenial(w, r, auth.ErrNotEntitled)
		return
	}

	allowed, err := h.entitlements.HasAccess(ctx, identityID, lesson)
	if err != nil || !allowed {
		respondDenial(w, r, auth.ErrNotEntitled)
		return
	}

	token, err := h.issuer.Issue(lesson.PlaybackID, h.tokenTTL)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("lesson_id", lesson.ID).Msg("Playback token issuance failed")
		respondDenial(w, r, err)
		return
	}

	respondSuccess(w, r, http.StatusOK, models.PlaybackResponse{
		LessonID:    lesson.ID,
		PlaybackURL: playback.SignedURL(h.playbackBaseURL, lesson.PlaybackID, token.Value),
		Token:       token.Value,
		ExpiresAt:   token.ExpiresAt,
	})
}
