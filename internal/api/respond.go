// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/models"
	"github.com/tomtom215/lessongate/internal/playback"
	"github.com/tomtom215/lessongate/internal/validation"
)

// Error codes
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeNotEntitled        = "NOT_ENTITLED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeLocked             = "LOCKED"
	CodeContentUnavailable = "CONTENT_UNAVAILABLE"
	CodeInvalidTwoFactor   = "INVALID_2FA_CODE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
)

// Fixed denial messages. They never say whether a username or asset exists.
const (
	msgUnauthenticated    = "authentication required"
	msgContentUnavailable = "content unavailable"
	msgRateLimited        = "too many attempts, try again later"
	msgLocked             = "temporarily locked, try again later"
	msgInvalidTwoFactor   = "invalid verification code"
)

const maxRequestBody = 16 << 10

// respondJSON writes the envelope with status.
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: metadata(r),
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: metadata(r),
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func metadata(r *http.Request) models.Metadata {
	return models.Metadata{
		Timestamp: time.Now().UTC(),
		RequestID: logging.RequestIDFromContext(r.Context()),
	}
}

// respondDenial maps the auth and playback error taxonomy to responses. It is
// the only place denials become HTTP. Unknown errors are 500 with no detail.
func respondDenial(w http.ResponseWriter, r *http.Request, err error) {
	now := time.Now()

	var locked *auth.LockedError
	var limited *auth.RateLimitedError

	switch {
	case errors.As(err, &locked):
		retry := ceilSeconds(locked.RetryAfter(now))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		respondError(w, r, http.StatusLocked, CodeLocked, msgLocked, map[string]interface{}{
			"locked_until":        locked.Until.UTC().Format(time.RFC3339),
			"retry_after_seconds": retry,
		})

	case errors.As(err, &limited):
		retry := ceilSeconds(limited.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		respondError(w, r, http.StatusTooManyRequests, CodeRateLimited, msgRateLimited, map[string]interface{}{
			"retry_after_seconds": retry,
		})

	case errors.Is(err, auth.ErrLocked):
		respondError(w, r, http.StatusLocked, CodeLocked, msgLocked, nil)

	case errors.Is(err, auth.ErrRateLimited):
		respondError(w, r, http.StatusTooManyRequests, CodeRateLimited, msgRateLimited, nil)

	case errors.Is(err, auth.ErrInvalidTwoFactorCode):
		respondError(w, r, http.StatusUnauthorized, CodeInvalidTwoFactor, msgInvalidTwoFactor, nil)

	case errors.Is(err, auth.ErrUnauthenticated):
		respondError(w, r, http.StatusUnauthorized, CodeUnauthenticated, msgUnauthenticated, nil)

	case errors.Is(err, auth.ErrNotEntitled):
		respondError(w, r, http.StatusForbidden, CodeNotEntitled, msgContentUnavailable, nil)

	case errors.Is(err, playback.ErrSigningUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, CodeContentUnavailable, msgContentUnavailable, nil)

	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled API error")
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

// ceilSeconds rounds up so clients never retry early; at least 1.
func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// decodeAndValidate reads a JSON body into dst and validates it. On failure
// it writes the response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		respondError(w, r, http.StatusUnsupportedMediaType, CodeInvalidRequest, "content type must be application/json", nil)
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", nil)
		return false
	}

	if verr := validation.ValidateStruct(dst); verr != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, verr.Error(), map[string]interface{}{
			"fields": verr.Fields(),
		})
		return false
	}
	return true
}
