// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/lessongate/internal/middleware"
)

// RouterConfig holds HTTP-level protections.
type RouterConfig struct {
	CORSOrigins []string

	// LoginRateLimitReqs per LoginRateLimitWindow per client IP on the login,
	// challenge and webhook routes. Independent of the Guard's per-account
	// throttling; 0 disables.
	LoginRateLimitReqs   int
	LoginRateLimitWindow time.Duration
}

// Unauthorized writes the uniform 401 envelope.
func Unauthorized(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusUnauthorized, CodeUnauthenticated, msgUnauthenticated, nil)
}

// WebhookResponse writes payment webhook replies in the API envelope. Failure
// bodies carry no reason so a forger learns nothing about which check failed.
func WebhookResponse(w http.ResponseWriter, r *http.Request, status int) {
	switch {
	case status < http.StatusBadRequest:
		respondSuccess(w, r, status, map[string]interface{}{"accepted": true})
	case status == http.StatusServiceUnavailable:
		respondError(w, r, status, CodeInternal, "event bus unavailable", nil)
	default:
		respondError(w, r, status, CodeInvalidRequest, "invalid payment event", nil)
	}
}

// NewRouter builds the chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if h.trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{"Retry-After", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)

	limit := loginRateLimit(cfg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/login", h.Login)
			r.Post("/2fa/challenge", h.Challenge)
			if h.webhook != nil {
				r.Method(http.MethodPost, "/webhooks/payments", h.webhook)
			}
		})

		r.With(h.sessions.Authenticate).Get("/lesson/{id}/playback", h.Playback)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions.RequireSession)
			r.Post("/logout", h.Logout)
			r.Get("/2fa", h.TwoFactorStatus)
			r.Post("/2fa/setup", h.BeginTwoFactorSetup)
			r.Post("/2fa/setup/confirm", h.ConfirmTwoFactorSetup)
			r.Delete("/2fa/setup", h.CancelTwoFactorSetup)
			r.With(limit).Post("/2fa/disable", h.DisableTwoFactor)
			r.With(limit).Post("/2fa/backup-codes", h.RegenerateBackupCodes)
		})
	})

	return r
}

func loginRateLimit(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.LoginRateLimitReqs <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := cfg.LoginRateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		cfg.LoginRateLimitReqs,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			retry := ceilSeconds(window)
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
			respondError(w, r, http.StatusTooManyRequests, CodeRateLimited, msgRateLimited, map[string]interface{}{
				"retry_after_seconds": retry,
			})
		}),
	)
}
