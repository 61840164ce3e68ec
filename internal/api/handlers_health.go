// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthLive handles liveness probe requests (Kubernetes-style)
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness probe requests (Kubernetes-style).
// Returns 503 when any dependency fails to answer. Signing availability is
// reported but does not fail readiness: logins still work without it.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]bool, len(h.ready)+1)
	ready := true
	for name, dep := range h.ready {
		ok := dep.Ping(ctx) == nil
		checks[name] = ok
		ready = ready && ok
	}
	checks["playback_signing"] = h.issuer.Available()

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, r, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}
