// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package metrics holds the Prometheus instrumentation for the playback
// authorization path: login hardening, two-factor, entitlement, token
// issuance, payment events and HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts Guard decisions.
	// outcome: session, challenge_required, invalid_credentials, rate_limited, locked, store_unavailable
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_login_attempts_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Lockouts counts keys that crossed a lockout threshold.
	// scope: pair, account
	Lockouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_lockouts_total",
			Help: "Total number of attempt keys locked out",
		},
		[]string{"scope"},
	)

	// TwoFactorVerifications counts second-factor checks.
	// method: totp, backup_code, unknown. outcome: success, invalid, replayed
	TwoFactorVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_twofactor_verifications_total",
			Help: "Total number of second-factor verifications",
		},
		[]string{"method", "outcome"},
	)

	// TwoFactorTransitions counts enrollment state changes.
	TwoFactorTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_twofactor_transitions_total",
			Help: "Total number of two-factor enrollment transitions",
		},
		[]string{"transition"},
	)

	// EntitlementDecisions counts resolver results.
	// result: free_preview, allowed, denied, unreleased, unavailable
	EntitlementDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_entitlement_decisions_total",
			Help: "Total number of entitlement decisions",
		},
		[]string{"result"},
	)

	// TokensIssued counts playback tokens by result.
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_playback_tokens_total",
			Help: "Total number of playback token issuance attempts",
		},
		[]string{"result"},
	)

	// PaymentEvents counts consumed payment events.
	// outcome: applied, duplicate, stale, rejected, error
	PaymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_payment_events_total",
			Help: "Total number of payment events consumed",
		},
		[]string{"type", "outcome"},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lessongate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration measures HTTP latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessongate_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	// CleanupRemoved counts expired entries removed by the cleanup service.
	CleanupRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_cleanup_removed_total",
			Help: "Total number of expired state entries removed",
		},
		[]string{"store"},
	)

	// AuditEvents counts security events by write result (written, dropped, failed).
	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessongate_audit_events_total",
			Help: "Total number of security audit events by write result",
		},
		[]string{"result"},
	)
)

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLogin records a Guard outcome.
func RecordLogin(outcome string) {
	LoginAttempts.WithLabelValues(outcome).Inc()
}

// RecordEntitlement records a resolver result.
func RecordEntitlement(result string) {
	EntitlementDecisions.WithLabelValues(result).Inc()
}

// RecordTokenIssued records a token issuance result (issued, signing_unavailable).
func RecordTokenIssued(result string) {
	TokensIssued.WithLabelValues(result).Inc()
}

// RecordPaymentEvent records a consumed payment event.
func RecordPaymentEvent(eventType, outcome string) {
	PaymentEvents.WithLabelValues(eventType, outcome).Inc()
}
