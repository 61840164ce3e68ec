// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(LoginAttempts.WithLabelValues("locked"))
	RecordLogin("locked")
	if got := testutil.ToFloat64(LoginAttempts.WithLabelValues("locked")); got != before+1 {
		t.Errorf("login counter = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(EntitlementDecisions.WithLabelValues("denied"))
	RecordEntitlement("denied")
	if got := testutil.ToFloat64(EntitlementDecisions.WithLabelValues("denied")); got != before+1 {
		t.Errorf("entitlement counter = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(PaymentEvents.WithLabelValues("subscription.created", "duplicate"))
	RecordPaymentEvent("subscription.created", "duplicate")
	if got := testutil.ToFloat64(PaymentEvents.WithLabelValues("subscription.created", "duplicate")); got != before+1 {
		t.Errorf("payment counter = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/lesson/{id}/playback", "403"))
	RecordAPIRequest("GET", "/api/v1/lesson/{id}/playback", "403", 12*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/lesson/{id}/playback", "403")); got != before+1 {
		t.Errorf("api counter = %v, want %v", got, before+1)
	}
}
