// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package billing

import (
	"context"
	"fmt"

	"github.com/tomtom215/lessongate/internal/database"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
	"github.com/tomtom215/lessongate/internal/models"
)

// SubscriptionWriter records an event id and applies a transition atomically.
// Satisfied by *database.DB.
type SubscriptionWriter interface {
	ApplySubscriptionEvent(ctx context.Context, eventID, eventType string, identityID, courseID int64, transition database.SubscriptionTransition) (bool, error)
}

// Applier applies payment events to subscription state exactly once.
type Applier struct {
	store SubscriptionWriter
}

// NewApplier creates an Applier over store.
func NewApplier(store SubscriptionWriter) *Applier {
	return &Applier{store: store}
}

// Apply applies event. It returns false with a nil error for an event that
// was already processed.
func (a *Applier) Apply(ctx context.Context, event *PaymentEvent) (bool, error) {
	if err := event.Validate(); err != nil {
		metrics.RecordPaymentEvent(string(event.Type), "invalid")
		return false, err
	}

	stale := false
	applied, err := a.store.ApplySubscriptionEvent(ctx, event.ID, string(event.Type), event.IdentityID, event.CourseID,
		func(current *models.Subscription) (*models.Subscription, error) {
			next, err := Transition(current, event)
			stale = err == nil && next == nil
			return next, err
		})
	if err != nil {
		metrics.RecordPaymentEvent(string(event.Type), "error")
		return false, fmt.Errorf("apply event %s: %w", event.ID, err)
	}

	log := logging.Ctx(ctx).With().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Int64("identity_id", event.IdentityID).
		Int64("course_id", event.CourseID).
		Logger()

	switch {
	case !applied:
		metrics.RecordPaymentEvent(string(event.Type), "duplicate")
		log.Debug().Msg("Payment event already processed")
	case stale:
		metrics.RecordPaymentEvent(string(event.Type), "stale")
		log.Info().Msg("Payment event older than subscription state, recorded without change")
	default:
		metrics.RecordPaymentEvent(string(event.Type), "applied")
		log.Info().Msg("Payment event applied")
	}
	return applied, nil
}
