// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package billing

import (
	"fmt"
	"time"

	"github.com/tomtom215/lessongate/internal/models"
)

// Transition returns the subscription row after applying event to current
// (nil when no row exists). It returns nil when the event is older than the
// row's last update, so late deliveries never regress state.
func Transition(current *models.Subscription, event *PaymentEvent) (*models.Subscription, error) {
	at := event.OccurredAt.UTC()
	if current != nil && at.Before(current.UpdatedAt) {
		return nil, nil
	}

	var next models.Subscription
	if current != nil {
		next = *current
	} else {
		next = models.Subscription{
			IdentityID: event.IdentityID,
			CourseID:   event.CourseID,
			StartAt:    at,
		}
	}
	if event.ExternalID != "" {
		next.ExternalID = event.ExternalID
	}
	next.UpdatedAt = at

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionRenewed:
		if current == nil || !current.IsActive(at) {
			next.StartAt = at
		}
		next.Status = models.StatusActive
		next.EndAt = periodEnd(event)

	case EventSubscriptionTrialStarted:
		if current == nil || !current.IsActive(at) {
			next.StartAt = at
		}
		next.Status = models.StatusTrialing
		next.EndAt = periodEnd(event)

	case EventSubscriptionPaymentFail:
		next.Status = models.StatusPastDue

	case EventSubscriptionCancelled:
		next.Status = models.StatusCancelled
		if end := periodEnd(event); end != nil {
			next.EndAt = end
		} else {
			next.EndAt = &at
		}

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}

	return &next, nil
}

func periodEnd(event *PaymentEvent) *time.Time {
	if event.PeriodEnd == nil {
		return nil
	}
	end := event.PeriodEnd.UTC()
	return &end
}
