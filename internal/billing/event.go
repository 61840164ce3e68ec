// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package billing consumes payment processor events and is the only writer of
// subscription state. Every event is applied at most once, keyed by the
// processor's event id, so redelivery and replays are harmless.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// EventType names a payment processor event.
type EventType string

const (
	EventSubscriptionCreated      EventType = "subscription.created"
	EventSubscriptionRenewed      EventType = "subscription.renewed"
	EventSubscriptionTrialStarted EventType = "subscription.trial_started"
	EventSubscriptionPaymentFail  EventType = "subscription.payment_failed"
	EventSubscriptionCancelled    EventType = "subscription.cancelled"
)

// Known reports whether t is a handled event type.
func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionRenewed, EventSubscriptionTrialStarted,
		EventSubscriptionPaymentFail, EventSubscriptionCancelled:
		return true
	}
	return false
}

// ErrInvalidEvent marks an event that can never be applied. It is not retried.
var ErrInvalidEvent = errors.New("invalid payment event")

// PaymentEvent is one notification from the payment processor.
type PaymentEvent struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	OccurredAt time.Time  `json:"occurred_at"`
	IdentityID int64      `json:"identity_id"`
	CourseID   int64      `json:"course_id"`
	ExternalID string     `json:"external_id,omitempty"`
	PeriodEnd  *time.Time `json:"period_end,omitempty"`
}

// Validate checks the fields every event needs.
func (e *PaymentEvent) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case !e.Type.Known():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	case e.IdentityID <= 0 || e.CourseID <= 0:
		return fmt.Errorf("%w: missing identity or course", ErrInvalidEvent)
	}
	return nil
}

// DecodeEvent parses and validates an event payload.
func DecodeEvent(data []byte) (*PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// EncodeEvent serializes an event for the bus.
func EncodeEvent(event *PaymentEvent) ([]byte, error) {
	return json.Marshal(event)
}
