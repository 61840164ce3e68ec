// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package entitlement answers one question for every content request: may this
// identity watch this lesson right now. It is the only place that decision is made.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
	"github.com/tomtom215/lessongate/internal/models"
)

// ErrLookupUnavailable means the subscription store could not answer in time.
// HasAccess always returns false alongside it.
var ErrLookupUnavailable = errors.New("subscription lookup unavailable")

// SubscriptionReader loads the authoritative subscription for a pair.
// A missing row is (nil, nil).
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, identityID, courseID int64) (*models.Subscription, error)
}

// UnlockReader reports per-identity overrides of a lesson's drip schedule.
type UnlockReader interface {
	HasLessonUnlock(ctx context.Context, identityID, lessonID int64) (bool, error)
}

// Store is everything the resolver reads.
type Store interface {
	SubscriptionReader
	UnlockReader
}

// Config tunes lookup timeouts and the circuit breaker.
type Config struct {
	LookupTimeout    time.Duration
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

// grant is what one guarded lookup returns.
type grant struct {
	sub      *models.Subscription
	unlocked bool
}

// Resolver is safe for concurrent use and performs no writes.
type Resolver struct {
	store   Store
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[grant]
	now     func() time.Time
}

// NewResolver creates a Resolver over store.
func NewResolver(store Store, cfg Config) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	const name = "subscription-lookup"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	breaker := gobreaker.NewCircuitBreaker[grant](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A caller that hangs up says nothing about the store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Subscription lookup circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Resolver{
		store:   store,
		timeout: cfg.LookupTimeout,
		breaker: breaker,
		now:     time.Now,
	}
}

// WithClock returns a copy of the resolver using now as its clock.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	cp := *r
	cp.now = now
	return &cp
}

// HasAccess reports whether identityID may watch lesson. identityID <= 0 is an
// anonymous caller. Free previews are always allowed, drip schedule included.
// Otherwise the caller needs an active subscription keyed strictly on
// lesson.CourseID, and a lesson whose unlock time has not passed also needs a
// per-identity unlock. On any storage failure it returns false with an error
// wrapping ErrLookupUnavailable.
func (r *Resolver) HasAccess(ctx context.Context, identityID int64, lesson *models.Lesson) (bool, error) {
	if lesson == nil {
		return false, nil
	}
	if lesson.FreePreview {
		metrics.RecordEntitlement("free_preview")
		return true, nil
	}
	if identityID <= 0 {
		metrics.RecordEntitlement("denied")
		return false, nil
	}

	now := r.now()
	released := lesson.Released(now)

	g, err := r.lookup(ctx, identityID, lesson, !released)
	if err != nil {
		metrics.RecordEntitlement("unavailable")
		logging.Ctx(ctx).Warn().Err(err).Int64("identity_id", identityID).Int64("course_id", lesson.CourseID).
			Msg("Entitlement lookup failed, denying")
		return false, fmt.Errorf("%w: %v", ErrLookupUnavailable, err)
	}

	if !g.sub.IsActive(now) {
		metrics.RecordEntitlement("denied")
		return false, nil
	}
	if !released && !g.unlocked {
		metrics.RecordEntitlement("unreleased")
		return false, nil
	}
	metrics.RecordEntitlement("allowed")
	return true, nil
}

func (r *Resolver) lookup(ctx context.Context, identityID int64, lesson *models.Lesson, needUnlock bool) (grant, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.breaker.Execute(func() (grant, error) {
		sub, err := r.store.GetSubscription(ctx, identityID, lesson.CourseID)
		if err != nil {
			return grant{}, err
		}
		if sub != nil && (sub.IdentityID != identityID || sub.CourseID != lesson.CourseID) {
			return grant{}, fmt.Errorf("subscription store returned row for another pair")
		}
		g := grant{sub: sub}
		if needUnlock && sub != nil {
			if g.unlocked, err = r.store.HasLessonUnlock(ctx, identityID, lesson.ID); err != nil {
				return grant{}, err
			}
		}
		return g, nil
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
