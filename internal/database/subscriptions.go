// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomtom215/lessongate/internal/models"
)

const subscriptionColumns = `identity_id, course_id, status, external_id, start_at, end_at, updated_at`

// SubscriptionTransition computes the row that results from applying one
// event to current (nil when no row exists). Returning nil leaves the row
// untouched while the event is still recorded as processed.
type SubscriptionTransition func(current *models.Subscription) (*models.Subscription, error)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetSubscription returns the row for the pair, or (nil, nil) when none exists.
func (db *DB) GetSubscription(ctx context.Context, identityID, courseID int64) (*models.Subscription, error) {
	sub, err := getSubscription(ctx, db.conn, identityID, courseID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription writes sub as the authoritative row for its pair.
func (db *DB) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if !sub.Status.Valid() {
		return fmt.Errorf("upsert subscription: invalid status %q", sub.Status)
	}
	if err := upsertSubscription(ctx, db.conn, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// IsEventProcessed reports whether eventID has already been applied.
func (db *DB) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return n > 0, nil
}

// ApplySubscriptionEvent records eventID as processed and applies transition
// to the pair's row in one transaction. It returns false with a nil error when
// the event was already processed, in which case transition is not called.
// If transition fails nothing is recorded, so redelivery retries the event.
func (db *DB) ApplySubscriptionEvent(ctx context.Context, eventID, eventType string, identityID, courseID int64, transition SubscriptionTransition) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("apply event: empty event id")
	}

	lock := db.subscriptionLock(identityID, courseID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply event: begin: %w", err)
	}
	defer rollbackQuietly(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)`,
		eventID, eventType, utc(db.now()))
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return db.resolveConflict(ctx, eventID, fmt.Errorf("apply event: record: %w", err))
	}

	current, err := getSubscription(ctx, tx, identityID, courseID)
	if err != nil {
		return false, fmt.Errorf("apply event: load: %w", err)
	}

	next, err := transition(current)
	if err != nil {
		return false, err
	}
	if next != nil {
		if next.IdentityID != identityID || next.CourseID != courseID {
			return false, fmt.Errorf("apply event: transition changed the subscription pair")
		}
		if !next.Status.Valid() {
			return false, fmt.Errorf("apply event: invalid status %q", next.Status)
		}
		if err := upsertSubscription(ctx, tx, next); err != nil {
			return false, fmt.Errorf("apply event: upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return db.resolveConflict(ctx, eventID, fmt.Errorf("apply event: commit: %w", err))
	}
	return true, nil
}

// resolveConflict turns a write conflict with a concurrent delivery of the
// same event into a duplicate. Any other error is returned unchanged.
func (db *DB) resolveConflict(ctx context.Context, eventID string, err error) (bool, error) {
	if !isTransactionConflict(err) && !isUniqueConstraintError(err) {
		return false, err
	}
	processed, checkErr := db.IsEventProcessed(ctx, eventID)
	if checkErr == nil && processed {
		return false, nil
	}
	return false, err
}

func getSubscription(ctx context.Context, q queryRower, identityID, courseID int64) (*models.Subscription, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE identity_id = ? AND course_id = ?`,
		identityID, courseID)

	var sub models.Subscription
	var status string
	var endAt sql.NullTime
	err := row.Scan(&sub.IdentityID, &sub.CourseID, &status, &sub.ExternalID, &sub.StartAt, &endAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatus(status)
	sub.StartAt = sub.StartAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	sub.EndAt = timePtr(endAt)
	return &sub, nil
}

func upsertSubscription(ctx context.Context, e execer, sub *models.Subscription) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_id, course_id) DO UPDATE SET
			status = EXCLUDED.status,
			external_id = EXCLUDED.external_id,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			updated_at = EXCLUDED.updated_at`,
		sub.IdentityID, sub.CourseID, string(sub.Status), sub.ExternalID,
		utc(sub.StartAt), nullTime(sub.EndAt), utc(sub.UpdatedAt))
	return err
}
