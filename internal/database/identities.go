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
	"strings"

	"github.com/tomtom215/lessongate/internal/models"
)

const identityColumns = `id, username, email, password_hash, disabled, created_at, updated_at`

// CreateIdentity inserts a new identity and fills in its ID and timestamps.
func (db *DB) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	now := utc(db.now())
	username := strings.ToLower(strings.TrimSpace(identity.Username))
	if username == "" {
		return fmt.Errorf("create identity: empty username")
	}

	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO identities (username, email, password_hash, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		username, identity.Email, identity.PasswordHash, identity.Disabled, now, now,
	).Scan(&id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrIdentityExists
		}
		return fmt.Errorf("create identity: %w", err)
	}

	identity.ID = id
	identity.Username = username
	identity.CreatedAt = now
	identity.UpdatedAt = now
	return nil
}

// GetIdentityByUsername looks up an identity case-insensitively.
// A missing identity is (nil, nil).
func (db *DB) GetIdentityByUsername(ctx context.Context, username string) (*models.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE username = ?`,
		strings.ToLower(strings.TrimSpace(username)))

	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by username: %w", err)
	}
	return identity, nil
}

// GetIdentity looks up an identity by ID.
func (db *DB) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)

	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// UpdatePasswordHash replaces the stored hash, used after rehashing with
// stronger parameters.
func (db *DB) UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error {
	return db.updateIdentity(ctx, identityID, `password_hash = ?`, hash)
}

// SetIdentityDisabled soft-disables or re-enables an identity.
func (db *DB) SetIdentityDisabled(ctx context.Context, identityID int64, disabled bool) error {
	return db.updateIdentity(ctx, identityID, `disabled = ?`, disabled)
}

func (db *DB) updateIdentity(ctx context.Context, identityID int64, set string, value any) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE identities SET `+set+`, updated_at = ? WHERE id = ?`,
		value, utc(db.now()), identityID)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if n == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	var identity models.Identity
	if err := row.Scan(
		&identity.ID,
		&identity.Username,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Disabled,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	identity.CreatedAt = identity.CreatedAt.UTC()
	identity.UpdatedAt = identity.UpdatedAt.UTC()
	return &identity, nil
}
