// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (db *DB) initialize() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range schemaQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// schemaQueries returns the DDL in dependency order. Usernames are stored
// lowercased so the unique constraint is case-insensitive.
func schemaQueries() []string {
	return []string{
		`CREATE SEQUENCE IF NOT EXISTS identities_id_seq START 1`,
		`CREATE SEQUENCE IF NOT EXISTS courses_id_seq START 1`,
		`CREATE SEQUENCE IF NOT EXISTS lessons_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS identities (
			id BIGINT PRIMARY KEY DEFAULT nextval('identities_id_seq'),
			username VARCHAR NOT NULL UNIQUE,
			email VARCHAR NOT NULL DEFAULT '',
			password_hash VARCHAR NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS courses (
			id BIGINT PRIMARY KEY DEFAULT nextval('courses_id_seq'),
			slug VARCHAR NOT NULL UNIQUE,
			title VARCHAR NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS lessons (
			id BIGINT PRIMARY KEY DEFAULT nextval('lessons_id_seq'),
			course_id BIGINT NOT NULL,
			title VARCHAR NOT NULL,
			playback_id VARCHAR NOT NULL,
			free_preview BOOLEAN NOT NULL DEFAULT false,
			unlock_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_course ON lessons(course_id)`,

		`CREATE TABLE IF NOT EXISTS lesson_unlocks (
			identity_id BIGINT NOT NULL,
			lesson_id BIGINT NOT NULL,
			unlocked_at TIMESTAMP NOT NULL,
			PRIMARY KEY (identity_id, lesson_id)
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			identity_id BIGINT NOT NULL,
			course_id BIGINT NOT NULL,
			status VARCHAR NOT NULL,
			external_id VARCHAR NOT NULL DEFAULT '',
			start_at TIMESTAMP NOT NULL,
			end_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (identity_id, course_id)
		)`,

		`CREATE TABLE IF NOT EXISTS processed_events (
			event_id VARCHAR PRIMARY KEY,
			event_type VARCHAR NOT NULL,
			processed_at TIMESTAMP NOT NULL
		)`,
	}
}
