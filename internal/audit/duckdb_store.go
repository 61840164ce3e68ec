// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DuckDBStore persists events in the security_events table.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore wraps an open DuckDB connection. Call CreateTable before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		outcome TEXT NOT NULL,
		identity_id BIGINT,
		username TEXT,
		address TEXT,
		user_agent TEXT,
		request_id TEXT,
		detail TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_username ON security_events(username)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_address ON security_events(address)`,
}

// CreateTable creates the table and indexes if missing.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create security_events schema: %w", err)
		}
	}
	return nil
}

func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events (
			id, timestamp, type, severity, outcome,
			identity_id, username, address, user_agent, request_id, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UTC(), string(event.Type), string(event.Severity), string(event.Outcome),
		nullInt64(event.IdentityID), nullString(event.Username), nullString(event.Address),
		nullString(event.UserAgent), nullString(event.RequestID), nullString(event.Detail),
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	where, args := buildWhere(&filter)
	query := `
		SELECT id, timestamp, type, severity, outcome,
			identity_id, username, address, user_agent, request_id, detail
		FROM security_events` + where + `
		ORDER BY timestamp DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                                           Event
			eventType, severity, outcome                string
			identityID                                  sql.NullInt64
			username, address, agent, requestID, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &severity, &outcome,
			&identityID, &username, &address, &agent, &requestID, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.Severity = Severity(severity)
		e.Outcome = Outcome(outcome)
		e.IdentityID = identityID.Int64
		e.Username = username.String
		e.Address = address.String
		e.UserAgent = agent.String
		e.RequestID = requestID.String
		e.Detail = detail.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return out, nil
}

func (s *DuckDBStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM security_events WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted audit events: %w", err)
	}
	return int(n), nil
}

func buildWhere(f *QueryFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "type IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.Username != "" {
		conds = append(conds, "username = ?")
		args = append(args, f.Username)
	}
	if f.IdentityID != 0 {
		conds = append(conds, "identity_id = ?")
		args = append(args, f.IdentityID)
	}
	if f.Address != "" {
		conds = append(conds, "address = ?")
		args = append(args, f.Address)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.Until.UTC())
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
