// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/lessongate/internal/logging"
)

func TestLogger_RecordFillsDefaults(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(0)
	l := NewLogger(store, Config{})
	ctx := logging.ContextWithRequestID(context.Background(), "req-1")

	l.Record(ctx, &Event{Type: EventLocked, Username: "alice", Address: "203.0.113.7"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events, err := store.Query(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Errorf("event not stamped: id=%q ts=%v", e.ID, e.Timestamp)
	}
	if e.Severity != SeverityCritical || e.Outcome != OutcomeFailure {
		t.Errorf("severity/outcome = %s/%s, want critical/failure", e.Severity, e.Outcome)
	}
	if e.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", e.RequestID)
	}
}

func TestLogger_ExplicitFieldsKept(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(0)
	l := NewLogger(store, Config{})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Record(context.Background(), &Event{ID: "fixed", Timestamp: ts, Type: EventLoginFailed, Severity: SeverityInfo})
	_ = l.Close()

	events, _ := store.Query(context.Background(), QueryFilter{})
	if len(events) != 1 || events[0].ID != "fixed" || !events[0].Timestamp.Equal(ts) || events[0].Severity != SeverityInfo {
		t.Errorf("explicit fields overwritten: %+v", events)
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	t.Parallel()

	var l *Logger
	l.Record(context.Background(), &Event{Type: EventLogout})
	if n, err := l.Cleanup(context.Background()); n != 0 || err != nil {
		t.Errorf("Cleanup() = %d, %v", n, err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogger_RecordAfterCloseIgnored(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(0)
	l := NewLogger(store, Config{})
	_ = l.Close()
	_ = l.Close()

	l.Record(context.Background(), &Event{Type: EventLogout})
	if store.Len() != 0 {
		t.Errorf("Len() = %d after close, want 0", store.Len())
	}
}

// blockingStore holds every Save until release is closed.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, e *Event) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.MemoryStore.Save(ctx, e)
}

func TestLogger_DropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	store := &blockingStore{MemoryStore: NewMemoryStore(0), release: make(chan struct{}), started: make(chan struct{})}
	l := NewLogger(store, Config{BufferSize: 2})

	// The first event is taken by the writer and blocks it.
	l.Record(context.Background(), &Event{Type: EventLoginFailed})
	<-store.started

	for i := 0; i < 5; i++ {
		l.Record(context.Background(), &Event{Type: EventLoginFailed})
	}
	close(store.release)
	_ = l.Close()

	// One in flight plus a full buffer of two; the rest were dropped.
	if got := store.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

type failingStore struct{ MemoryStore }

func (s *failingStore) Save(context.Context, *Event) error { return errors.New("disk full") }

func TestLogger_StoreErrorDoesNotStopWriter(t *testing.T) {
	t.Parallel()

	l := NewLogger(&failingStore{}, Config{})
	l.Record(context.Background(), &Event{Type: EventLogout})
	l.Record(context.Background(), &Event{Type: EventLogout})

	done := make(chan struct{})
	go func() {
		_ = l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}
}

func TestLogger_Cleanup(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(0)
	ctx := context.Background()
	for _, age := range []int{1, 29, 31, 200} {
		_ = store.Save(ctx, &Event{ID: "e", Type: EventLogout, Timestamp: now.AddDate(0, 0, -age)})
	}

	l := NewLogger(store, Config{RetentionDays: 30})
	l.now = func() time.Time { return now }
	defer l.Close()

	removed, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 2 || store.Len() != 2 {
		t.Errorf("removed %d, kept %d; want 2 and 2", removed, store.Len())
	}
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(0)
	ctx := context.Background()
	seed := []Event{
		{ID: "1", Type: EventLoginFailed, Username: "alice", Address: "10.0.0.1", Timestamp: base},
		{ID: "2", Type: EventLoginFailed, Username: "bob", Address: "10.0.0.1", Timestamp: base.Add(time.Minute)},
		{ID: "3", Type: EventLocked, Username: "alice", Address: "10.0.0.2", Timestamp: base.Add(2 * time.Minute)},
		{ID: "4", Type: EventLoginSucceeded, Username: "alice", IdentityID: 7, Address: "10.0.0.3", Timestamp: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		_ = store.Save(ctx, &seed[i])
	}

	tests := []struct {
		name   string
		filter QueryFilter
		want   []string
	}{
		{"all newest first", QueryFilter{}, []string{"4", "3", "2", "1"}},
		{"by username", QueryFilter{Username: "alice"}, []string{"4", "3", "1"}},
		{"by type", QueryFilter{Types: []EventType{EventLoginFailed, EventLocked}}, []string{"3", "2", "1"}},
		{"by address", QueryFilter{Address: "10.0.0.1"}, []string{"2", "1"}},
		{"by identity", QueryFilter{IdentityID: 7}, []string{"4"}},
		{"time window", QueryFilter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)}, []string{"3", "2"}},
		{"limit", QueryFilter{Limit: 2}, []string{"4", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("event[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(20)
	for i := 0; i < 25; i++ {
		_ = store.Save(context.Background(), &Event{Type: EventLogout})
	}
	if got := store.Len(); got > 20 {
		t.Errorf("Len() = %d, want <= 20", got)
	}
}
