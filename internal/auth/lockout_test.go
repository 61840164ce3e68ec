// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func attemptStores(t *testing.T) map[string]AttemptStore {
	return map[string]AttemptStore{
		"memory": NewMemoryAttemptStore(),
		"badger": NewBadgerAttemptStore(openTestBadger(t), 0),
	}
}

func TestAttemptStore_CRUD(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range attemptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Get(ctx, "pair:alice|1.2.3.4"); !errors.Is(err, ErrAttemptNotFound) {
				t.Fatalf("expected ErrAttemptNotFound, got %v", err)
			}

			rec, err := store.Update(ctx, "pair:alice|1.2.3.4", func(rec *AttemptRecord) error {
				rec.Failures++
				rec.LastFailure = now
				return nil
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if rec.Key != "pair:alice|1.2.3.4" || rec.Failures != 1 {
				t.Errorf("unexpected record %+v", rec)
			}

			got, err := store.Get(ctx, "pair:alice|1.2.3.4")
			if err != nil || got.Failures != 1 || !got.LastFailure.Equal(now) {
				t.Fatalf("Get after update: %+v, %v", got, err)
			}

			boom := errors.New("boom")
			if _, err := store.Update(ctx, "pair:alice|1.2.3.4", func(rec *AttemptRecord) error {
				rec.Failures = 99
				return boom
			}); !errors.Is(err, boom) {
				t.Fatalf("expected fn error to propagate, got %v", err)
			}
			if got, _ := store.Get(ctx, "pair:alice|1.2.3.4"); got.Failures != 1 {
				t.Errorf("failed update must not persist, failures = %d", got.Failures)
			}

			if err := store.Delete(ctx, "pair:alice|1.2.3.4"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "pair:alice|1.2.3.4"); err != nil {
				t.Errorf("deleting a missing key should be a no-op: %v", err)
			}
		})
	}
}

func TestAttemptStore_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	for name, store := range attemptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.Update(ctx, "account:alice", func(rec *AttemptRecord) error {
						rec.Failures++
						return nil
					}); err != nil {
						t.Errorf("Update: %v", err)
					}
				}()
			}
			wg.Wait()

			rec, err := store.Get(ctx, "account:alice")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if rec.Failures != 10 {
				t.Errorf("Failures = %d, want 10", rec.Failures)
			}
		})
	}
}

func TestAttemptStore_CleanupExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range attemptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			set := func(key string, last, lockedUntil time.Time) {
				if _, err := store.Update(ctx, key, func(rec *AttemptRecord) error {
					rec.Failures = 1
					rec.LastFailure = last
					rec.LockedUntil = lockedUntil
					return nil
				}); err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			set("stale", now.Add(-2*time.Hour), time.Time{})
			set("fresh", now, time.Time{})
			set("locked", now.Add(-2*time.Hour), now.Add(time.Hour))

			removed, err := store.CleanupExpired(ctx, now.Add(-time.Hour))
			if err != nil {
				t.Fatalf("CleanupExpired: %v", err)
			}
			if removed != 1 {
				t.Errorf("removed = %d, want 1", removed)
			}
			for _, key := range []string{"fresh", "locked"} {
				if _, err := store.Get(ctx, key); err != nil {
					t.Errorf("%s should survive cleanup: %v", key, err)
				}
			}
		})
	}
}

func TestCalculateLockoutDuration(t *testing.T) {
	t.Parallel()
	p := DefaultThrottlePolicy()

	tests := []struct {
		count int
		want  time.Duration
	}{
		{0, 15 * time.Minute},
		{1, 30 * time.Minute},
		{2, time.Hour},
		{6, 16 * time.Hour},
		{7, 24 * time.Hour},
		{1000, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := calculateLockoutDuration(&p, tt.count); got != tt.want {
			t.Errorf("calculateLockoutDuration(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}

	p.ExponentialBackoff = false
	if got := calculateLockoutDuration(&p, 5); got != 15*time.Minute {
		t.Errorf("without backoff got %s, want 15m", got)
	}
}

func TestDelayFor(t *testing.T) {
	t.Parallel()
	p := DefaultThrottlePolicy()

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0}, {2, 0}, {3, 2 * time.Second}, {4, 2 * time.Second},
		{5, 5 * time.Second}, {7, 10 * time.Second}, {9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.delayFor(tt.failures); got != tt.want {
			t.Errorf("delayFor(%d) = %s, want %s", tt.failures, got, tt.want)
		}
	}
}

func TestThrottleKeys(t *testing.T) {
	t.Parallel()
	if pairKey("Alice", "1.2.3.4") != pairKey("alice", "1.2.3.4") {
		t.Error("pair key must be case-insensitive in the principal")
	}
	if accountKey("ALICE") != "account:alice" {
		t.Errorf("accountKey = %q", accountKey("ALICE"))
	}
	if pairKey("alice", "1.2.3.4") == pairKey("alice", "1.2.3.5") {
		t.Error("different addresses must have different pair keys")
	}
}
