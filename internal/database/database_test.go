// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/lessongate/internal/config"
	"github.com/tomtom215/lessongate/internal/models"
)

// testDBSemaphore serializes DuckDB use across parallel tests; concurrent CGO
// connections from many tests are prone to contention in CI.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func TestNew_FileDatabaseCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lessongate.duckdb")

	testDBSemaphore <- struct{}{}
	defer func() { <-testDBSemaphore }()

	db, err := New(&config.DatabaseConfig{Path: path, Threads: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeQuietly(db)

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestIdentities(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice := &models.Identity{Username: "Alice", Email: "alice@example.com", PasswordHash: "hash-1"}
	if err := db.CreateIdentity(ctx, alice); err != nil {
		t.Fatalf("CreateIdentity() error = %v", err)
	}
	if alice.ID == 0 {
		t.Fatal("CreateIdentity() did not assign an ID")
	}
	if alice.Username != "alice" {
		t.Errorf("Username = %q, want lowercased", alice.Username)
	}

	dup := &models.Identity{Username: "ALICE", PasswordHash: "x"}
	if err := db.CreateIdentity(ctx, dup); !errors.Is(err, ErrIdentityExists) {
		t.Errorf("duplicate CreateIdentity() error = %v, want ErrIdentityExists", err)
	}

	got, err := db.GetIdentityByUsername(ctx, "aLiCe")
	if err != nil {
		t.Fatalf("GetIdentityByUsername() error = %v", err)
	}
	if got == nil || got.ID != alice.ID || got.PasswordHash != "hash-1" {
		t.Fatalf("GetIdentityByUsername() = %+v", got)
	}

	missing, err := db.GetIdentityByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("GetIdentityByUsername(nobody) = %v, %v; want nil, nil", missing, err)
	}

	if err := db.UpdatePasswordHash(ctx, alice.ID, "hash-2"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}
	if err := db.SetIdentityDisabled(ctx, alice.ID, true); err != nil {
		t.Fatalf("SetIdentityDisabled() error = %v", err)
	}
	got, err = db.GetIdentity(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetIdentity() error = %v", err)
	}
	if got.PasswordHash != "hash-2" || !got.Disabled {
		t.Errorf("after updates = %+v", got)
	}

	if _, err := db.GetIdentity(ctx, 9999); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("GetIdentity(9999) error = %v, want ErrIdentityNotFound", err)
	}
	if err := db.UpdatePasswordHash(ctx, 9999, "x"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("UpdatePasswordHash(9999) error = %v, want ErrIdentityNotFound", err)
	}
}

func TestCatalog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	course := &models.Course{Slug: "go-basics", Title: "Go Basics"}
	if err := db.CreateCourse(ctx, course); err != nil {
		t.Fatalf("CreateCourse() error = %v", err)
	}
	if err := db.CreateCourse(ctx, &models.Course{Slug: "go-basics", Title: "Again"}); !errors.Is(err, ErrCourseExists) {
		t.Errorf("duplicate CreateCourse() error = %v, want ErrCourseExists", err)
	}

	unlock := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	lessons := []*models.Lesson{
		{CourseID: course.ID, Title: "Intro", PlaybackID: "asset-intro", FreePreview: true},
		{CourseID: course.ID, Title: "Channels", PlaybackID: "asset-chan", UnlockAt: &unlock},
	}
	for _, l := range lessons {
		if err := db.CreateLesson(ctx, l); err != nil {
			t.Fatalf("CreateLesson() error = %v", err)
		}
	}

	got, err := db.GetLesson(ctx, lessons[1].ID)
	if err != nil {
		t.Fatalf("GetLesson() error = %v", err)
	}
	if got.PlaybackID != "asset-chan" || got.FreePreview || got.CourseID != course.ID {
		t.Errorf("GetLesson() = %+v", got)
	}
	if got.UnlockAt == nil || !got.UnlockAt.Equal(unlock) {
		t.Errorf("UnlockAt = %v, want %v", got.UnlockAt, unlock)
	}

	if _, err := db.GetLesson(ctx, 424242); !errors.Is(err, ErrLessonNotFound) {
		t.Errorf("GetLesson(unknown) error = %v, want ErrLessonNotFound", err)
	}

	list, err := db.ListLessons(ctx, course.ID)
	if err != nil {
		t.Fatalf("ListLessons() error = %v", err)
	}
	if len(list) != 2 || list[0].Title != "Intro" || list[0].UnlockAt != nil {
		t.Errorf("ListLessons() = %+v", list)
	}
}

func TestLessonUnlocks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	has := func(identityID, lessonID int64) bool {
		t.Helper()
		ok, err := db.HasLessonUnlock(ctx, identityID, lessonID)
		if err != nil {
			t.Fatalf("HasLessonUnlock() error = %v", err)
		}
		return ok
	}

	if has(1, 2) {
		t.Fatal("unlock reported before any was granted")
	}
	for i := 0; i < 2; i++ {
		if err := db.UnlockLesson(ctx, 1, 2); err != nil {
			t.Fatalf("UnlockLesson() #%d error = %v", i+1, err)
		}
	}
	if !has(1, 2) {
		t.Error("unlock not recorded")
	}
	if has(3, 2) || has(1, 4) {
		t.Error("unlock leaked to another identity or lesson")
	}

	if err := db.RevokeLessonUnlock(ctx, 1, 2); err != nil {
		t.Fatalf("RevokeLessonUnlock() error = %v", err)
	}
	if has(1, 2) {
		t.Error("unlock still present after revoke")
	}
	if err := db.RevokeLessonUnlock(ctx, 1, 2); err != nil {
		t.Errorf("second RevokeLessonUnlock() error = %v", err)
	}
}

func activate(identityID, courseID int64, at time.Time) SubscriptionTransition {
	return func(current *models.Subscription) (*models.Subscription, error) {
		end := at.Add(30 * 24 * time.Hour)
		next := &models.Subscription{
			IdentityID: identityID,
			CourseID:   courseID,
			Status:     models.StatusActive,
			StartAt:    at,
			EndAt:      &end,
			UpdatedAt:  at,
		}
		if current != nil {
			next.StartAt = current.StartAt
		}
		return next, nil
	}
}

func TestSubscriptions_GetAndUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	sub, err := db.GetSubscription(ctx, 1, 1)
	if err != nil || sub != nil {
		t.Fatalf("GetSubscription(miss) = %v, %v; want nil, nil", sub, err)
	}

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	in := &models.Subscription{IdentityID: 1, CourseID: 1, Status: models.StatusTrialing, StartAt: start, UpdatedAt: start}
	if err := db.UpsertSubscription(ctx, in); err != nil {
		t.Fatalf("UpsertSubscription() error = %v", err)
	}
	in.Status = models.StatusActive
	in.ExternalID = "sub_123"
	if err := db.UpsertSubscription(ctx, in); err != nil {
		t.Fatalf("UpsertSubscription() second error = %v", err)
	}

	sub, err = db.GetSubscription(ctx, 1, 1)
	if err != nil {
		t.Fatalf("GetSubscription() error = %v", err)
	}
	if sub.Status != models.StatusActive || sub.ExternalID != "sub_123" || !sub.StartAt.Equal(start) || sub.EndAt != nil {
		t.Errorf("GetSubscription() = %+v", sub)
	}

	// Other course stays empty
	if other, _ := db.GetSubscription(ctx, 1, 2); other != nil {
		t.Errorf("GetSubscription(1, 2) = %+v, want nil", other)
	}

	if err := db.UpsertSubscription(ctx, &models.Subscription{IdentityID: 1, CourseID: 1, Status: "paused"}); err == nil {
		t.Error("UpsertSubscription(invalid status) error = nil")
	}
}

func TestApplySubscriptionEvent_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	calls := 0
	transition := func(current *models.Subscription) (*models.Subscription, error) {
		calls++
		return activate(7, 3, at)(current)
	}

	applied, err := db.ApplySubscriptionEvent(ctx, "evt_1", "subscription.created", 7, 3, transition)
	if err != nil || !applied {
		t.Fatalf("first apply = %v, %v; want true, nil", applied, err)
	}
	applied, err = db.ApplySubscriptionEvent(ctx, "evt_1", "subscription.created", 7, 3, transition)
	if err != nil || applied {
		t.Fatalf("duplicate apply = %v, %v; want false, nil", applied, err)
	}
	if calls != 1 {
		t.Errorf("transition called %d times, want 1", calls)
	}

	processed, err := db.IsEventProcessed(ctx, "evt_1")
	if err != nil || !processed {
		t.Errorf("IsEventProcessed() = %v, %v", processed, err)
	}

	sub, err := db.GetSubscription(ctx, 7, 3)
	if err != nil || sub == nil || sub.Status != models.StatusActive {
		t.Fatalf("GetSubscription() = %+v, %v", sub, err)
	}
}

func TestApplySubscriptionEvent_TransitionErrorNotRecorded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := db.ApplySubscriptionEvent(ctx, "evt_fail", "subscription.renewed", 1, 1,
		func(*models.Subscription) (*models.Subscription, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("apply error = %v, want boom", err)
	}

	processed, err := db.IsEventProcessed(ctx, "evt_fail")
	if err != nil || processed {
		t.Errorf("IsEventProcessed() = %v, %v; want false after failed transition", processed, err)
	}

	// Redelivery succeeds
	applied, err := db.ApplySubscriptionEvent(ctx, "evt_fail", "subscription.renewed", 1, 1,
		activate(1, 1, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)))
	if err != nil || !applied {
		t.Errorf("redelivery = %v, %v; want true, nil", applied, err)
	}
}

func TestApplySubscriptionEvent_NilTransitionRecordsOnly(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	applied, err := db.ApplySubscriptionEvent(ctx, "evt_stale", "subscription.cancelled", 2, 2,
		func(*models.Subscription) (*models.Subscription, error) { return nil, nil })
	if err != nil || !applied {
		t.Fatalf("apply = %v, %v; want true, nil", applied, err)
	}
	if sub, _ := db.GetSubscription(ctx, 2, 2); sub != nil {
		t.Errorf("GetSubscription() = %+v, want nil", sub)
	}
	if processed, _ := db.IsEventProcessed(ctx, "evt_stale"); !processed {
		t.Error("event not recorded as processed")
	}
}

func TestApplySubscriptionEvent_RejectsPairChange(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.ApplySubscriptionEvent(context.Background(), "evt_x", "subscription.created", 1, 1,
		activate(1, 2, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	if err == nil {
		t.Fatal("apply with mismatched pair error = nil")
	}
}

func TestApplySubscriptionEvent_ConcurrentDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var applied atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.ApplySubscriptionEvent(ctx, "evt_race", "subscription.created", 5, 5, activate(5, 5, at))
			if err != nil {
				errs <- err
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent apply error = %v", err)
	}
	if got := applied.Load(); got != 1 {
		t.Errorf("applied %d times, want exactly 1", got)
	}
}

func TestApplySubscriptionEvent_DistinctEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("evt_%d", i)
		applied, err := db.ApplySubscriptionEvent(ctx, id, "subscription.renewed", 9, 9, activate(9, 9, base.Add(time.Duration(i)*time.Hour)))
		if err != nil || !applied {
			t.Fatalf("apply %s = %v, %v", id, applied, err)
		}
	}

	sub, err := db.GetSubscription(ctx, 9, 9)
	if err != nil {
		t.Fatalf("GetSubscription() error = %v", err)
	}
	if !sub.StartAt.Equal(base) {
		t.Errorf("StartAt = %v, want original %v", sub.StartAt, base)
	}
	if !sub.UpdatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("UpdatedAt = %v, want latest", sub.UpdatedAt)
	}
}

func TestIsUniqueConstraintError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Constraint Error: Duplicate key \"event_id: x\" violates primary key constraint"), true},
		{errors.New("UNIQUE constraint failed"), true},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := isUniqueConstraintError(tt.err); got != tt.want {
			t.Errorf("isUniqueConstraintError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
