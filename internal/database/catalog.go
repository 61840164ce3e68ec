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
	"time"

	"github.com/tomtom215/lessongate/internal/models"
)

const lessonColumns = `id, course_id, title, playback_id, free_preview, unlock_at`

// CreateCourse inserts a course and fills in its ID.
func (db *DB) CreateCourse(ctx context.Context, course *models.Course) error {
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO courses (slug, title) VALUES (?, ?) RETURNING id`,
		course.Slug, course.Title,
	).Scan(&course.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrCourseExists
		}
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// CreateLesson inserts a lesson and fills in its ID.
func (db *DB) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO lessons (course_id, title, playback_id, free_preview, unlock_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		lesson.CourseID, lesson.Title, lesson.PlaybackID, lesson.FreePreview, nullTime(lesson.UnlockAt),
	).Scan(&lesson.ID)
	if err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// GetLesson returns ErrLessonNotFound for unknown ids.
func (db *DB) GetLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id)

	var lesson models.Lesson
	var unlockAt sql.NullTime
	err := row.Scan(&lesson.ID, &lesson.CourseID, &lesson.Title, &lesson.PlaybackID, &lesson.FreePreview, &unlockAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	lesson.UnlockAt = timePtr(unlockAt)
	return &lesson, nil
}

// ListLessons returns a course's lessons in id order.
func (db *DB) ListLessons(ctx context.Context, courseID int64) ([]models.Lesson, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE course_id = ? ORDER BY id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer closeQuietly(rows)

	var lessons []models.Lesson
	for rows.Next() {
		var lesson models.Lesson
		var unlockAt sql.NullTime
		if err := rows.Scan(&lesson.ID, &lesson.CourseID, &lesson.Title, &lesson.PlaybackID, &lesson.FreePreview, &unlockAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lesson.UnlockAt = timePtr(unlockAt)
		lessons = append(lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// UnlockLesson grants identityID a lesson ahead of its drip schedule.
// Unlocking twice keeps the first unlocked_at.
func (db *DB) UnlockLesson(ctx context.Context, identityID, lessonID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO lesson_unlocks (identity_id, lesson_id, unlocked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (identity_id, lesson_id) DO NOTHING`,
		identityID, lessonID, utc(time.Now()))
	if err != nil {
		return fmt.Errorf("unlock lesson: %w", err)
	}
	return nil
}

// RevokeLessonUnlock removes an override. Removing a missing one is not an error.
func (db *DB) RevokeLessonUnlock(ctx context.Context, identityID, lessonID int64) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM lesson_unlocks WHERE identity_id = ? AND lesson_id = ?`,
		identityID, lessonID); err != nil {
		return fmt.Errorf("revoke lesson unlock: %w", err)
	}
	return nil
}

// HasLessonUnlock reports whether an override exists for the pair.
func (db *DB) HasLessonUnlock(ctx context.Context, identityID, lessonID int64) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_unlocks WHERE identity_id = ? AND lesson_id = ?`,
		identityID, lessonID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check lesson unlock: %w", err)
	}
	return n > 0, nil
}
