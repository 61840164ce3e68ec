// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Command lessongate-admin manages identities and the catalog in the
// Lessongate database, generates signing keys and signs test webhook
// payloads. It reads the same configuration as the server.
//
// Passwords are read from LESSONGATE_PASSWORD or, when unset, from the first
// line of stdin. They are never accepted as flags.
//
//	lessongate-admin create-identity -username alice -email alice@example.com
//	lessongate-admin set-password -username alice
//	lessongate-admin disable -username alice
//	lessongate-admin create-course -slug go-basics -title "Go Basics"
//	lessongate-admin create-lesson -course 1 -title Intro -playback-id abc123 -free
//	lessongate-admin unlock-lesson -username alice -lesson 7
//	lessongate-admin gen-key -algorithm ed25519
//	lessongate-admin sign-webhook -file event.json
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/billing"
	"github.com/tomtom215/lessongate/internal/config"
	"github.com/tomtom215/lessongate/internal/database"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/models"
)

const minPasswordLength = 8

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"create-identity": {"-username NAME [-email ADDR]", createIdentity},
	"set-password":    {"-username NAME", setPassword},
	"disable":         {"-username NAME", setDisabled(true)},
	"enable":          {"-username NAME", setDisabled(false)},
	"create-course":   {"-slug SLUG -title TITLE", createCourse},
	"create-lesson":   {"-course ID -title TITLE -playback-id ASSET [-free] [-unlock-at RFC3339]", createLesson},
	"unlock-lesson":   {"-username NAME -lesson ID", setLessonUnlock(true)},
	"revoke-unlock":   {"-username NAME -lesson ID", setLessonUnlock(false)},
	"gen-key":         {"[-algorithm hmac|ed25519]", genKey},
	"sign-webhook":    {"-file PATH", signWebhook},
}

func main() {
	logging.Init(logging.Config{Level: "warn", Format: "console", Output: os.Stderr})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	if err := cmd.run(context.Background(), os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lessongate-admin <command> [flags]")
	for name, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-16s %s\n", name, cmd.usage)
	}
}

func openDB() (*database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return database.New(&cfg.Database)
}

func readPassword() (string, error) {
	if pw := os.Getenv("LESSONGATE_PASSWORD"); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if len(pw) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return pw, nil
}

func hashPassword() (string, error) {
	pw, err := readPassword()
	if err != nil {
		return "", err
	}
	return auth.NewPasswordHasher(auth.DefaultArgon2Params()).Hash(pw)
}

func createIdentity(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-identity", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "contact address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	hash, err := hashPassword()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	identity := &models.Identity{Username: *username, Email: *email, PasswordHash: hash}
	if err := db.CreateIdentity(ctx, identity); err != nil {
		return err
	}
	fmt.Printf("created identity %d (%s)\n", identity.ID, identity.Username)
	return nil
}

func lookupIdentity(ctx context.Context, db *database.DB, username string) (*models.Identity, error) {
	identity, err := db.GetIdentityByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, database.ErrIdentityNotFound
	}
	return identity, nil
}

func setPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hash, err := hashPassword()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	identity, err := lookupIdentity(ctx, db, *username)
	if err != nil {
		return err
	}
	return db.UpdatePasswordHash(ctx, identity.ID, hash)
}

func setDisabled(disabled bool) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		fs := flag.NewFlagSet("disable", flag.ContinueOnError)
		username := fs.String("username", "", "login name")
		if err := fs.Parse(args); err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		identity, err := lookupIdentity(ctx, db, *username)
		if err != nil {
			return err
		}
		return db.SetIdentityDisabled(ctx, identity.ID, disabled)
	}
}

func createCourse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-course", flag.ContinueOnError)
	slug := fs.String("slug", "", "unique course slug")
	title := fs.String("title", "", "course title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" || *title == "" {
		return errors.New("-slug and -title are required")
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	course := &models.Course{Slug: *slug, Title: *title}
	if err := db.CreateCourse(ctx, course); err != nil {
		return err
	}
	fmt.Printf("created course %d (%s)\n", course.ID, course.Slug)
	return nil
}

func createLesson(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-lesson", flag.ContinueOnError)
	courseID := fs.Int64("course", 0, "course id")
	title := fs.String("title", "", "lesson title")
	playbackID := fs.String("playback-id", "", "asset id at the video network")
	free := fs.Bool("free", false, "free preview")
	unlockAt := fs.String("unlock-at", "", "drip release time, RFC3339")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *courseID <= 0 || *title == "" || *playbackID == "" {
		return errors.New("-course, -title and -playback-id are required")
	}

	lesson := &models.Lesson{CourseID: *courseID, Title: *title, PlaybackID: *playbackID, FreePreview: *free}
	if *unlockAt != "" {
		t, err := time.Parse(time.RFC3339, *unlockAt)
		if err != nil {
			return fmt.Errorf("-unlock-at: %w", err)
		}
		lesson.UnlockAt = &t
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateLesson(ctx, lesson); err != nil {
		return err
	}
	fmt.Printf("created lesson %d in course %d\n", lesson.ID, lesson.CourseID)
	return nil
}

// setLessonUnlock grants or revokes early access to a drip-scheduled lesson.
// The identity still needs a subscription to the lesson's course.
func setLessonUnlock(unlock bool) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		fs := flag.NewFlagSet("unlock-lesson", flag.ContinueOnError)
		username := fs.String("username", "", "login name")
		lessonID := fs.Int64("lesson", 0, "lesson id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *username == "" || *lessonID <= 0 {
			return errors.New("-username and -lesson are required")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		identity, err := lookupIdentity(ctx, db, *username)
		if err != nil {
			return err
		}
		lesson, err := db.GetLesson(ctx, *lessonID)
		if err != nil {
			return err
		}

		if !unlock {
			return db.RevokeLessonUnlock(ctx, identity.ID, lesson.ID)
		}
		if err := db.UnlockLesson(ctx, identity.ID, lesson.ID); err != nil {
			return err
		}
		if lesson.Released(time.Now()) {
			fmt.Printf("lesson %d is already released; unlock recorded for %s\n", lesson.ID, identity.Username)
		} else {
			fmt.Printf("unlocked lesson %d for %s\n", lesson.ID, identity.Username)
		}
		return nil
	}
}

func genKey(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("gen-key", flag.ContinueOnError)
	algorithm := fs.String("algorithm", "hmac", "hmac or ed25519")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *algorithm {
	case "hmac":
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return err
		}
		fmt.Printf("SIGNING_ALGORITHM=hmac\nSIGNING_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	case "ed25519":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		fmt.Printf("SIGNING_ALGORITHM=ed25519\nSIGNING_KEY=%s\nSIGNING_PUBLIC_KEY=%s\n",
			base64.StdEncoding.EncodeToString(priv.Seed()), base64.StdEncoding.EncodeToString(pub))
	default:
		return fmt.Errorf("unknown algorithm %q", *algorithm)
	}
	return nil
}

// signWebhook prints the Payment-Signature header for a payload file, for
// exercising the webhook by hand.
func signWebhook(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("sign-webhook", flag.ContinueOnError)
	path := fs.String("file", "", "payment event JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	if _, err := billing.DecodeEvent(body); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Events.WebhookSecret == "" {
		return errors.New("PAYMENT_WEBHOOK_SECRET is not set")
	}
	fmt.Printf("%s: %s\n", billing.SignatureHeader, billing.SignPayload([]byte(cfg.Events.WebhookSecret), body, time.Now()))
	return nil
}
