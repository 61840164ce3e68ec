// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrChallengeNotFound is returned for unknown or already consumed challenges.
var ErrChallengeNotFound = errors.New("login challenge not found")

// LoginChallenge binds a password-verified identity to a pending second factor.
// It is single use and short lived.
type LoginChallenge struct {
	ID         string    `json:"id"`
	IdentityID int64     `json:"identity_id"`
	Username   string    `json:"username"`
	Address    string    `json:"address"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the challenge has expired at now.
func (c *LoginChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ChallengeStore persists login challenges.
type ChallengeStore interface {
	Create(ctx context.Context, c *LoginChallenge) error

	// Get returns ErrChallengeNotFound for unknown ids.
	Get(ctx context.Context, id string) (*LoginChallenge, error)

	// Consume deletes the challenge. Exactly one concurrent caller succeeds;
	// the others get ErrChallengeNotFound.
	Consume(ctx context.Context, id string) error

	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryChallengeStore keeps challenges in a map.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*LoginChallenge
}

// NewMemoryChallengeStore creates an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]*LoginChallenge)}
}

func (s *MemoryChallengeStore) Create(ctx context.Context, c *LoginChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	s.challenges[c.ID] = &stored
	return nil
}

func (s *MemoryChallengeStore) Get(ctx context.Context, id string) (*LoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryChallengeStore) Consume(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[id]; !ok {
		return ErrChallengeNotFound
	}
	delete(s.challenges, id)
	return nil
}

func (s *MemoryChallengeStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.challenges {
		if c.IsExpired(now) {
			delete(s.challenges, id)
			n++
		}
	}
	return n, nil
}
