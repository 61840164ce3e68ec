// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrAttemptNotFound is returned when no attempt record exists for a key.
var ErrAttemptNotFound = errors.New("attempt record not found")

// AttemptRecord is the failure history for one throttle key.
type AttemptRecord struct {
	Key          string    `json:"key"`
	Failures     int       `json:"failures"`
	FirstFailure time.Time `json:"first_failure"`
	LastFailure  time.Time `json:"last_failure"`
	LockedUntil  time.Time `json:"locked_until,omitempty"`
	LockoutCount int       `json:"lockout_count"`
	LastAddress  string    `json:"last_address,omitempty"`
}

// IsLocked reports whether the key is locked at now.
func (r *AttemptRecord) IsLocked(now time.Time) bool {
	return r != nil && now.Before(r.LockedUntil)
}

// activeFailures is the failure count still inside the tracking window.
func (r *AttemptRecord) activeFailures(now time.Time, window time.Duration) int {
	if r == nil || r.Failures == 0 {
		return 0
	}
	if window > 0 && now.Sub(r.LastFailure) > window {
		return 0
	}
	return r.Failures
}

// AttemptStore persists attempt records. Update must be an atomic
// read-modify-write for a single key: concurrent failures never lose increments.
type AttemptStore interface {
	// Get returns ErrAttemptNotFound for an unknown key.
	Get(ctx context.Context, key string) (*AttemptRecord, error)

	// Update applies fn to the record for key, creating a zero record (with Key
	// set) when none exists, and returns the stored result.
	Update(ctx context.Context, key string, fn func(rec *AttemptRecord) error) (*AttemptRecord, error)

	// Delete removes a record. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CleanupExpired removes unlocked records whose last failure is before the
	// cutoff and returns how many were removed.
	CleanupExpired(ctx context.Context, before time.Time) (int, error)
}

// DelayStep imposes Delay once a key reaches Failures.
type DelayStep struct {
	Failures int
	Delay    time.Duration
}

// ThrottlePolicy configures the Guard's delay and lockout behaviour.
type ThrottlePolicy struct {
	// MaxAttempts locks a principal/address pair.
	MaxAttempts int

	// AccountMaxAttempts locks a principal regardless of address.
	AccountMaxAttempts int

	// Window is how long a failure keeps counting.
	Window time.Duration

	LockoutDuration    time.Duration
	MaxLockoutDuration time.Duration
	ExponentialBackoff bool

	// Delays must be ordered by Failures with non-decreasing Delay.
	Delays []DelayStep

	// StoreTimeout bounds each attempt-store operation.
	StoreTimeout time.Duration
}

// DefaultThrottlePolicy returns the production defaults.
func DefaultThrottlePolicy() ThrottlePolicy {
	return ThrottlePolicy{
		MaxAttempts:        10,
		AccountMaxAttempts: 30,
		Window:             time.Hour,
		LockoutDuration:    15 * time.Minute,
		MaxLockoutDuration: 24 * time.Hour,
		ExponentialBackoff: true,
		Delays: []DelayStep{
			{Failures: 3, Delay: 2 * time.Second},
			{Failures: 5, Delay: 5 * time.Second},
			{Failures: 7, Delay: 10 * time.Second},
		},
		StoreTimeout: time.Second,
	}
}

func (p *ThrottlePolicy) normalize() {
	def := DefaultThrottlePolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.AccountMaxAttempts <= 0 {
		p.AccountMaxAttempts = def.AccountMaxAttempts
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.LockoutDuration <= 0 {
		p.LockoutDuration = def.LockoutDuration
	}
	if p.MaxLockoutDuration < p.LockoutDuration {
		p.MaxLockoutDuration = p.LockoutDuration
	}
	if p.StoreTimeout <= 0 {
		p.StoreTimeout = def.StoreTimeout
	}
	sort.SliceStable(p.Delays, func(i, j int) bool { return p.Delays[i].Failures < p.Delays[j].Failures })
}

// delayFor returns the delay required after failures consecutive failures.
func (p *ThrottlePolicy) delayFor(failures int) time.Duration {
	var d time.Duration
	for _, step := range p.Delays {
		if failures < step.Failures {
			break
		}
		d = step.Delay
	}
	return d
}

// maxLockoutShift keeps 1<<count from overflowing before the cap applies.
const maxLockoutShift = 20

// calculateLockoutDuration doubles the base duration for each previous lockout.
func calculateLockoutDuration(p *ThrottlePolicy, lockoutCount int) time.Duration {
	duration := p.LockoutDuration

	if !p.ExponentialBackoff || lockoutCount == 0 {
		return duration
	}
	if lockoutCount > maxLockoutShift {
		lockoutCount = maxLockoutShift
	}

	multiplier := 1 << lockoutCount
	duration = time.Duration(int64(duration) * int64(multiplier))

	if duration > p.MaxLockoutDuration {
		return p.MaxLockoutDuration
	}
	return duration
}

// Throttle keys. The principal is case-folded so "Alice" and "alice" share state.
func pairKey(principal, address string) string {
	return "pair:" + strings.ToLower(principal) + "|" + address
}

func accountKey(principal string) string {
	return "account:" + strings.ToLower(principal)
}

// MemoryAttemptStore is an in-memory AttemptStore for tests and single-node use.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records map[string]*AttemptRecord
}

// NewMemoryAttemptStore creates an empty store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{records: make(map[string]*AttemptRecord)}
}

// Get returns a copy of the record for key.
func (s *MemoryAttemptStore) Get(ctx context.Context, key string) (*AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	cp := *rec
	return &cp, nil
}

// Update runs fn under the store lock.
func (s *MemoryAttemptStore) Update(ctx context.Context, key string, fn func(rec *AttemptRecord) error) (*AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &AttemptRecord{Key: key}
	if existing, ok := s.records[key]; ok {
		cp := *existing
		rec = &cp
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Key = key
	s.records[key] = rec

	cp := *rec
	return &cp, nil
}

// Delete removes key.
func (s *MemoryAttemptStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// CleanupExpired drops stale, unlocked records.
func (s *MemoryAttemptStore) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if rec.LastFailure.Before(before) && !rec.IsLocked(before) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
