// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

// ErrDeviceNotFound is returned when an identity has no device.
var ErrDeviceNotFound = errors.New("two-factor device not found")

// State is an identity's position in the enrollment state machine.
type State string

const (
	StateUnenrolled   State = "unenrolled"
	StatePendingSetup State = "pending_setup"
	StateEnrolled     State = "enrolled"
)

// BackupCode is a single-use recovery code. Only its hash is stored.
type BackupCode struct {
	Hash   string     `json:"hash"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// Device is the TOTP device of one identity. An unconfirmed device is a
// pending setup.
type Device struct {
	IdentityID  int64        `json:"identity_id"`
	Secret      string       `json:"secret"`
	Confirmed   bool         `json:"confirmed"`
	CreatedAt   time.Time    `json:"created_at"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty"`
	BackupCodes []BackupCode `json:"backup_codes,omitempty"`
}

// State derives the enrollment state from the device.
func (d *Device) State() State {
	switch {
	case d == nil:
		return StateUnenrolled
	case d.Confirmed:
		return StateEnrolled
	default:
		return StatePendingSetup
	}
}

// RemainingBackupCodes counts unused backup codes.
func (d *Device) RemainingBackupCodes() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, c := range d.BackupCodes {
		if c.UsedAt == nil {
			n++
		}
	}
	return n
}

func (d *Device) clone() *Device {
	cp := *d
	cp.BackupCodes = append([]BackupCode(nil), d.BackupCodes...)
	return &cp
}

// consume marks the unused code with hash as used. It compares every code in
// constant time so the position of a match is not observable.
func (d *Device) consume(hash string, now time.Time) bool {
	idx := -1
	for i, c := range d.BackupCodes {
		if subtle.ConstantTimeCompare([]byte(c.Hash), []byte(hash)) == 1 && c.UsedAt == nil {
			idx = i
		}
	}
	if idx < 0 {
		return false
	}
	used := now
	d.BackupCodes[idx].UsedAt = &used
	return true
}

// DeviceStore persists devices, one per identity.
type DeviceStore interface {
	// Get returns ErrDeviceNotFound when the identity has no device.
	Get(ctx context.Context, identityID int64) (*Device, error)
	Save(ctx context.Context, device *Device) error
	Delete(ctx context.Context, identityID int64) error

	// ConsumeBackupCode atomically marks an unused code as used. It reports
	// false when the code is unknown, already used, or the device is not
	// confirmed.
	ConsumeBackupCode(ctx context.Context, identityID int64, hash string, now time.Time) (bool, error)
}

// MemoryDeviceStore keeps devices in a map.
type MemoryDeviceStore struct {
	mu      sync.Mutex
	devices map[int64]*Device
}

// NewMemoryDeviceStore creates an empty store.
func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{devices: make(map[int64]*Device)}
}

func (s *MemoryDeviceStore) Get(ctx context.Context, identityID int64) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[identityID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.clone(), nil
}

func (s *MemoryDeviceStore) Save(ctx context.Context, device *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[device.IdentityID] = device.clone()
	return nil
}

func (s *MemoryDeviceStore) Delete(ctx context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, identityID)
	return nil
}

func (s *MemoryDeviceStore) ConsumeBackupCode(ctx context.Context, identityID int64, hash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[identityID]
	if !ok || !d.Confirmed {
		return false, nil
	}
	return d.consume(hash, now), nil
}
