// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package twofactor implements TOTP enrollment and verification with
// single-use backup codes.
//
// An identity moves unenrolled -> pending setup -> enrolled. A pending setup
// can be cancelled, leaving nothing behind; an enrolled identity can only
// leave enrollment through Disable.
package twofactor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
)

// Verification methods reported by VerifyChallenge.
const (
	MethodTOTP   = "totp"
	MethodBackup = "backup"
)

var (
	// ErrInvalidCode is returned for wrong, replayed or already used codes.
	ErrInvalidCode = auth.ErrInvalidTwoFactorCode

	// ErrAlreadyEnrolled is returned when setup is started or cancelled on an
	// enrolled identity.
	ErrAlreadyEnrolled = errors.New("two-factor already enrolled")

	// ErrNotPending is returned when confirming without a pending setup.
	ErrNotPending = errors.New("no pending two-factor setup")

	// ErrNotEnrolled is returned for operations that need a confirmed device.
	ErrNotEnrolled = errors.New("two-factor not enrolled")
)

// Config configures a Manager.
type Config struct {
	Issuer          string
	BackupCodeCount int
	Skew            uint
	Period          uint
}

// SetupMaterial is shown to the user once, to load into an authenticator app.
type SetupMaterial struct {
	Secret string
	URL    string
}

// Status is an identity's enrollment summary.
type Status struct {
	State                State
	RemainingBackupCodes int
}

// Manager drives the enrollment state machine and verifies codes.
type Manager struct {
	devices DeviceStore
	replay  ReplayCache
	cfg     Config
	now     func() time.Time

	// mu serializes state transitions; verification does not take it.
	mu sync.Mutex
}

// NewManager creates a Manager. A nil clock means time.Now.
func NewManager(devices DeviceStore, replay ReplayCache, cfg Config, clock func() time.Time) *Manager {
	if cfg.Issuer == "" {
		cfg.Issuer = "Lessongate"
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{devices: devices, replay: replay, cfg: cfg, now: clock}
}

func (m *Manager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.cfg.Period,
		Skew:      m.cfg.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// replayTTL covers every time step a code could validate in.
func (m *Manager) replayTTL() time.Duration {
	return time.Duration(2*m.cfg.Skew+2) * time.Duration(m.cfg.Period) * time.Second
}

func (m *Manager) device(ctx context.Context, identityID int64) (*Device, error) {
	d, err := m.devices.Get(ctx, identityID)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, nil
	}
	return d, err
}

// BeginSetup creates a pending device with a fresh secret. A stale pending
// device is replaced.
func (m *Manager) BeginSetup(ctx context.Context, identityID int64, accountName string) (*SetupMaterial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.device(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if existing.State() == StateEnrolled {
		return nil, ErrAlreadyEnrolled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.cfg.Issuer,
		AccountName: accountName,
		Period:      m.cfg.Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	device := &Device{IdentityID: identityID, Secret: key.Secret(), CreatedAt: m.now()}
	if err := m.devices.Save(ctx, device); err != nil {
		return nil, fmt.Errorf("save pending device: %w", err)
	}

	m.transition(ctx, identityID, "begin_setup")
	return &SetupMaterial{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmSetup activates the pending device when code is valid and returns
// the plaintext backup codes. They are never retrievable again.
func (m *Manager) ConfirmSetup(ctx context.Context, identityID int64, code string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, err := m.device(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if device.State() != StatePendingSetup {
		return nil, ErrNotPending
	}

	if ok, err := m.checkTOTP(ctx, identityID, device.Secret, code); err != nil {
		return nil, err
	} else if !ok {
		metrics.TwoFactorVerifications.WithLabelValues("setup", "rejected").Inc()
		return nil, ErrInvalidCode
	}

	plain, stored, err := generateBackupCodes(m.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	now := m.now()
	device.Confirmed = true
	device.ConfirmedAt = &now
	device.BackupCodes = stored
	if err := m.devices.Save(ctx, device); err != nil {
		return nil, fmt.Errorf("confirm device: %w", err)
	}

	metrics.TwoFactorVerifications.WithLabelValues("setup", "accepted").Inc()
	m.transition(ctx, identityID, "confirm_setup")
	return plain, nil
}

// CancelSetup deletes a pending device. It is a no-op when nothing is pending.
func (m *Manager) CancelSetup(ctx context.Context, identityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, err := m.device(ctx, identityID)
	if err != nil {
		return err
	}
	switch device.State() {
	case StateUnenrolled:
		return nil
	case StateEnrolled:
		return ErrAlreadyEnrolled
	}
	if err := m.devices.Delete(ctx, identityID); err != nil {
		return fmt.Errorf("delete pending device: %w", err)
	}
	m.transition(ctx, identityID, "cancel_setup")
	return nil
}

// Disable removes the device in any state. Callers must have re-verified the
// identity's password.
func (m *Manager) Disable(ctx context.Context, identityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, err := m.device(ctx, identityID)
	if err != nil {
		return err
	}
	if device == nil {
		return ErrNotEnrolled
	}
	if err := m.devices.Delete(ctx, identityID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	m.transition(ctx, identityID, "disable")
	return nil
}

// RegenerateBackupCodes replaces every backup code of an enrolled identity.
// Callers must have re-verified the identity's password.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, identityID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, err := m.device(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if device.State() != StateEnrolled {
		return nil, ErrNotEnrolled
	}

	plain, stored, err := generateBackupCodes(m.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	device.BackupCodes = stored
	if err := m.devices.Save(ctx, device); err != nil {
		return nil, fmt.Errorf("save backup codes: %w", err)
	}
	m.transition(ctx, identityID, "regenerate_backup_codes")
	return plain, nil
}

// Enrolled reports whether the identity has a confirmed device.
func (m *Manager) Enrolled(ctx context.Context, identityID int64) (bool, error) {
	device, err := m.device(ctx, identityID)
	if err != nil {
		return false, err
	}
	return device.State() == StateEnrolled, nil
}

// Status summarizes the identity's enrollment.
func (m *Manager) Status(ctx context.Context, identityID int64) (Status, error) {
	device, err := m.device(ctx, identityID)
	if err != nil {
		return Status{}, err
	}
	return Status{State: device.State(), RemainingBackupCodes: device.RemainingBackupCodes()}, nil
}

// VerifyChallenge accepts a six-digit TOTP code or a backup code for an
// enrolled identity and reports which one matched. Every rejection is
// ErrInvalidCode.
func (m *Manager) VerifyChallenge(ctx context.Context, identityID int64, code string) (string, error) {
	device, err := m.device(ctx, identityID)
	if err != nil {
		return "", err
	}
	if device.State() != StateEnrolled {
		metrics.TwoFactorVerifications.WithLabelValues("none", "rejected").Inc()
		return "", ErrInvalidCode
	}

	if isTOTPCode(code) {
		ok, err := m.checkTOTP(ctx, identityID, device.Secret, code)
		if err != nil {
			return "", err
		}
		if !ok {
			metrics.TwoFactorVerifications.WithLabelValues(MethodTOTP, "rejected").Inc()
			return "", ErrInvalidCode
		}
		metrics.TwoFactorVerifications.WithLabelValues(MethodTOTP, "accepted").Inc()
		return MethodTOTP, nil
	}

	normalized, ok := normalizeBackupCode(code)
	if !ok {
		metrics.TwoFactorVerifications.WithLabelValues(MethodBackup, "rejected").Inc()
		return "", ErrInvalidCode
	}
	consumed, err := m.devices.ConsumeBackupCode(ctx, identityID, hashBackupCode(normalized), m.now())
	if err != nil {
		return "", err
	}
	if !consumed {
		metrics.TwoFactorVerifications.WithLabelValues(MethodBackup, "rejected").Inc()
		return "", ErrInvalidCode
	}
	metrics.TwoFactorVerifications.WithLabelValues(MethodBackup, "accepted").Inc()
	logging.Ctx(ctx).Info().Int64("identity_id", identityID).Msg("Backup code consumed")
	return MethodBackup, nil
}

// checkTOTP validates code and records it so it cannot be used twice.
func (m *Manager) checkTOTP(ctx context.Context, identityID int64, secret, code string) (bool, error) {
	if !isTOTPCode(code) {
		return false, nil
	}
	valid, err := totp.ValidateCustom(code, secret, m.now(), m.validateOpts())
	if err != nil || !valid {
		return false, nil
	}

	fresh, err := m.replay.CheckAndStore(ctx, strconv.FormatInt(identityID, 10)+":"+code, m.replayTTL())
	if err != nil {
		return false, fmt.Errorf("replay cache: %w", err)
	}
	if !fresh {
		logging.Ctx(ctx).Warn().Int64("identity_id", identityID).Msg("TOTP code replay rejected")
	}
	return fresh, nil
}

func (m *Manager) transition(ctx context.Context, identityID int64, name string) {
	metrics.TwoFactorTransitions.WithLabelValues(name).Inc()
	logging.Ctx(ctx).Info().Int64("identity_id", identityID).Str("transition", name).Msg("Two-factor state changed")
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
