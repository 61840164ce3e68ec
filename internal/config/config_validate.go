// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package config

import (
	"fmt"
	"strings"
)

// Validate checks that configuration values are present and within range.
// A missing signing key is not a startup error: playback then fails closed
// with "content unavailable".
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateState,
		c.validateSigning,
		c.validateGuard,
		c.validateSession,
		c.validateTwoFactor,
		c.validateEvents,
		c.validateLogging,
		c.validateAudit,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateState() error {
	switch c.State.Store {
	case "memory":
		return nil
	case "badger":
		if c.State.Path == "" {
			return fmt.Errorf("STATE_PATH is required when STATE_STORE=badger")
		}
		return nil
	default:
		return fmt.Errorf("STATE_STORE must be memory or badger, got %q", c.State.Store)
	}
}

func (c *Config) validateSigning() error {
	switch strings.ToLower(c.Signing.Algorithm) {
	case "hmac", "ed25519":
	default:
		return fmt.Errorf("SIGNING_ALGORITHM must be hmac or ed25519, got %q", c.Signing.Algorithm)
	}
	if c.Signing.TokenTTL <= 0 {
		return fmt.Errorf("PLAYBACK_TOKEN_TTL must be positive")
	}
	if c.Signing.PlaybackBaseURL == "" {
		return fmt.Errorf("PLAYBACK_BASE_URL is required")
	}
	return nil
}

func (c *Config) validateGuard() error {
	g := c.Guard
	if g.MaxAttempts < 1 {
		return fmt.Errorf("GUARD_MAX_ATTEMPTS must be at least 1")
	}
	if g.AccountMaxAttempts < g.MaxAttempts {
		return fmt.Errorf("GUARD_ACCOUNT_MAX_ATTEMPTS (%d) must not be lower than GUARD_MAX_ATTEMPTS (%d)",
			g.AccountMaxAttempts, g.MaxAttempts)
	}
	if g.AttemptWindow <= 0 || g.LockoutDuration <= 0 {
		return fmt.Errorf("GUARD_ATTEMPT_WINDOW and GUARD_LOCKOUT_DURATION must be positive")
	}
	if g.MaxLockoutDuration < g.LockoutDuration {
		return fmt.Errorf("GUARD_MAX_LOCKOUT_DURATION must be at least GUARD_LOCKOUT_DURATION")
	}
	if g.StoreTimeout <= 0 {
		return fmt.Errorf("GUARD_STORE_TIMEOUT must be positive")
	}
	for i, th := range g.DelayThresholds {
		if th.Failures < 1 || th.Delay <= 0 {
			return fmt.Errorf("delay threshold %d must have failures >= 1 and a positive delay", i)
		}
		if th.Failures >= g.MaxAttempts {
			return fmt.Errorf("delay threshold at %d failures is at or beyond the lockout threshold %d", th.Failures, g.MaxAttempts)
		}
		if i > 0 {
			prev := g.DelayThresholds[i-1]
			if th.Failures <= prev.Failures || th.Delay < prev.Delay {
				return fmt.Errorf("delay thresholds must be ascending in failures and non-decreasing in delay")
			}
		}
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.TTL <= 0 || c.Session.ChallengeTTL <= 0 {
		return fmt.Errorf("SESSION_TTL and LOGIN_CHALLENGE_TTL must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME is required")
	}
	return nil
}

func (c *Config) validateTwoFactor() error {
	if c.TwoFactor.Issuer == "" {
		return fmt.Errorf("TOTP_ISSUER is required")
	}
	if c.TwoFactor.BackupCodeCount < 1 || c.TwoFactor.BackupCodeCount > 50 {
		return fmt.Errorf("BACKUP_CODE_COUNT must be between 1 and 50, got %d", c.TwoFactor.BackupCodeCount)
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Transport {
	case "gochannel":
	case "nats":
		if c.Events.NATSURL == "" {
			return fmt.Errorf("NATS_URL is required when EVENTS_TRANSPORT=nats")
		}
	default:
		return fmt.Errorf("EVENTS_TRANSPORT must be gochannel or nats, got %q", c.Events.Transport)
	}
	if c.Events.Topic == "" {
		return fmt.Errorf("EVENTS_TOPIC is required")
	}
	if c.Events.Transport == "gochannel" && c.Events.ConfirmTimeout <= 0 {
		return fmt.Errorf("PAYMENT_CONFIRM_TIMEOUT must be positive with the gochannel transport")
	}
	if c.IsProduction() && c.Events.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required in production")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive, got %d", c.Audit.BufferSize)
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be at least 1, got %d", c.Audit.RetentionDays)
	}
	return nil
}
