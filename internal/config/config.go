// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package config loads Lessongate configuration from defaults, an optional YAML
// file, and environment variables (in that order of precedence, lowest first).
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Database    DatabaseConfig    `koanf:"database"`
	State       StateConfig       `koanf:"state"`
	Signing     SigningConfig     `koanf:"signing"`
	Guard       GuardConfig       `koanf:"guard"`
	Session     SessionConfig     `koanf:"session"`
	TwoFactor   TwoFactorConfig   `koanf:"twofactor"`
	Events      EventsConfig      `koanf:"events"`
	Entitlement EntitlementConfig `koanf:"entitlement"`
	Security    SecurityConfig    `koanf:"security"`
	Audit       AuditConfig       `koanf:"audit"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig holds DuckDB settings for identities, catalog and subscriptions.
type DatabaseConfig struct {
	Path      string `koanf:"path"` // ":memory:" for an ephemeral database
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// StateConfig selects the keyed store for attempts, sessions, challenges,
// two-factor devices and the replay cache.
type StateConfig struct {
	Store string `koanf:"store"` // memory or badger
	Path  string `koanf:"path"`  // badger directory
}

// SigningConfig holds playback token signing material.
// Key is base64: a shared secret for hmac, a 32-byte seed or 64-byte private key for ed25519.
type SigningConfig struct {
	Algorithm       string        `koanf:"algorithm"`
	Key             string        `koanf:"key"`
	PublicKey       string        `koanf:"public_key"`
	TokenTTL        time.Duration `koanf:"token_ttl"`
	PlaybackBaseURL string        `koanf:"playback_base_url"`
}

// DelayThreshold imposes Delay once a key has accumulated Failures.
type DelayThreshold struct {
	Failures int           `koanf:"failures"`
	Delay    time.Duration `koanf:"delay"`
}

// GuardConfig holds brute-force throttling and lockout settings
type GuardConfig struct {
	MaxAttempts        int              `koanf:"max_attempts"`
	AccountMaxAttempts int              `koanf:"account_max_attempts"`
	AttemptWindow      time.Duration    `koanf:"attempt_window"`
	LockoutDuration    time.Duration    `koanf:"lockout_duration"`
	MaxLockoutDuration time.Duration    `koanf:"max_lockout_duration"`
	ExponentialBackoff bool             `koanf:"exponential_backoff"`
	DelayThresholds    []DelayThreshold `koanf:"delay_thresholds"`
	StoreTimeout       time.Duration    `koanf:"store_timeout"`
	CleanupInterval    time.Duration    `koanf:"cleanup_interval"`
}

// SessionConfig holds session and login-challenge settings
type SessionConfig struct {
	TTL          time.Duration `koanf:"ttl"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
	ChallengeTTL time.Duration `koanf:"challenge_ttl"`
}

// TwoFactorConfig holds TOTP and backup-code settings
type TwoFactorConfig struct {
	Issuer          string `koanf:"issuer"`
	BackupCodeCount int    `koanf:"backup_code_count"`
	Skew            uint   `koanf:"skew"`
}

// EventsConfig holds payment-event transport settings
type EventsConfig struct {
	Transport        string        `koanf:"transport"` // gochannel or nats
	NATSURL          string        `koanf:"nats_url"`
	Topic            string        `koanf:"topic"`
	PoisonTopic      string        `koanf:"poison_topic"`
	WebhookSecret    string        `koanf:"webhook_secret"`
	WebhookTolerance time.Duration `koanf:"webhook_tolerance"`
	// ConfirmTimeout bounds how long the webhook waits for the in-process
	// consumer to apply an event before answering 503.
	ConfirmTimeout       time.Duration `koanf:"confirm_timeout"`
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// EntitlementConfig holds subscription lookup settings
type EntitlementConfig struct {
	LookupTimeout           time.Duration `koanf:"lookup_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// SecurityConfig holds HTTP-level protections
type SecurityConfig struct {
	CORSOrigins          []string      `koanf:"cors_origins"`
	LoginRateLimitReqs   int           `koanf:"login_rate_limit_reqs"`
	LoginRateLimitWindow time.Duration `koanf:"login_rate_limit_window"`
	TrustProxyHeaders    bool          `koanf:"trust_proxy_headers"` // honor X-Forwarded-For for client addresses
}

// AuditConfig controls the security event trail
type AuditConfig struct {
	Enabled       bool `koanf:"enabled"`
	BufferSize    int  `koanf:"buffer_size"`
	RetentionDays int  `koanf:"retention_days"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
