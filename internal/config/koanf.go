// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/lessongate/config.yaml",
	"/etc/lessongate/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DotEnvPathEnvVar names an env file read before the environment layer.
// Without it ./.env is used when present.
const DotEnvPathEnvVar = "ENV_FILE"

// sliceConfigPaths are accepted as comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Environment:     "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path:      "/data/lessongate.duckdb",
			MaxMemory: "1GB",
		},
		State: StateConfig{
			Store: "badger",
			Path:  "/data/state",
		},
		Signing: SigningConfig{
			Algorithm:       "hmac",
			TokenTTL:        2 * time.Hour,
			PlaybackBaseURL: "https://stream.example.com",
		},
		Guard: GuardConfig{
			MaxAttempts:        10,
			AccountMaxAttempts: 30,
			AttemptWindow:      time.Hour,
			LockoutDuration:    15 * time.Minute,
			MaxLockoutDuration: 24 * time.Hour,
			ExponentialBackoff: true,
			DelayThresholds: []DelayThreshold{
				{Failures: 3, Delay: 2 * time.Second},
				{Failures: 5, Delay: 5 * time.Second},
				{Failures: 7, Delay: 10 * time.Second},
			},
			StoreTimeout:    time.Second,
			CleanupInterval: 5 * time.Minute,
		},
		Session: SessionConfig{
			TTL:          14 * 24 * time.Hour,
			CookieName:   "lg_session",
			CookieSecure: true,
			ChallengeTTL: 5 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:          "Lessongate",
			BackupCodeCount: 10,
			Skew:            1,
		},
		Events: EventsConfig{
			Transport:            "gochannel",
			NATSURL:              "nats://127.0.0.1:4222",
			Topic:                "payments.subscription",
			PoisonTopic:          "payments.poison",
			WebhookTolerance:     5 * time.Minute,
			ConfirmTimeout:       10 * time.Second,
			RetryMaxRetries:      5,
			RetryInitialInterval: 100 * time.Millisecond,
			CloseTimeout:         30 * time.Second,
		},
		Entitlement: EntitlementConfig{
			LookupTimeout:           2 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:          []string{},
			LoginRateLimitReqs:   20,
			LoginRateLimitWindow: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1024,
			RetentionDays: 90,
		},
	}
}

// LoadWithKoanf layers defaults, an optional YAML file and environment variables,
// then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	// SIGNING_KEY -> signing.key, GUARD_MAX_ATTEMPTS -> guard.max_attempts
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processDelayThresholds(k); err != nil {
		return nil, fmt.Errorf("failed to process delay thresholds: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotEnv fills unset environment variables from the env file. Variables
// already present in the process environment are left alone.
func loadDotEnv() error {
	path := os.Getenv(DotEnvPathEnvVar)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// processDelayThresholds accepts GUARD_DELAY_THRESHOLDS="3:2s,5:5s,7:10s".
func processDelayThresholds(k *koanf.Koanf) error {
	const path = "guard.delay_thresholds"
	strVal, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	thresholds, err := ParseDelayThresholds(strVal)
	if err != nil {
		return err
	}
	entries := make([]interface{}, 0, len(thresholds))
	for _, th := range thresholds {
		entries = append(entries, map[string]interface{}{
			"failures": th.Failures,
			"delay":    th.Delay,
		})
	}
	return k.Set(path, entries)
}

// ParseDelayThresholds parses "failures:delay" pairs separated by commas.
func ParseDelayThresholds(s string) ([]DelayThreshold, error) {
	var out []DelayThreshold
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		failuresStr, delayStr, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("invalid delay threshold %q: want failures:delay", part)
		}
		failures, err := strconv.Atoi(strings.TrimSpace(failuresStr))
		if err != nil {
			return nil, fmt.Errorf("invalid failure count in %q: %w", part, err)
		}
		delay, err := time.ParseDuration(strings.TrimSpace(delayStr))
		if err != nil {
			return nil, fmt.Errorf("invalid delay in %q: %w", part, err)
		}
		out = append(out, DelayThreshold{Failures: failures, Delay: delay})
	}
	return out, nil
}

// envTransformFunc maps known environment variables to config paths.
// Unknown variables return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_port":        "server.port",
		"http_host":        "server.host",
		"read_timeout":     "server.read_timeout",
		"write_timeout":    "server.write_timeout",
		"shutdown_timeout": "server.shutdown_timeout",
		"environment":      "server.environment",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		"state_store": "state.store",
		"state_path":  "state.path",

		"signing_algorithm":  "signing.algorithm",
		"signing_key":        "signing.key",
		"signing_public_key": "signing.public_key",
		"playback_token_ttl": "signing.token_ttl",
		"playback_base_url":  "signing.playback_base_url",

		"guard_max_attempts":         "guard.max_attempts",
		"guard_account_max_attempts": "guard.account_max_attempts",
		"guard_attempt_window":       "guard.attempt_window",
		"guard_lockout_duration":     "guard.lockout_duration",
		"guard_max_lockout_duration": "guard.max_lockout_duration",
		"guard_exponential_backoff":  "guard.exponential_backoff",
		"guard_delay_thresholds":     "guard.delay_thresholds",
		"guard_store_timeout":        "guard.store_timeout",
		"guard_cleanup_interval":     "guard.cleanup_interval",

		"session_ttl":           "session.ttl",
		"session_cookie_name":   "session.cookie_name",
		"session_cookie_secure": "session.cookie_secure",
		"login_challenge_ttl":   "session.challenge_ttl",

		"totp_issuer":       "twofactor.issuer",
		"backup_code_count": "twofactor.backup_code_count",
		"totp_skew":         "twofactor.skew",

		"events_transport":          "events.transport",
		"nats_url":                  "events.nats_url",
		"events_topic":              "events.topic",
		"events_poison_topic":       "events.poison_topic",
		"payment_webhook_secret":    "events.webhook_secret",
		"payment_webhook_tolerance": "events.webhook_tolerance",
		"payment_confirm_timeout":   "events.confirm_timeout",

		"entitlement_lookup_timeout":    "entitlement.lookup_timeout",
		"entitlement_breaker_threshold": "entitlement.breaker_failure_threshold",
		"entitlement_breaker_timeout":   "entitlement.breaker_timeout",

		"cors_origins":            "security.cors_origins",
		"login_rate_limit_reqs":   "security.login_rate_limit_reqs",
		"login_rate_limit_window": "security.login_rate_limit_window",
		"trust_proxy_headers":     "security.trust_proxy_headers",

		"audit_enabled":        "audit.enabled",
		"audit_buffer_size":    "audit.buffer_size",
		"audit_retention_days": "audit.retention_days",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
