// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/lessongate/internal/api"
	"github.com/tomtom215/lessongate/internal/audit"
	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/billing"
	"github.com/tomtom215/lessongate/internal/config"
	"github.com/tomtom215/lessongate/internal/database"
	"github.com/tomtom215/lessongate/internal/entitlement"
	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/playback"
	"github.com/tomtom215/lessongate/internal/supervisor"
	"github.com/tomtom215/lessongate/internal/supervisor/services"
	"github.com/tomtom215/lessongate/internal/twofactor"
)

// app owns every long-lived resource. Close releases them in reverse order.
type app struct {
	cfg      *config.Config
	db       *database.DB
	trail    *audit.Logger
	state    *auth.StateStoreFactory
	bus      *billing.Bus
	consumer *billing.Consumer
	server   *http.Server
	cleaners map[string]services.CleanupFunc
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.db = db

	if cfg.Audit.Enabled {
		store := audit.NewDuckDBStore(db.Conn())
		if err := store.CreateTable(context.Background()); err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize audit store: %w", err)
		}
		a.trail = audit.NewLogger(store, audit.Config{
			BufferSize:    cfg.Audit.BufferSize,
			RetentionDays: cfg.Audit.RetentionDays,
		})
	}

	state, err := auth.NewStateStoreFactory(auth.StateStoreType(cfg.State.Store), cfg.State.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize state store: %w", err)
	}
	a.state = state

	policy := throttlePolicy(cfg.Guard)
	sessions := state.SessionStore()
	attempts := state.AttemptStore(policy.Window + policy.MaxLockoutDuration)
	challenges := state.ChallengeStore()

	var devices twofactor.DeviceStore
	var replay twofactor.ReplayCache
	if bdb := state.DB(); bdb != nil {
		devices = twofactor.NewBadgerDeviceStore(bdb)
		replay = twofactor.NewBadgerReplayCache(bdb)
	} else {
		devices = twofactor.NewMemoryDeviceStore()
		replay = twofactor.NewMemoryReplayCache(nil)
	}
	manager := twofactor.NewManager(devices, replay, twofactor.Config{
		Issuer:          cfg.TwoFactor.Issuer,
		BackupCodeCount: cfg.TwoFactor.BackupCodeCount,
		Skew:            cfg.TwoFactor.Skew,
	}, nil)

	guard := auth.NewGuard(auth.GuardDeps{
		Identities:   db,
		Attempts:     attempts,
		Sessions:     sessions,
		Challenges:   challenges,
		SecondFactor: manager,
	}, auth.GuardConfig{
		Policy:       policy,
		SessionTTL:   cfg.Session.TTL,
		ChallengeTTL: cfg.Session.ChallengeTTL,
	})

	resolver := entitlement.NewResolver(db, entitlement.Config{
		LookupTimeout:    cfg.Entitlement.LookupTimeout,
		FailureThreshold: cfg.Entitlement.BreakerFailureThreshold,
		BreakerTimeout:   cfg.Entitlement.BreakerTimeout,
	})

	var signer playback.Signer
	if s, err := playback.NewSigner(cfg.Signing); err != nil {
		logging.Warn().Err(err).Msg("Playback signing unavailable; playback requests will get 503")
	} else {
		signer = s
		logging.Info().Str("algorithm", s.Algorithm()).Msg("Playback signing configured")
	}
	issuer := playback.NewIssuer(signer, cfg.Signing.TokenTTL)

	bus, err := billing.NewBus(billing.BusConfig{
		Transport:      cfg.Events.Transport,
		NATSURL:        cfg.Events.NATSURL,
		CloseTimeout:   cfg.Events.CloseTimeout,
		ConfirmTimeout: cfg.Events.ConfirmTimeout,
	}, logging.NewWatermillAdapter())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize event bus: %w", err)
	}
	a.bus = bus

	consumerCfg := billing.DefaultConsumerConfig()
	consumerCfg.Topic = cfg.Events.Topic
	consumerCfg.PoisonTopic = cfg.Events.PoisonTopic
	consumerCfg.CloseTimeout = cfg.Events.CloseTimeout
	consumerCfg.RetryMaxRetries = cfg.Events.RetryMaxRetries
	consumerCfg.RetryInitialInterval = cfg.Events.RetryInitialInterval
	a.consumer = billing.NewConsumer(billing.NewApplier(db), bus, consumerCfg, logging.NewWatermillAdapter())

	var webhook http.Handler
	if cfg.Events.WebhookSecret != "" {
		webhook = billing.NewWebhookHandler(cfg.Events.WebhookSecret, cfg.Events.WebhookTolerance, bus, consumerCfg.Topic).
			WithResponseWriter(api.WebhookResponse)
	} else {
		logging.Warn().Msg("PAYMENT_WEBHOOK_SECRET not set; payment webhook disabled")
	}

	sessionCfg := auth.DefaultSessionMiddlewareConfig()
	sessionCfg.CookieName = cfg.Session.CookieName
	sessionCfg.CookieSecure = cfg.Session.CookieSecure
	sessionCfg.SessionTTL = cfg.Session.TTL
	sessionCfg.Unauthorized = http.HandlerFunc(api.Unauthorized)

	handler := api.NewHandler(api.HandlerDeps{
		Guard:           guard,
		Sessions:        auth.NewSessionMiddleware(sessions, sessionCfg),
		Lessons:         db,
		Entitlements:    resolver,
		Issuer:          issuer,
		TwoFactor:       manager,
		Webhook:         webhook,
		Ready:           map[string]api.Pinger{"database": db},
		Audit:           a.trail,
		PlaybackBaseURL: cfg.Signing.PlaybackBaseURL,
		TokenTTL:        cfg.Signing.TokenTTL,
		TrustProxy:      cfg.Security.TrustProxyHeaders,
	})

	a.server = &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: api.NewRouter(handler, api.RouterConfig{
			CORSOrigins:          cfg.Security.CORSOrigins,
			LoginRateLimitReqs:   cfg.Security.LoginRateLimitReqs,
			LoginRateLimitWindow: cfg.Security.LoginRateLimitWindow,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	a.cleaners = map[string]services.CleanupFunc{
		"sessions": func(ctx context.Context) (int, error) {
			return sessions.CleanupExpired(ctx, time.Now())
		},
		"attempts": guard.CleanupExpired,
		"challenges": func(ctx context.Context) (int, error) {
			return challenges.CleanupExpired(ctx, time.Now())
		},
		"replay": replay.CleanupExpired,
	}
	if a.trail != nil {
		a.cleaners["audit"] = a.trail.Cleanup
	}

	return a, nil
}

// register adds the supervised services to tree.
func (a *app) register(tree *supervisor.SupervisorTree) {
	tree.AddDataService(services.NewCleanupService(a.cleaners, a.cfg.Guard.CleanupInterval))
	tree.AddMessagingService(services.NewConsumerService(a.consumer))
	tree.AddAPIService(services.NewHTTPServerService(a.server, a.cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", a.server.Addr).Msg("HTTP server registered")
}

// Close is safe on a partially built app.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
		a.bus = nil
	}
	if a.trail != nil {
		if err := a.trail.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit trail")
		}
		a.trail = nil
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing state store")
		}
		a.state = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
		a.db = nil
	}
}

// throttlePolicy converts the guard section of the configuration.
func throttlePolicy(cfg config.GuardConfig) auth.ThrottlePolicy {
	delays := make([]auth.DelayStep, 0, len(cfg.DelayThresholds))
	for _, d := range cfg.DelayThresholds {
		delays = append(delays, auth.DelayStep{Failures: d.Failures, Delay: d.Delay})
	}
	return auth.ThrottlePolicy{
		MaxAttempts:        cfg.MaxAttempts,
		AccountMaxAttempts: cfg.AccountMaxAttempts,
		Window:             cfg.AttemptWindow,
		LockoutDuration:    cfg.LockoutDuration,
		MaxLockoutDuration: cfg.MaxLockoutDuration,
		ExponentialBackoff: cfg.ExponentialBackoff,
		Delays:             delays,
		StoreTimeout:       cfg.StoreTimeout,
	}
}
