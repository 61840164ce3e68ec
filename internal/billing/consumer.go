// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/lessongate/internal/logging"
)

// ConsumerConfig tunes the event router.
type ConsumerConfig struct {
	Topic                string
	PoisonTopic          string
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultConsumerConfig returns production defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Topic:                "payments.events",
		PoisonTopic:          "payments.events.poison",
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
	}
}

// Consumer routes payment events from the bus into an Applier.
type Consumer struct {
	applier *Applier
	bus     *Bus
	config  ConsumerConfig
	logger  watermill.LoggerAdapter

	started     chan struct{}
	startedOnce sync.Once
}

// NewConsumer creates a Consumer. Call Run to start consuming.
func NewConsumer(applier *Applier, bus *Bus, cfg ConsumerConfig, logger watermill.LoggerAdapter) *Consumer {
	defaults := DefaultConsumerConfig()
	if cfg.Topic == "" {
		cfg.Topic = defaults.Topic
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaults.CloseTimeout
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaults.RetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = defaults.RetryMaxInterval
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = defaults.RetryMultiplier
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Consumer{
		applier: applier,
		bus:     bus,
		config:  cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
}

// newRouter builds a router with Recoverer, PoisonQueue and Retry. Invalid
// events skip the retries and go straight to the poison topic.
func (c *Consumer) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: c.config.CloseTimeout}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	if c.config.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(c.bus.Publisher, c.config.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	retry := middleware.Retry{
		MaxRetries:      c.config.RetryMaxRetries,
		InitialInterval: c.config.RetryInitialInterval,
		MaxInterval:     c.config.RetryMaxInterval,
		Multiplier:      c.config.RetryMultiplier,
		Logger:          c.logger,
	}
	router.AddMiddleware(retry.Middleware)

	if c.config.PoisonTopic != "" {
		invalid, err := middleware.PoisonQueueWithFilter(c.bus.Publisher, c.config.PoisonTopic, func(err error) bool {
			return errors.Is(err, ErrInvalidEvent)
		})
		if err != nil {
			return nil, fmt.Errorf("create invalid event middleware: %w", err)
		}
		router.AddMiddleware(invalid)
	}

	router.AddConsumerHandler(
		"billing_subscription_events",
		c.config.Topic,
		nopCloseSubscriber{c.bus.Subscriber},
		c.handle,
	)
	return router, nil
}

// Run consumes until ctx is canceled. A fresh router is built per call so a
// supervisor can restart it; the bus stays open across restarts. The bus
// counts the router as a consumer only while it is running.
func (c *Consumer) Run(ctx context.Context) error {
	router, err := c.newRouter()
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	watched := make(chan bool, 1)
	go func() {
		select {
		case <-router.Running():
			c.bus.attach()
			c.startedOnce.Do(func() { close(c.started) })
			watched <- true
		case <-stop:
			watched <- false
		}
	}()

	logging.Info().Str("topic", c.config.Topic).Msg("Payment event consumer starting")
	runErr := router.Run(ctx)

	close(stop)
	if <-watched {
		c.bus.detach()
	}

	if runErr != nil {
		return fmt.Errorf("payment event router: %w", runErr)
	}
	return ctx.Err()
}

// Started is closed once the first router is consuming.
func (c *Consumer) Started() <-chan struct{} {
	return c.started
}

func (c *Consumer) handle(msg *message.Message) error {
	ctx := msg.Context()

	event, err := DecodeEvent(msg.Payload)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Rejecting malformed payment event")
		return err
	}
	if event.ID != msg.UUID {
		logging.Ctx(ctx).Debug().Str("message_uuid", msg.UUID).Str("event_id", event.ID).
			Msg("Message UUID differs from event id, using event id")
	}

	if _, err := c.applier.Apply(ctx, event); err != nil {
		return err
	}
	c.bus.markApplied(event.ID)
	return nil
}

// nopCloseSubscriber keeps the shared bus open when a router shuts down.
type nopCloseSubscriber struct {
	message.Subscriber
}

func (nopCloseSubscriber) Close() error { return nil }
