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
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
)

// Transport names.
const (
	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// ErrNoConsumer is returned by Bus.Publish on the in-process transport when
// no consumer is subscribed. The event would otherwise be dropped.
var ErrNoConsumer = errors.New("no payment event consumer running")

// ErrUnconfirmed is returned by Bus.Publish on the in-process transport when
// the consumer did not apply the event within the confirm timeout.
var ErrUnconfirmed = errors.New("payment event not confirmed")

// Bus is the publisher and subscriber pair for payment events.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error

	// confirm is set for transports that do not persist messages.
	confirm *confirmations
}

// Publish puts msg on topic. NATS JetStream has stored the message once this
// returns nil. The in-process transport stores nothing, so there Publish also
// waits until a consumer has applied the event (msg.UUID is the event id).
func (b *Bus) Publish(ctx context.Context, topic string, msg *message.Message) error {
	if b.confirm == nil {
		return b.Publisher.Publish(topic, msg)
	}

	applied, release, err := b.confirm.expect(msg.UUID)
	if err != nil {
		return err
	}
	defer release()

	if err := b.Publisher.Publish(topic, msg); err != nil {
		return err
	}

	timer := time.NewTimer(b.confirm.timeout)
	defer timer.Stop()
	select {
	case <-applied:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrUnconfirmed, msg.UUID, b.confirm.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnconfirmed, ctx.Err())
	}
}

// attach and detach track running consumers; markApplied releases publishers
// waiting on eventID. All three are no-ops on durable transports.
func (b *Bus) attach() {
	if b.confirm != nil {
		b.confirm.adjustConsumers(1)
	}
}

func (b *Bus) detach() {
	if b.confirm != nil {
		b.confirm.adjustConsumers(-1)
	}
}

func (b *Bus) markApplied(eventID string) {
	if b.confirm != nil {
		b.confirm.done(eventID)
	}
}

type confirmations struct {
	timeout time.Duration

	mu        sync.Mutex
	consumers int
	waiters   map[string][]chan struct{}
}

func newConfirmations(timeout time.Duration) *confirmations {
	return &confirmations{timeout: timeout, waiters: make(map[string][]chan struct{})}
}

func (c *confirmations) adjustConsumers(delta int) {
	c.mu.Lock()
	c.consumers += delta
	c.mu.Unlock()
}

// expect registers a waiter for eventID. release must be called once the
// caller stops waiting.
func (c *confirmations) expect(eventID string) (<-chan struct{}, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumers <= 0 {
		return nil, nil, ErrNoConsumer
	}
	ch := make(chan struct{})
	c.waiters[eventID] = append(c.waiters[eventID], ch)
	return ch, func() { c.remove(eventID, ch) }, nil
}

func (c *confirmations) remove(eventID string, ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[eventID]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.waiters, eventID)
	} else {
		c.waiters[eventID] = list
	}
}

func (c *confirmations) done(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.waiters[eventID] {
		close(ch)
	}
	delete(c.waiters, eventID)
}

// Close closes the underlying transport.
func (b *Bus) Close() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BusConfig selects and tunes the transport.
type BusConfig struct {
	Transport      string
	NATSURL        string
	QueueGroup     string
	AckWaitTimeout time.Duration
	CloseTimeout   time.Duration
	// ConfirmTimeout applies to the in-process transport only. See Bus.Publish.
	ConfirmTimeout time.Duration
}

// NewBus creates the event transport. GoChannel keeps everything in process
// and confirms each publish against the consumer; NATS uses JetStream so
// events survive restarts.
func NewBus(cfg BusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	switch cfg.Transport {
	case "", TransportGoChannel:
		if cfg.ConfirmTimeout <= 0 {
			cfg.ConfirmTimeout = 10 * time.Second
		}
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger)
		return &Bus{
			Publisher:  ch,
			Subscriber: ch,
			closers:    []func() error{ch.Close},
			confirm:    newConfirmations(cfg.ConfirmTimeout),
		}, nil

	case TransportNATS:
		return newNATSBus(cfg, logger)

	default:
		return nil, fmt.Errorf("unknown event transport %q", cfg.Transport)
	}
}

func newNATSBus(cfg BusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if cfg.AckWaitTimeout <= 0 {
		cfg.AckWaitTimeout = 30 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "lessongate-billing"
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			AckAsync:      false,
			DurablePrefix: cfg.QueueGroup,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.AckWait(cfg.AckWaitTimeout),
				natsgo.DeliverAll(),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &Bus{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close}}, nil
}

// NewEventMessage wraps an event for publishing. The message UUID is the
// processor's event id, which also sets the JetStream de-duplication header.
func NewEventMessage(event *PaymentEvent) (*message.Message, error) {
	data, err := EncodeEvent(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set(natsgo.MsgIdHdr, event.ID)
	msg.Metadata.Set("event_type", string(event.Type))
	return msg, nil
}
