// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package services

import (
	"context"
	"errors"
	"fmt"
)

// EventConsumer is satisfied by *billing.Consumer. Run blocks until ctx is
// canceled or the router fails.
type EventConsumer interface {
	Run(ctx context.Context) error
}

// ConsumerService supervises the payment event consumer. A router failure is
// returned as an error so suture restarts it with backoff; Run builds a fresh
// router each time.
type ConsumerService struct {
	consumer EventConsumer
	name     string
}

// NewConsumerService wraps consumer.
func NewConsumerService(consumer EventConsumer) *ConsumerService {
	return &ConsumerService{consumer: consumer, name: "payment-event-consumer"}
}

// Serve implements suture.Service.
func (s *ConsumerService) Serve(ctx context.Context) error {
	err := s.consumer.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("payment event consumer failed: %w", err)
	}
	return errors.New("payment event consumer stopped unexpectedly")
}

// String names the service in supervisor logs.
func (s *ConsumerService) String() string {
	return s.name
}
