// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package services adapts Lessongate components to suture.Service:
//
//   - HTTPServerService: ListenAndServe with graceful Shutdown.
//   - ConsumerService: the payment event consumer's Run loop.
//   - CleanupService: periodic purge of expired keyed state.
//
// Every service returns ctx.Err() on cancellation and a wrapped error on
// failure, so the supervisor restarts it under its backoff policy.
package services
