// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package services

import (
	"context"
	"sort"
	"time"

	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
)

// CleanupFunc removes expired entries from one store and reports how many.
type CleanupFunc func(ctx context.Context) (int, error)

// CleanupService periodically purges expired sessions, attempt records,
// login challenges and replay entries. Badger drops TTL'd keys on its own;
// this covers the memory stores and records that carry no TTL.
type CleanupService struct {
	cleaners map[string]CleanupFunc
	names    []string
	interval time.Duration
	name     string
}

// NewCleanupService runs every cleaner once per interval. A non-positive
// interval means 5 minutes.
func NewCleanupService(cleaners map[string]CleanupFunc, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	names := make([]string, 0, len(cleaners))
	for name := range cleaners {
		names = append(names, name)
	}
	sort.Strings(names)
	return &CleanupService{cleaners: cleaners, names: names, interval: interval, name: "state-cleanup"}
}

// Serve implements suture.Service. Store errors are logged and retried on the
// next tick; they never stop the service.
func (s *CleanupService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every cleaner and returns the total removed.
func (s *CleanupService) RunOnce(ctx context.Context) int {
	total := 0
	for _, name := range s.names {
		removed, err := s.cleaners[name](ctx)
		if err != nil {
			logging.Warn().Err(err).Str("store", name).Msg("Expired state cleanup failed")
			continue
		}
		if removed > 0 {
			metrics.CleanupRemoved.WithLabelValues(name).Add(float64(removed))
			logging.Debug().Str("store", name).Int("removed", removed).Msg("Expired state cleaned up")
		}
		total += removed
	}
	return total
}

// String names the service in supervisor logs.
func (s *CleanupService) String() string {
	return s.name
}
