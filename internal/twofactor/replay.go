// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package twofactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ReplayCache remembers accepted TOTP codes until they can no longer validate.
type ReplayCache interface {
	// CheckAndStore atomically records key. fresh is false when key was
	// already recorded and has not expired.
	CheckAndStore(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)

	// CleanupExpired removes expired entries.
	CleanupExpired(ctx context.Context) (int, error)
}

// MemoryReplayCache is an in-memory ReplayCache.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryReplayCache creates a cache. A nil clock means time.Now.
func NewMemoryReplayCache(clock func() time.Time) *MemoryReplayCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryReplayCache{entries: make(map[string]time.Time), now: clock}
}

func (c *MemoryReplayCache) CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expires, ok := c.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	c.entries[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryReplayCache) CleanupExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, expires := range c.entries {
		if !now.Before(expires) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

const replayKeyPrefix = "totp_used:"

// BadgerReplayCache stores accepted codes as TTL entries; badger expires them.
type BadgerReplayCache struct {
	db *badger.DB
}

// NewBadgerReplayCache creates a BadgerDB-backed replay cache.
func NewBadgerReplayCache(db *badger.DB) *BadgerReplayCache {
	return &BadgerReplayCache{db: db}
}

// CheckAndStore reads and writes the key in one transaction; of two concurrent
// callers only one commits, the other sees ErrConflict and reports a replay.
func (c *BadgerReplayCache) CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	dbKey := []byte(replayKeyPrefix + key)
	fresh := false

	err := c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get replay entry: %w", err)
		}
		fresh = true
		return txn.SetEntry(badger.NewEntry(dbKey, []byte{1}).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fresh, nil
}

// CleanupExpired is a no-op: badger drops expired entries itself.
func (c *BadgerReplayCache) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}
