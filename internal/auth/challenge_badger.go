// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const challengeKeyPrefix = "challenge:"

// BadgerChallengeStore stores login challenges with a TTL matching their expiry.
type BadgerChallengeStore struct {
	db *badger.DB
}

// NewBadgerChallengeStore creates a BadgerDB-backed challenge store.
func NewBadgerChallengeStore(db *badger.DB) *BadgerChallengeStore {
	return &BadgerChallengeStore{db: db}
}

func (s *BadgerChallengeStore) Create(ctx context.Context, c *LoginChallenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(challengeKeyPrefix+c.ID), data)
		if ttl := time.Until(c.ExpiresAt); ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerChallengeStore) Get(ctx context.Context, id string) (*LoginChallenge, error) {
	var c LoginChallenge
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(challengeKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrChallengeNotFound
		}
		if err != nil {
			return fmt.Errorf("get challenge: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Consume deletes the challenge in a transaction that first reads it, so two
// concurrent consumers conflict and only one commit succeeds.
func (s *BadgerChallengeStore) Consume(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(challengeKeyPrefix + id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrChallengeNotFound
			}
			return fmt.Errorf("get challenge: %w", err)
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrChallengeNotFound
	}
	return err
}

func (s *BadgerChallengeStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(challengeKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c LoginChallenge
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				continue
			}
			if c.IsExpired(now) {
				expired = append(expired, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan challenges: %w", err)
	}

	n := 0
	for _, key := range expired {
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err == nil {
			n++
		}
	}
	return n, nil
}
