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

const attemptKeyPrefix = "attempt:"

// maxTxnRetries bounds optimistic retries on badger.ErrConflict.
const maxTxnRetries = 16

// BadgerAttemptStore implements AttemptStore on BadgerDB. Records carry a TTL so
// abandoned keys disappear without a cleanup pass.
type BadgerAttemptStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerAttemptStore creates a store whose entries expire after ttl
// (typically the attempt window plus the maximum lockout).
func NewBadgerAttemptStore(db *badger.DB, ttl time.Duration) *BadgerAttemptStore {
	return &BadgerAttemptStore{db: db, ttl: ttl}
}

// Get retrieves the record for key.
func (s *BadgerAttemptStore) Get(ctx context.Context, key string) (*AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec AttemptRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(attemptKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("get attempt record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update performs the read-modify-write inside one badger transaction and
// retries when a concurrent writer touched the same key.
func (s *BadgerAttemptStore) Update(ctx context.Context, key string, fn func(rec *AttemptRecord) error) (*AttemptRecord, error) {
	var out *AttemptRecord

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			dbKey := []byte(attemptKeyPrefix + key)
			rec := &AttemptRecord{Key: key}

			item, err := txn.Get(dbKey)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return fmt.Errorf("get attempt record: %w", err)
			default:
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, rec)
				}); err != nil {
					return fmt.Errorf("unmarshal attempt record: %w", err)
				}
			}

			if err := fn(rec); err != nil {
				return err
			}
			rec.Key = key

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal attempt record: %w", err)
			}
			entry := badger.NewEntry(dbKey, data)
			if s.ttl > 0 {
				entry = entry.WithTTL(s.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return fmt.Errorf("set attempt record: %w", err)
			}
			out = rec
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update attempt record %q: %w", key, badger.ErrConflict)
}

// Delete removes the record for key.
func (s *BadgerAttemptStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(attemptKeyPrefix + key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete attempt record: %w", err)
		}
		return nil
	})
}

// CleanupExpired removes stale, unlocked records.
func (s *BadgerAttemptStore) CleanupExpired(ctx context.Context, before time.Time) (int, error) {
	var stale [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(attemptKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec AttemptRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if rec.LastFailure.Before(before) && !rec.IsLocked(before) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan attempt records: %w", err)
	}

	removed := 0
	for _, key := range stale {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
