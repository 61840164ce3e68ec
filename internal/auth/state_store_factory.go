// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StateStoreType selects the backend for attempts, sessions and challenges.
type StateStoreType string

const (
	// StateStoreMemory uses in-memory storage (not persistent, single node).
	StateStoreMemory StateStoreType = "memory"

	// StateStoreBadger uses BadgerDB for persistent storage.
	StateStoreBadger StateStoreType = "badger"
)

// StateStoreFactory opens one backend and hands out the stores built on it.
type StateStoreFactory struct {
	db *badger.DB
}

// NewStateStoreFactory opens a BadgerDB at path when storeType is badger. An
// empty path with badger opens an in-memory badger instance.
func NewStateStoreFactory(storeType StateStoreType, path string) (*StateStoreFactory, error) {
	factory := &StateStoreFactory{}

	switch storeType {
	case StateStoreBadger:
		opts := badger.DefaultOptions(path).WithLogger(nil)
		if path == "" {
			opts = opts.WithInMemory(true)
		}
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open badger db for state: %w", err)
		}
		factory.db = db
	case StateStoreMemory, "":
	default:
		return nil, fmt.Errorf("unknown state store %q", storeType)
	}

	return factory, nil
}

// SessionStore returns the session store for the configured backend.
func (f *StateStoreFactory) SessionStore() SessionStore {
	if f.db != nil {
		return NewBadgerSessionStore(f.db)
	}
	return NewMemorySessionStore()
}

// AttemptStore returns the attempt store; ttl bounds badger record lifetime.
func (f *StateStoreFactory) AttemptStore(ttl time.Duration) AttemptStore {
	if f.db != nil {
		return NewBadgerAttemptStore(f.db, ttl)
	}
	return NewMemoryAttemptStore()
}

// ChallengeStore returns the login challenge store.
func (f *StateStoreFactory) ChallengeStore() ChallengeStore {
	if f.db != nil {
		return NewBadgerChallengeStore(f.db)
	}
	return NewMemoryChallengeStore()
}

// DB returns the underlying BadgerDB, or nil for the memory backend.
func (f *StateStoreFactory) DB() *badger.DB {
	return f.db
}

// Close closes the underlying BadgerDB if one was opened.
func (f *StateStoreFactory) Close() error {
	if f.db != nil {
		return f.db.Close()
	}
	return nil
}
