// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package twofactor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	deviceKeyPrefix = "twofactor_device:"
	maxTxnRetries   = 16
)

// BadgerDeviceStore persists devices in BadgerDB.
type BadgerDeviceStore struct {
	db *badger.DB
}

// NewBadgerDeviceStore creates a BadgerDB-backed device store.
func NewBadgerDeviceStore(db *badger.DB) *BadgerDeviceStore {
	return &BadgerDeviceStore{db: db}
}

func deviceKey(identityID int64) []byte {
	return []byte(deviceKeyPrefix + strconv.FormatInt(identityID, 10))
}

func readDevice(txn *badger.Txn, identityID int64) (*Device, error) {
	item, err := txn.Get(deviceKey(identityID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	var d Device
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &d)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal device: %w", err)
	}
	return &d, nil
}

func (s *BadgerDeviceStore) Get(ctx context.Context, identityID int64) (*Device, error) {
	var d *Device
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		d, err = readDevice(txn, identityID)
		return err
	})
	return d, err
}

func (s *BadgerDeviceStore) Save(ctx context.Context, device *Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deviceKey(device.IdentityID), data)
	})
}

func (s *BadgerDeviceStore) Delete(ctx context.Context, identityID int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(deviceKey(identityID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete device: %w", err)
		}
		return nil
	})
}

// ConsumeBackupCode reads, marks and writes the device in one transaction.
// A concurrent consumer of the same device conflicts and retries, so one code
// is accepted at most once.
func (s *BadgerDeviceStore) ConsumeBackupCode(ctx context.Context, identityID int64, hash string, now time.Time) (bool, error) {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		consumed := false
		err := s.db.Update(func(txn *badger.Txn) error {
			consumed = false
			d, err := readDevice(txn, identityID)
			if errors.Is(err, ErrDeviceNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !d.Confirmed || !d.consume(hash, now) {
				return nil
			}
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal device: %w", err)
			}
			consumed = true
			return txn.Set(deviceKey(identityID), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, err
		}
		return consumed, nil
	}
	return false, fmt.Errorf("consume backup code: %w", badger.ErrConflict)
}
