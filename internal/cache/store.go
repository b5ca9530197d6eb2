// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package cache persists the last known fleet snapshot so a restart or an
// unreachable tracking server does not leave the client with an empty map.
// The snapshot is advisory: any record that cannot be decoded is treated as
// a miss, never as an error.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

const snapshotKey = "tracker:snapshot"

// DefaultTTL is how long a stored snapshot is served before a refresh is
// forced.
const DefaultTTL = 5 * time.Minute

// Record is the durable form of one reconciled snapshot. FetchedAtEpochMs
// anchors the freshness check; it is epoch milliseconds so the value stays
// stable across timezone and monotonic-clock differences.
type Record struct {
	Devices          []models.Device   `json:"devices"`
	Positions        []models.Position `json:"positions"`
	FetchedAtEpochMs int64             `json:"fetchedAtEpochMs"`
}

// FetchedAt returns the snapshot timestamp as wall time.
func (r Record) FetchedAt() time.Time {
	return time.UnixMilli(r.FetchedAtEpochMs).UTC()
}

// Store is a BadgerDB-backed snapshot store. The whole snapshot lives under
// a single key and is replaced in one transaction, so readers never observe
// a half-written snapshot.
type Store struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a snapshot store on top of an open BadgerDB handle.
// A non-positive ttl falls back to DefaultTTL.
func NewStore(db *badger.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Save replaces the stored snapshot, stamping it with the current time.
func (s *Store) Save(devices []models.Device, positions []models.Position) error {
	record := Record{
		Devices:          devices,
		Positions:        positions,
		FetchedAtEpochMs: s.now().UnixMilli(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. The second return is false when no
// snapshot exists or the stored value does not decode; a corrupt record is
// logged and discarded rather than surfaced.
func (s *Store) Load() (Record, bool) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false
	}
	if err != nil {
		logging.Warn().Err(err).Msg("snapshot read failed, treating as miss")
		return Record{}, false
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		logging.Warn().Err(err).Msg("snapshot corrupt, treating as miss")
		return Record{}, false
	}
	return record, true
}

// Fresh reports whether the record is still within the store's TTL.
func (s *Store) Fresh(record Record) bool {
	age := s.now().Sub(record.FetchedAt())
	return age < s.ttl
}

// Clear removes the stored snapshot. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(snapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
