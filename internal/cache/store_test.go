// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package cache

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, DefaultTTL)
}

func TestLoadMissesOnEmptyStore(t *testing.T) {
	store := newTestStore(t)

	_, ok := store.Load()
	assert.False(t, ok)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	devices := []models.Device{
		{ID: "12", Name: "Truck 12", Status: "online"},
		{ID: "31", Name: "Van 31", Status: "offline"},
	}
	positions := []models.Position{
		{DeviceID: "12", Latitude: 28.61, Longitude: 77.2},
	}
	require.NoError(t, store.Save(devices, positions))

	record, ok := store.Load()
	require.True(t, ok)
	require.Len(t, record.Devices, 2)
	assert.Equal(t, "Truck 12", record.Devices[0].Name)
	require.Len(t, record.Positions, 1)
	assert.Equal(t, "12", record.Positions[0].DeviceID)
	assert.InDelta(t, time.Now().UnixMilli(), record.FetchedAtEpochMs, 2000)
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]models.Device{{ID: "1"}}, nil))
	require.NoError(t, store.Save([]models.Device{{ID: "2"}, {ID: "3"}}, nil))

	record, ok := store.Load()
	require.True(t, ok)
	require.Len(t, record.Devices, 2)
	assert.Equal(t, "2", record.Devices[0].ID)
}

func TestCorruptSnapshotIsAMiss(t *testing.T) {
	store := newTestStore(t)

	err := store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), []byte("{not json"))
	})
	require.NoError(t, err)

	_, ok := store.Load()
	assert.False(t, ok)
}

func TestFreshnessBoundary(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	require.NoError(t, store.Save(nil, nil))
	record, ok := store.Load()
	require.True(t, ok)

	store.now = func() time.Time { return base.Add(4*time.Minute + 59*time.Second) }
	assert.True(t, store.Fresh(record), "under the TTL should be fresh")

	store.now = func() time.Time { return base.Add(5 * time.Minute) }
	assert.False(t, store.Fresh(record), "at the TTL should be stale")
}

func TestClearRemovesSnapshot(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save([]models.Device{{ID: "1"}}, nil))
	require.NoError(t, store.Clear())

	_, ok := store.Load()
	assert.False(t, ok)

	// Clearing again is harmless.
	require.NoError(t, store.Clear())
}
