// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package tracker reconciles two views of the fleet: baseline snapshots
// fetched from the tracking server's REST API and live pushes arriving over
// the stream. Live data always wins; a snapshot only fills in what the
// stream has not already reported.
package tracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iammayankpratapsingh/gps-sub001/internal/bus"
	"github.com/iammayankpratapsingh/gps-sub001/internal/cache"
	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// Snapshooter fetches the baseline fleet state. *rest.Client and
// *rest.BreakerClient both satisfy it.
type Snapshooter interface {
	Devices(ctx context.Context) ([]models.Device, error)
	Positions(ctx context.Context) ([]models.Position, error)
}

// Tracker holds the reconciled device set. All mutation funnels through its
// mutex; bus callbacks and refreshes may run on different goroutines.
type Tracker struct {
	api   Snapshooter
	store *cache.Store
	bus   *bus.Bus

	mu          sync.Mutex
	devices     map[string]*models.Device
	order       []string
	lastFetch   time.Time
	ttl         time.Duration
	liveEnabled bool

	// deviceSubs holds the per-device live subscriptions, keyed by device
	// id so a refresh can diff them against the new device set.
	deviceSubs map[string][]bus.UnsubscribeFunc
	catchAll   bus.UnsubscribeFunc
	connSub    bus.UnsubscribeFunc

	now func() time.Time
}

// New creates a tracker. It registers for stream connect notifications so
// live tracking switches on automatically once a connection is up and
// devices are known.
func New(api Snapshooter, store *cache.Store, b *bus.Bus, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	t := &Tracker{
		api:        api,
		store:      store,
		bus:        b,
		devices:    make(map[string]*models.Device),
		deviceSubs: make(map[string][]bus.UnsubscribeFunc),
		ttl:        ttl,
		now:        time.Now,
	}
	t.connSub = bus.On(b, models.KindConnected, func(models.Connected) {
		t.mu.Lock()
		enable := len(t.devices) > 0 && !t.liveEnabled
		t.mu.Unlock()
		if enable {
			logging.Info().Msg("stream connected, enabling live tracking")
			t.EnableLiveTracking()
		}
	})
	return t
}

// LoadDevices returns the current device set, refreshing it when stale.
// Freshness is checked against the in-memory fetch time first, then the
// durable snapshot; force skips both. The remote fetch is all or nothing:
// if either the device list or the position list fails, the in-memory state
// is left untouched.
func (t *Tracker) LoadDevices(ctx context.Context, force bool) ([]models.Device, error) {
	if !force {
		t.mu.Lock()
		if !t.lastFetch.IsZero() && t.now().Sub(t.lastFetch) < t.ttl {
			devices := t.snapshotLocked()
			t.mu.Unlock()
			metrics.RefreshTotal.WithLabelValues("cached").Inc()
			return devices, nil
		}
		t.mu.Unlock()

		if record, ok := t.store.Load(); ok && t.store.Fresh(record) {
			metrics.CacheHits.Inc()
			metrics.RefreshTotal.WithLabelValues("cached").Inc()
			return t.adopt(record.Devices, record.Positions, record.FetchedAt()), nil
		}
		metrics.CacheMisses.Inc()
	}

	start := t.now()
	devices, positions, err := t.fetch(ctx)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	metrics.RefreshDuration.Observe(t.now().Sub(start).Seconds())

	if err := t.store.Save(devices, positions); err != nil {
		logging.Warn().Err(err).Msg("snapshot persist failed")
	}
	return t.adopt(devices, positions, t.now()), nil
}

// RefreshDevices is LoadDevices with the cache bypassed.
func (t *Tracker) RefreshDevices(ctx context.Context) ([]models.Device, error) {
	return t.LoadDevices(ctx, true)
}

// fetch pulls devices and positions concurrently. Either failure cancels
// the other request and fails the whole fetch.
func (t *Tracker) fetch(ctx context.Context) ([]models.Device, []models.Position, error) {
	var (
		devices   []models.Device
		positions []models.Position
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		devices, err = t.api.Devices(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = t.api.Positions(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return devices, positions, nil
}

// adopt replaces the tracked set with a fetched or cached snapshot and
// re-derives live subscriptions when tracking is on.
func (t *Tracker) adopt(devices []models.Device, positions []models.Position, fetchedAt time.Time) []models.Device {
	latest := make(map[string]*models.Position, len(positions))
	for i := range positions {
		p := positions[i]
		latest[p.DeviceID] = &p
	}

	t.mu.Lock()
	t.devices = make(map[string]*models.Device, len(devices))
	t.order = t.order[:0]
	for i := range devices {
		d := devices[i]
		if p, ok := latest[d.ID]; ok {
			d.Position = p
		}
		t.devices[d.ID] = &d
		t.order = append(t.order, d.ID)
	}
	t.lastFetch = fetchedAt
	metrics.TrackedDevices.Set(float64(len(t.devices)))

	if t.liveEnabled {
		t.resubscribeLocked()
	}
	result := t.snapshotLocked()
	t.mu.Unlock()

	logging.Debug().Int("devices", len(result)).Msg("device set adopted")
	return result
}

// EnableLiveTracking subscribes to live pushes for every currently known
// device plus a catch-all that admits positions from devices the baseline
// has never seen. Enabling twice is a no-op.
func (t *Tracker) EnableLiveTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.liveEnabled {
		return
	}
	t.liveEnabled = true
	t.resubscribeLocked()
	t.catchAll = bus.On(t.bus, models.KindPosition, t.handleUnknownPosition)
}

// DisableLiveTracking tears down all live subscriptions. Disabling when
// already off is a no-op.
func (t *Tracker) DisableLiveTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.liveEnabled {
		return
	}
	t.liveEnabled = false
	t.unsubscribeAllLocked()
}

// LiveTrackingEnabled reports whether live pushes are being applied.
func (t *Tracker) LiveTrackingEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveEnabled
}

// resubscribeLocked rebuilds the per-device subscriptions to match the
// current device set.
func (t *Tracker) resubscribeLocked() {
	for _, unsubs := range t.deviceSubs {
		for _, unsub := range unsubs {
			unsub()
		}
	}
	t.deviceSubs = make(map[string][]bus.UnsubscribeFunc, len(t.devices))
	for id := range t.devices {
		t.deviceSubs[id] = []bus.UnsubscribeFunc{
			bus.OnDevice(t.bus, models.KindPosition, id, t.handlePositionPush),
			bus.OnDevice(t.bus, models.KindDevice, id, t.handleStatusPush),
		}
	}
}

func (t *Tracker) unsubscribeAllLocked() {
	for _, unsubs := range t.deviceSubs {
		for _, unsub := range unsubs {
			unsub()
		}
	}
	t.deviceSubs = make(map[string][]bus.UnsubscribeFunc)
	if t.catchAll != nil {
		t.catchAll()
		t.catchAll = nil
	}
}

// handlePositionPush applies a live position to a known device. Live data
// always wins, even over a snapshot fetched moments later with an older fix.
func (t *Tracker) handlePositionPush(update models.PositionUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	device, ok := t.devices[update.DeviceID]
	if !ok {
		return // the catch-all handles unknown devices
	}
	pos := update.Position
	device.Position = &pos
	if update.Timestamp.After(device.LastUpdate) {
		device.LastUpdate = update.Timestamp
	}
	metrics.LivePushesApplied.WithLabelValues("position").Inc()
}

// handleUnknownPosition creates a stub entry for a device the baseline has
// not reported yet, so its track is not lost while waiting for the next
// refresh to fill in the name and metadata.
func (t *Tracker) handleUnknownPosition(update models.PositionUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.devices[update.DeviceID]; ok {
		return
	}
	pos := update.Position
	t.devices[update.DeviceID] = &models.Device{
		ID:         update.DeviceID,
		Name:       update.DeviceID,
		Status:     models.StatusUnknown,
		LastUpdate: update.Timestamp,
		Position:   &pos,
	}
	t.order = append(t.order, update.DeviceID)
	metrics.TrackedDevices.Set(float64(len(t.devices)))
	metrics.LivePushesApplied.WithLabelValues("stub").Inc()

	if t.liveEnabled {
		t.deviceSubs[update.DeviceID] = []bus.UnsubscribeFunc{
			bus.OnDevice(t.bus, models.KindPosition, update.DeviceID, t.handlePositionPush),
			bus.OnDevice(t.bus, models.KindDevice, update.DeviceID, t.handleStatusPush),
		}
	}
	logging.Debug().Str("device_id", update.DeviceID).Msg("stub created for unknown device")
}

// handleStatusPush applies a live status change. Status pushes for devices
// the tracker has never seen carry no usable payload and are dropped.
func (t *Tracker) handleStatusPush(update models.DeviceStatusUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	device, ok := t.devices[update.DeviceID]
	if !ok {
		return
	}
	if update.Status != "" {
		device.Status = update.Status
	}
	if update.LastUpdate.After(device.LastUpdate) {
		device.LastUpdate = update.LastUpdate
	}
	if update.BatteryLevel != nil && device.Position != nil {
		device.Position.BatteryLevel = update.BatteryLevel
	}
	metrics.LivePushesApplied.WithLabelValues("status").Inc()
}

// Devices returns a copy of the tracked set in the order devices were
// first seen.
func (t *Tracker) Devices() []models.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// FilteredDevices returns devices matching the status filter. "all" (or an
// empty filter) returns everything; matching is case-insensitive.
func (t *Tracker) FilteredDevices(filter string) []models.Device {
	filter = strings.ToLower(strings.TrimSpace(filter))
	all := t.Devices()
	if filter == "" || filter == "all" {
		return all
	}
	matched := make([]models.Device, 0, len(all))
	for _, d := range all {
		if strings.ToLower(d.Status) == filter {
			matched = append(matched, d)
		}
	}
	return matched
}

// Device returns one tracked device by id.
func (t *Tracker) Device(id string) (models.Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	device, ok := t.devices[id]
	if !ok {
		return models.Device{}, false
	}
	return cloneDevice(device), true
}

// DropDevice removes a device and its live subscriptions.
func (t *Tracker) DropDevice(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.devices[id]; !ok {
		return
	}
	delete(t.devices, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	for _, unsub := range t.deviceSubs[id] {
		unsub()
	}
	delete(t.deviceSubs, id)
	metrics.TrackedDevices.Set(float64(len(t.devices)))
}

// ClearCache drops the durable snapshot and forgets the in-memory fetch
// time so the next LoadDevices goes to the server.
func (t *Tracker) ClearCache() error {
	t.mu.Lock()
	t.lastFetch = time.Time{}
	t.mu.Unlock()
	return t.store.Clear()
}

// Close detaches the tracker from the bus.
func (t *Tracker) Close() {
	t.DisableLiveTracking()
	if t.connSub != nil {
		t.connSub()
	}
}

func (t *Tracker) snapshotLocked() []models.Device {
	out := make([]models.Device, 0, len(t.order))
	for _, id := range t.order {
		if device, ok := t.devices[id]; ok {
			out = append(out, cloneDevice(device))
		}
	}
	return out
}

func cloneDevice(d *models.Device) models.Device {
	clone := *d
	if d.Position != nil {
		pos := *d.Position
		clone.Position = &pos
	}
	return clone
}
