// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package models

import "time"

// Kind discriminates decoded stream messages on the event bus.
type Kind string

// Wire message kinds, matching the server's `type` discriminator field.
const (
	KindPosition Kind = "position"
	KindDevice   Kind = "device"
	KindEvent    Kind = "event"
	KindPong     Kind = "pong"
)

// Connection lifecycle kinds, emitted by the stream client rather than the
// server.
const (
	KindConnected           Kind = "connected"
	KindDisconnected        Kind = "disconnected"
	KindStreamError         Kind = "error"
	KindReconnectsExhausted Kind = "maxReconnectAttemptsReached"
)

// DeviceScoped is implemented by messages that carry a device id, enabling
// subscriber-side per-device filtering.
type DeviceScoped interface {
	Device() string
}

// PositionUpdate is a live GPS fix pushed by the server.
//
// Extra holds wire fields the client does not model, preserved so that
// server-side additions survive the decode without widening this type.
type PositionUpdate struct {
	Position
	Extra map[string]any `json:"-"`
}

// Device returns the id of the device the fix belongs to.
func (p PositionUpdate) Device() string { return p.DeviceID }

// DeviceStatusUpdate reports an online/offline transition for a device.
type DeviceStatusUpdate struct {
	DeviceID     string    `json:"deviceId"`
	Status       string    `json:"status"`
	LastUpdate   time.Time `json:"lastUpdate"`
	BatteryLevel *int      `json:"batteryLevel,omitempty"`

	Extra map[string]any `json:"-"`
}

// Device returns the id of the device the status belongs to.
func (d DeviceStatusUpdate) Device() string { return d.DeviceID }

// GenericEvent is any other server-originated event (geofence, ignition,
// alarm, ...). Data carries the untyped event payload.
type GenericEvent struct {
	DeviceID  string    `json:"deviceId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Device returns the id of the device the event belongs to.
func (e GenericEvent) Device() string { return e.DeviceID }

// Heartbeat is the server's reply to a client ping frame.
type Heartbeat struct{}

// Connected is published when the transport reaches the open state.
type Connected struct {
	At time.Time `json:"at"`
}

// Disconnected is published when the transport closes, carrying the close
// code and reason from the wire when known.
type Disconnected struct {
	Code   int       `json:"code"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// StreamError is published on transport-level failures. Closure handling owns
// reconnection; this message is informational.
type StreamError struct {
	Err error     `json:"-"`
	At  time.Time `json:"at"`
}

// ReconnectsExhausted is published once the reconnection policy gives up.
// The connection stays failed until an explicit Connect call.
type ReconnectsExhausted struct {
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}
