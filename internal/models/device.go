// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package models

import "time"

// Device status values as reported by the tracking server.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// Position is one GPS fix for a device, from either the REST baseline poll or
// a live push over the websocket stream.
type Position struct {
	DeviceID  string    `json:"deviceId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Course    float64   `json:"course"`
	Altitude  float64   `json:"altitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`

	// BatteryLevel is nil when the device did not report battery state.
	BatteryLevel *int   `json:"batteryLevel,omitempty"`
	Address      string `json:"address,omitempty"`
}

// Device is the reconciled view of one tracked unit. Position holds the most
// recently known fix from either data source.
type Device struct {
	ID         string    `json:"id"`
	UniqueID   string    `json:"uniqueId"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"lastUpdate"`
	Position   *Position `json:"position,omitempty"`
}
