// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package rest is the client for the tracking server's snapshot API: the
// full device list and the latest known positions. It is the baseline-poll
// side of reconciliation; the live side arrives over the stream.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// Client fetches device and position snapshots over HTTP. Construct with
// NewClient; wrap with NewBreakerClient for production use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a snapshot API client for the given server base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// wireDevice is the server's device shape. Ids arrive numeric.
type wireDevice struct {
	ID         json.Number `json:"id"`
	UniqueID   string      `json:"uniqueId"`
	Name       string      `json:"name"`
	Status     string      `json:"status"`
	LastUpdate time.Time   `json:"lastUpdate"`
}

// wirePosition is the server's position shape. Battery state hides inside
// the attributes bag.
type wirePosition struct {
	DeviceID   json.Number    `json:"deviceId"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Speed      float64        `json:"speed"`
	Course     float64        `json:"course"`
	Altitude   float64        `json:"altitude"`
	Accuracy   float64        `json:"accuracy"`
	FixTime    time.Time      `json:"fixTime"`
	Address    string         `json:"address"`
	Attributes map[string]any `json:"attributes"`
}

// Devices fetches the registered device list.
func (c *Client) Devices(ctx context.Context) ([]models.Device, error) {
	var wire []wireDevice
	if err := c.get(ctx, "/api/devices", &wire); err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}

	devices := make([]models.Device, 0, len(wire))
	for _, d := range wire {
		devices = append(devices, models.Device{
			ID:         d.ID.String(),
			UniqueID:   d.UniqueID,
			Name:       d.Name,
			Status:     d.Status,
			LastUpdate: d.LastUpdate,
		})
	}
	return devices, nil
}

// Positions fetches the latest known position per device.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	var wire []wirePosition
	if err := c.get(ctx, "/api/positions", &wire); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	positions := make([]models.Position, 0, len(wire))
	for _, p := range wire {
		positions = append(positions, models.Position{
			DeviceID:     p.DeviceID.String(),
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			Speed:        p.Speed,
			Course:       p.Course,
			Altitude:     p.Altitude,
			Accuracy:     p.Accuracy,
			Timestamp:    p.FixTime,
			BatteryLevel: batteryLevel(p.Attributes),
			Address:      p.Address,
		})
	}
	return positions, nil
}

// batteryLevel extracts the battery attribute when the device reports one.
func batteryLevel(attrs map[string]any) *int {
	if attrs == nil {
		return nil
	}
	if v, ok := attrs["batteryLevel"].(float64); ok {
		n := int(v)
		return &n
	}
	return nil
}

// get performs one authenticated JSON request against the snapshot API.
func (c *Client) get(ctx context.Context, path string, out any) error {
	target, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
