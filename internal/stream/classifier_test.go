// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

func TestDecodeFrameDropsMalformedJSON(t *testing.T) {
	_, _, ok := decodeFrame([]byte(`{not json`))
	assert.False(t, ok)
}

func TestDecodeFrameDropsUnknownType(t *testing.T) {
	_, _, ok := decodeFrame([]byte(`{"type":"firmwareUpdate","deviceId":"1"}`))
	assert.False(t, ok, "server-added message kinds must be dropped, not fatal")
}

func TestDecodeFrameDropsMissingType(t *testing.T) {
	_, _, ok := decodeFrame([]byte(`{"deviceId":"1","latitude":1.0}`))
	assert.False(t, ok)
}

func TestDecodePositionFull(t *testing.T) {
	frame := []byte(`{
		"type": "position",
		"deviceId": "42",
		"latitude": 52.52,
		"longitude": 13.405,
		"speed": 12.5,
		"course": 270,
		"altitude": 34,
		"accuracy": 5,
		"timestamp": "2026-08-28T10:00:00Z",
		"batteryLevel": 80,
		"address": "Alexanderplatz"
	}`)

	kind, msg, ok := decodeFrame(frame)
	require.True(t, ok)
	assert.Equal(t, models.KindPosition, kind)

	p, isPos := msg.(models.PositionUpdate)
	require.True(t, isPos)
	assert.Equal(t, "42", p.DeviceID)
	assert.InDelta(t, 52.52, p.Latitude, 1e-9)
	assert.InDelta(t, 13.405, p.Longitude, 1e-9)
	assert.InDelta(t, 12.5, p.Speed, 1e-9)
	assert.InDelta(t, 270.0, p.Course, 1e-9)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), p.Timestamp.UTC())
	require.NotNil(t, p.BatteryLevel)
	assert.Equal(t, 80, *p.BatteryLevel)
	assert.Equal(t, "Alexanderplatz", p.Address)
	assert.Nil(t, p.Extra)
}

func TestDecodePositionNumericDeviceID(t *testing.T) {
	kind, msg, ok := decodeFrame([]byte(`{"type":"position","deviceId":42,"latitude":1,"longitude":2}`))
	require.True(t, ok)
	assert.Equal(t, models.KindPosition, kind)

	p := msg.(models.PositionUpdate)
	assert.Equal(t, "42", p.DeviceID, "numeric wire ids must be stringified")
}

func TestDecodePositionDefaultsAndTimestampFallback(t *testing.T) {
	before := time.Now().UTC()
	_, msg, ok := decodeFrame([]byte(`{"type":"position","deviceId":"9"}`))
	require.True(t, ok)
	after := time.Now().UTC()

	p := msg.(models.PositionUpdate)
	assert.Zero(t, p.Latitude)
	assert.Zero(t, p.Longitude)
	assert.Zero(t, p.Speed)
	assert.Nil(t, p.BatteryLevel)
	assert.False(t, p.Timestamp.Before(before), "omitted timestamp falls back to now")
	assert.False(t, p.Timestamp.After(after))
}

func TestDecodePositionKeepsUnknownFields(t *testing.T) {
	_, msg, ok := decodeFrame([]byte(`{"type":"position","deviceId":"1","latitude":1,"longitude":2,"satellites":9,"hdop":0.8}`))
	require.True(t, ok)

	p := msg.(models.PositionUpdate)
	require.NotNil(t, p.Extra)
	assert.InDelta(t, 9.0, p.Extra["satellites"], 1e-9)
	assert.InDelta(t, 0.8, p.Extra["hdop"], 1e-9)
	assert.NotContains(t, p.Extra, "latitude")
	assert.NotContains(t, p.Extra, "type")
}

func TestDecodeStatus(t *testing.T) {
	kind, msg, ok := decodeFrame([]byte(`{"type":"device","deviceId":7,"status":"offline","lastUpdate":"2026-08-28T09:30:00Z","batteryLevel":15}`))
	require.True(t, ok)
	assert.Equal(t, models.KindDevice, kind)

	s := msg.(models.DeviceStatusUpdate)
	assert.Equal(t, "7", s.DeviceID)
	assert.Equal(t, models.StatusOffline, s.Status)
	assert.Equal(t, time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC), s.LastUpdate.UTC())
	require.NotNil(t, s.BatteryLevel)
	assert.Equal(t, 15, *s.BatteryLevel)
}

func TestDecodeGenericEvent(t *testing.T) {
	kind, msg, ok := decodeFrame([]byte(`{"type":"event","deviceId":"3","eventType":"geofenceEnter","timestamp":"2026-08-28T08:00:00Z","data":{"geofenceId":12}}`))
	require.True(t, ok)
	assert.Equal(t, models.KindEvent, kind)

	e := msg.(models.GenericEvent)
	assert.Equal(t, "3", e.DeviceID)
	assert.Equal(t, "geofenceEnter", e.EventType)
	require.NotNil(t, e.Data)
	data := e.Data.(map[string]any)
	assert.InDelta(t, 12.0, data["geofenceId"], 1e-9)
}

func TestDecodePong(t *testing.T) {
	kind, msg, ok := decodeFrame([]byte(`{"type":"pong"}`))
	require.True(t, ok)
	assert.Equal(t, models.KindPong, kind)
	assert.IsType(t, models.Heartbeat{}, msg)
}

func TestBackoffDelayGrowth(t *testing.T) {
	base := 2000 * time.Millisecond
	expected := []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		32000 * time.Millisecond,
		64000 * time.Millisecond,
		128000 * time.Millisecond,
		256000 * time.Millisecond,
		512000 * time.Millisecond,
		1024000 * time.Millisecond,
	}

	for n := 1; n <= 10; n++ {
		assert.Equal(t, expected[n-1], backoffDelay(base, n), "attempt %d", n)
	}
}
