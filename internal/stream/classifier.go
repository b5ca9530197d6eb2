// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package stream

import (
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// decodeFrame parses one raw text frame into a typed bus message.
//
// Malformed JSON and unrecognized `type` values are dropped with a log, never
// surfaced as errors: the server is free to add message kinds without
// breaking deployed clients. The boolean result reports whether a message was
// produced.
func decodeFrame(data []byte) (models.Kind, any, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		logging.Debug().Err(err).Msg("dropped malformed frame")
		return "", nil, false
	}

	kind, _ := raw["type"].(string)
	switch kind {
	case "position":
		return models.KindPosition, decodePosition(raw), true
	case "device":
		return models.KindDevice, decodeStatus(raw), true
	case "event":
		return models.KindEvent, decodeEvent(raw), true
	case "pong":
		return models.KindPong, models.Heartbeat{}, true
	default:
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		logging.Debug().Str("type", kind).Msg("dropped frame with unrecognized type")
		return "", nil, false
	}
}

var positionFields = []string{
	"type", "deviceId", "latitude", "longitude", "speed", "course",
	"altitude", "accuracy", "timestamp", "batteryLevel", "address",
}

func decodePosition(raw map[string]any) models.PositionUpdate {
	return models.PositionUpdate{
		Position: models.Position{
			DeviceID:     stringField(raw, "deviceId"),
			Latitude:     numField(raw, "latitude"),
			Longitude:    numField(raw, "longitude"),
			Speed:        numField(raw, "speed"),
			Course:       numField(raw, "course"),
			Altitude:     numField(raw, "altitude"),
			Accuracy:     numField(raw, "accuracy"),
			Timestamp:    timeField(raw, "timestamp"),
			BatteryLevel: intPtrField(raw, "batteryLevel"),
			Address:      stringField(raw, "address"),
		},
		Extra: extraFields(raw, positionFields...),
	}
}

var statusFields = []string{"type", "deviceId", "status", "lastUpdate", "batteryLevel"}

func decodeStatus(raw map[string]any) models.DeviceStatusUpdate {
	return models.DeviceStatusUpdate{
		DeviceID:     stringField(raw, "deviceId"),
		Status:       stringField(raw, "status"),
		LastUpdate:   timeField(raw, "lastUpdate"),
		BatteryLevel: intPtrField(raw, "batteryLevel"),
		Extra:        extraFields(raw, statusFields...),
	}
}

func decodeEvent(raw map[string]any) models.GenericEvent {
	return models.GenericEvent{
		DeviceID:  stringField(raw, "deviceId"),
		EventType: stringField(raw, "eventType"),
		Timestamp: timeField(raw, "timestamp"),
		Data:      raw["data"],
	}
}

// stringField reads a string, stringifying numeric wire values. Device ids in
// particular arrive as both `"42"` and `42` depending on server version.
func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// numField reads a float, defaulting to 0 when the field is absent or not
// numeric.
func numField(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// timeField parses an RFC 3339 timestamp, falling back to the current time so
// every emitted message carries a usable point-in-time.
func timeField(raw map[string]any, key string) time.Time {
	if s, ok := raw[key].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func intPtrField(raw map[string]any, key string) *int {
	switch v := raw[key].(type) {
	case float64:
		n := int(v)
		return &n
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil
		}
		n := int(i)
		return &n
	default:
		return nil
	}
}

// extraFields returns the wire fields not covered by the typed message, or
// nil when there are none.
func extraFields(raw map[string]any, known ...string) map[string]any {
	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		extra[k] = v
	}
	for _, k := range known {
		delete(extra, k)
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}
