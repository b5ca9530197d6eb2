// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package metrics provides Prometheus instrumentation for the tracking
// client: stream health, decode outcomes, event fan-out, cache efficiency and
// baseline refreshes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracker_connection_state",
			Help: "Current websocket connection state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_reconnect_attempts_total",
			Help: "Total number of scheduled reconnection attempts",
		},
	)

	ReconnectsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_reconnects_exhausted_total",
			Help: "Times the reconnection policy gave up after reaching the attempt bound",
		},
	)

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_heartbeats_sent_total",
			Help: "Keepalive ping frames sent over the stream",
		},
	)

	// Classifier metrics
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_frames_decoded_total",
			Help: "Inbound frames decoded successfully, by message kind",
		},
		[]string{"kind"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_frames_dropped_total",
			Help: "Inbound frames dropped by the classifier",
		},
		[]string{"reason"}, // "malformed", "unknown_type"
	)

	// Event bus metrics
	BusPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_bus_publishes_total",
			Help: "Messages published on the event bus, by kind",
		},
		[]string{"kind"},
	)

	SubscriberPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_bus_subscriber_panics_total",
			Help: "Subscriber callbacks that panicked during publish",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_hits_total",
			Help: "Snapshot loads served from the local cache",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_cache_misses_total",
			Help: "Snapshot loads that missed the local cache (absent, corrupt or stale)",
		},
	)

	// Reconciliation metrics
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_refresh_total",
			Help: "Baseline REST refreshes, by result",
		},
		[]string{"result"}, // "success", "error", "cached"
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_refresh_duration_seconds",
			Help:    "Duration of baseline REST refreshes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LivePushesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_live_pushes_applied_total",
			Help: "Live pushes merged into the device view, by kind",
		},
		[]string{"kind"},
	)

	TrackedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_devices",
			Help: "Devices currently held in the reconciled view",
		},
	)

	// Circuit breaker metrics (REST collaborator)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracker_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// SetConnectionState flips the state gauge so exactly one state reports 1.
func SetConnectionState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "closing", "closed", "error", "failed"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}
