// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package stream owns the realtime duplex connection to the tracking server.
//
// It bundles four cooperating pieces:
//
//   - the transport connector (gorilla/websocket dial, send, close) with a
//     connection-state machine
//   - the reconnection policy: exponential backoff after abnormal closures,
//     bounded attempts, terminal failure surfaced on the event bus
//   - the liveness heartbeat, one ping frame per interval while connected
//   - the classifier, decoding each inbound JSON frame into the typed message
//     union and publishing it on the event bus
//
// The package publishes, it never subscribes: consumers observe the stream
// exclusively through bus messages and the State accessor.
package stream
