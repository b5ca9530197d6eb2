// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package models

// ConnectionState describes the transport connector's lifecycle. Transitions
// are driven only by the stream client and its reconnection policy.
//
// StateFailed is terminal until an explicit Connect call resets the machine.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"
	StateError        ConnectionState = "error"
	StateFailed       ConnectionState = "failed"
)

// IsConnected reports whether the state allows sending frames.
func (s ConnectionState) IsConnected() bool {
	return s == StateConnected
}
