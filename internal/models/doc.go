// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package models defines the shared domain types for the live-tracking client:
// devices, positions, the decoded message union delivered over the event bus,
// and the transport connection state.
//
// All device identifiers are strings. The tracking server mixes numeric and
// string ids on the wire; every decode path stringifies them before the values
// reach this package.
package models
