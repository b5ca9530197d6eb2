// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package stream

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// Connection-state machine events. Only the client and its reconnection
// policy fire these; consumers read the resulting state.
const (
	eventDial   = "dial"    // start a connection attempt
	eventOpen   = "open"    // transport reached the open state
	eventFail   = "fail"    // connection attempt failed
	eventDrop   = "drop"    // server-initiated or abnormal closure
	eventClose  = "close"   // deliberate client-initiated close begins
	eventClosed = "closed"  // deliberate close finished
	eventGiveUp = "give_up" // reconnection policy exhausted its attempts
)

// newConnectionMachine builds the transport state machine.
//
//	disconnected/closed/error/failed --dial--> connecting
//	connecting --open--> connected    connecting --fail--> error
//	connected  --drop--> disconnected
//	connected/connecting --close--> closing --closed--> closed
//	disconnected/error --give_up--> failed
func newConnectionMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(models.StateDisconnected),
		fsm.Events{
			{
				Name: eventDial,
				Src: []string{
					string(models.StateDisconnected),
					string(models.StateClosed),
					string(models.StateError),
					string(models.StateFailed),
				},
				Dst: string(models.StateConnecting),
			},
			{Name: eventOpen, Src: []string{string(models.StateConnecting)}, Dst: string(models.StateConnected)},
			{Name: eventFail, Src: []string{string(models.StateConnecting)}, Dst: string(models.StateError)},
			{Name: eventDrop, Src: []string{string(models.StateConnected)}, Dst: string(models.StateDisconnected)},
			{
				Name: eventClose,
				Src: []string{
					string(models.StateConnected),
					string(models.StateConnecting),
				},
				Dst: string(models.StateClosing),
			},
			{Name: eventClosed, Src: []string{string(models.StateClosing)}, Dst: string(models.StateClosed)},
			{
				Name: eventGiveUp,
				Src: []string{
					string(models.StateDisconnected),
					string(models.StateError),
				},
				Dst: string(models.StateFailed),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.SetConnectionState(e.Dst)
			},
		},
	)
}
