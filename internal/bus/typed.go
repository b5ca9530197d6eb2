// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package bus

import "github.com/iammayankpratapsingh/gps-sub001/internal/models"

// On subscribes fn to kind, delivering only payloads of type T. Payloads of
// another type are discarded at the subscriber boundary, never surfaced as
// errors.
func On[T any](b *Bus, kind models.Kind, fn func(T)) UnsubscribeFunc {
	return b.Subscribe(kind, func(payload any) {
		if msg, ok := payload.(T); ok {
			fn(msg)
		}
	})
}

// OnDevice subscribes fn to kind filtered to one device id. The filter is a
// wrapper over the unfiltered subscription: the bus itself stays unaware of
// device identity.
func OnDevice[T models.DeviceScoped](b *Bus, kind models.Kind, deviceID string, fn func(T)) UnsubscribeFunc {
	return On(b, kind, func(msg T) {
		if msg.Device() == deviceID {
			fn(msg)
		}
	})
}
