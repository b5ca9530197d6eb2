// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

// Package bus implements the typed publish/subscribe registry that fans
// decoded stream messages out to consumers.
//
// Delivery is synchronous, in registration order, at-most-once and without
// replay: a subscriber registered after a publish never sees that message.
// Subscribers are isolated from each other; a panicking callback is recovered
// and logged without affecting the remaining callbacks.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
	"github.com/iammayankpratapsingh/gps-sub001/internal/metrics"
	"github.com/iammayankpratapsingh/gps-sub001/internal/models"
)

// Handler receives every payload published under the subscribed kind.
type Handler func(payload any)

// UnsubscribeFunc removes exactly the registration that produced it.
// Idempotent: calls after the first are no-ops.
type UnsubscribeFunc func()

// subscription pairs a generated id with its callback. Removal is by id, so
// registering the same function twice yields two independent subscriptions.
type subscription struct {
	id string
	fn Handler
}

// Bus is a synchronous publish/subscribe registry keyed by message kind.
// The zero value is not usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[models.Kind][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[models.Kind][]subscription)}
}

// Subscribe registers fn under kind and returns its unsubscribe function.
func (b *Bus) Subscribe(kind models.Kind, fn Handler) UnsubscribeFunc {
	if fn == nil {
		return func() {}
	}

	id := uuid.NewString()

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.unsubscribe(kind, id)
	}
}

// unsubscribe removes the registration with the given id, if still present.
func (b *Bus) unsubscribe(kind models.Kind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every callback currently registered for kind, in
// registration order. Callbacks run outside the bus lock, so subscribers may
// subscribe or unsubscribe from within a callback without deadlocking;
// such changes take effect for the next publish.
func (b *Bus) Publish(kind models.Kind, payload any) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs[kind]))
	copy(subs, b.subs[kind])
	b.mu.Unlock()

	metrics.BusPublishes.WithLabelValues(string(kind)).Inc()

	for _, s := range subs {
		invoke(kind, s, payload)
	}
}

// invoke runs one callback with panic isolation.
func invoke(kind models.Kind, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			logging.Error().
				Str("kind", string(kind)).
				Str("subscription", s.id).
				Interface("panic", r).
				Msg("subscriber panicked during publish")
		}
	}()
	s.fn(payload)
}

// SubscriberCount returns the number of registrations for kind.
func (b *Bus) SubscriberCount(kind models.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}
