/*
 * Arbitrage Detection Platform
 * Copyright (C) 2025  sonicx222
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package utils

import (
	"context"
	"sync"
)

// flight is one in-progress call whose outcome is shared by every waiter.
type flight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// FlightGroup coalesces concurrent calls by key: the first caller for a key
// runs fn, later callers that arrive before completion wait for and share the
// first caller's result. The entry is removed on every exit path, so calls
// after completion are independent.
type FlightGroup[K comparable, V any] struct {
	mu      sync.Mutex
	flights map[K]*flight[V]
}

// NewFlightGroup returns an empty FlightGroup.
func NewFlightGroup[K comparable, V any]() *FlightGroup[K, V] {
	return &FlightGroup[K, V]{flights: make(map[K]*flight[V])}
}

// Do runs fn under key, or joins the flight already running under that key.
// The returned bool reports whether this caller executed fn itself. Joining
// callers honor ctx cancellation without cancelling the underlying flight.
func (g *FlightGroup[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, bool, error) {
	g.mu.Lock()
	if fl, ok := g.flights[key]; ok {
		g.mu.Unlock()
		select {
		case <-fl.done:
			return fl.val, false, fl.err
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
	}
	fl := &flight[V]{done: make(chan struct{})}
	g.flights[key] = fl
	g.mu.Unlock()

	// The entry must be cleared on every exit path, panics included,
	// or later callers would join a flight that never completes.
	defer func() {
		g.mu.Lock()
		delete(g.flights, key)
		g.mu.Unlock()
		close(fl.done)
	}()

	fl.val, fl.err = fn()
	return fl.val, true, fl.err
}

// InFlight reports whether a call is currently running under key.
func (g *FlightGroup[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.flights[key]
	return ok
}
