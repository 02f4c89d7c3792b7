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

import "github.com/gravitational/trace"

// Ring is a pre-allocated circular buffer of fixed capacity. Writes are O(1)
// and overwrite the oldest element once full; reads materialize an ordered
// view. The hot ingest loops depend on the no-shift property, so an
// append-and-pop slice is not an acceptable substitute.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing returns a ring buffer that holds up to capacity elements.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, trace.BadParameter("ring capacity should be > 0")
	}
	return &Ring[T]{buf: make([]T, capacity)}, nil
}

// Add pushes a new item onto the buffer, overwriting the oldest item when
// the buffer is full.
func (r *Ring[T]) Add(item T) {
	r.buf[r.head] = item
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Data returns the held items oldest first.
func (r *Ring[T]) Data() []T {
	if r.size == 0 {
		return nil
	}
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Last returns the most recently added item, if any.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)], true
}
