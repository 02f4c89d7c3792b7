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
	"math/rand"
	"sync"
	"time"
)

// Jitter is a function which applies random jitter to a duration. Used to
// de-synchronize periodic operations across instances. Must be safe for
// concurrent usage.
type Jitter func(time.Duration) time.Duration

// NewHalfJitter returns a new jitter on the range [n/2,n). This is a large
// range and most suitable for jittering things like backoff operations where
// breaking cycles quickly is a priority.
func NewHalfJitter() Jitter {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func(d time.Duration) time.Duration {
		// values less than 1 cause rng to panic, and some logic relies on
		// treating zero duration as the non-blocking case.
		if d < 1 {
			return 0
		}
		mu.Lock()
		defer mu.Unlock()
		return (d / 2) + time.Duration(rng.Int63n(int64(d))/2)
	}
}

// NewRangeJitter returns a jitter which spreads a base duration uniformly
// over [base-width/2, base+width/2), clamped to a floor. Heartbeat loops use
// this so that a fleet sharing one lease key does not renew in lockstep.
func NewRangeJitter(width, floor time.Duration) Jitter {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func(base time.Duration) time.Duration {
		if width < 1 {
			if base < floor {
				return floor
			}
			return base
		}
		mu.Lock()
		offset := time.Duration(rng.Int63n(int64(width)))
		mu.Unlock()
		d := base - width/2 + offset
		if d < floor {
			return floor
		}
		return d
	}
}
