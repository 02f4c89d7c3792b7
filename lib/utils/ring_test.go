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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingOverwritesOldest(t *testing.T) {
	r, err := NewRing[int](3)
	require.NoError(t, err)
	require.Equal(t, 3, r.Cap())
	require.Equal(t, 0, r.Len())

	r.Add(1)
	r.Add(2)
	require.Equal(t, []int{1, 2}, r.Data())

	r.Add(3)
	r.Add(4)
	r.Add(5)
	require.Equal(t, 3, r.Len())
	require.Equal(t, []int{3, 4, 5}, r.Data())

	last, ok := r.Last()
	require.True(t, ok)
	require.Equal(t, 5, last)
}

func TestRingEmpty(t *testing.T) {
	r, err := NewRing[string](2)
	require.NoError(t, err)
	require.Nil(t, r.Data())
	_, ok := r.Last()
	require.False(t, ok)
}

func TestRingRejectsBadCapacity(t *testing.T) {
	_, err := NewRing[int](0)
	require.Error(t, err)
	_, err = NewRing[int](-1)
	require.Error(t, err)
}

func TestRangeJitterBounds(t *testing.T) {
	jitter := NewRangeJitter(4*time.Second, time.Second)
	base := 10 * time.Second
	for i := 0; i < 1000; i++ {
		d := jitter(base)
		require.GreaterOrEqual(t, d, 8*time.Second)
		require.Less(t, d, 12*time.Second)
	}
}

func TestRangeJitterFloor(t *testing.T) {
	jitter := NewRangeJitter(4*time.Second, time.Second)
	for i := 0; i < 1000; i++ {
		require.GreaterOrEqual(t, jitter(time.Second), time.Second)
	}
}

func TestHalfJitterBounds(t *testing.T) {
	jitter := NewHalfJitter()
	base := 10 * time.Second
	for i := 0; i < 1000; i++ {
		d := jitter(base)
		require.GreaterOrEqual(t, d, base/2)
		require.Less(t, d, base)
	}
	require.Equal(t, time.Duration(0), jitter(0))
}
