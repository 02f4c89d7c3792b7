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

package streams

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

// Lease key operations. Renewal and release compare the stored owner id on
// the server; a read-then-write sequence on the client would race other
// instances between the read and the write.

// compareAndExtendScript extends the key's TTL only while the stored value
// matches the caller's.
var compareAndExtendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// compareAndDeleteScript deletes the key only while the stored value matches
// the caller's.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// SetIfAbsent creates key with value and a TTL in seconds only if the key
// does not exist. Returns true when the key was created.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttlSec int64) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, time.Duration(ttlSec)*time.Second).Result()
	if err != nil {
		return false, trace.ConnectionProblem(err, "creating lease %v", key)
	}
	return ok, nil
}

// CompareAndExtend renews the TTL on key only if its current value equals
// expected. Returns false when the key is missing or owned by another value.
func (c *Client) CompareAndExtend(ctx context.Context, key, expected string, ttlSec int64) (bool, error) {
	n, err := compareAndExtendScript.Run(ctx, c.rdb, []string{key}, expected, ttlSec).Int64()
	if err != nil {
		return false, trace.ConnectionProblem(err, "extending lease %v", key)
	}
	return n == 1, nil
}

// CompareAndDelete removes key only if its current value equals expected.
// Returns false when the key is missing or owned by another value.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, c.rdb, []string{key}, expected).Int64()
	if err != nil {
		return false, trace.ConnectionProblem(err, "releasing lease %v", key)
	}
	return n == 1, nil
}

// Get returns the current value of a lease key, or empty string when the
// key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", trace.ConnectionProblem(err, "reading lease %v", key)
	}
	return v, nil
}
