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
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/gravitational/trace"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

// Producer publishes JSON payloads to streams, enforcing the per-stream
// MAXLEN cap at produce time and retrying transient transport errors with
// exponential backoff.
type Producer struct {
	client *Client
	maxLen int64
	logger *slog.Logger
}

// NewProducer returns a Producer over client capped at the default
// per-stream MAXLEN.
func NewProducer(client *Client) *Producer {
	return &Producer{
		client: client,
		maxLen: defaults.StreamMaxLen,
		logger: slog.With("component", "stream-producer"),
	}
}

// Publish marshals payload and appends it to stream, returning the assigned
// entry id. Transient append failures are retried up to the platform retry
// policy; the final error surfaces to the caller.
func (p *Producer) Publish(ctx context.Context, stream string, payload any) (string, error) {
	fields, err := events.Marshal(payload)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return p.PublishFields(ctx, stream, fields)
}

// PublishFields appends raw fields to stream under the MAXLEN cap.
func (p *Producer) PublishFields(ctx context.Context, stream string, fields map[string]any) (string, error) {
	policy := backoff.WithContext(newRetryPolicy(), ctx)
	var id string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		id, err = p.client.Append(ctx, stream, fields, p.maxLen)
		if err != nil {
			p.logger.WarnContext(ctx, "append failed, retrying",
				"stream", stream, "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		p.logger.ErrorContext(ctx, "append retries exhausted", "stream", stream, "error", err)
		return "", trace.Wrap(err)
	}
	return id, nil
}

// newRetryPolicy builds the platform transient-I/O backoff: base 1s,
// multiplier 2, cap 60s, at most 10 attempts.
func newRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaults.RetryBaseDelay
	b.Multiplier = 2
	b.MaxInterval = defaults.RetryMaxDelay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, defaults.RetryMaxAttempts-1)
}
