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

package consumer

import (
	"errors"
	"fmt"
)

// Error codes surfaced in DLQ entries. The bracketed code prefixes the
// free-form message so the supervisor can tally failures by class.
const (
	CodeValMissingID    = "VAL_MISSING_ID"
	CodeValBadShape     = "VAL_BAD_SHAPE"
	CodeErrNoChain      = "ERR_NO_CHAIN"
	CodeErrHandlerFatal = "ERR_HANDLER_FATAL"
	CodeUnknown         = "UNKNOWN"
)

// PermanentError marks a handler failure that retrying cannot fix. The
// runtime routes the entry to the DLQ and acknowledges it. Any other error
// is treated as transient: the entry stays in the PEL and is redelivered
// after the idle threshold.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("[%v] %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable handler failure with the given
// code. An empty code maps to ERR_HANDLER_FATAL.
func Permanent(code string, err error) error {
	if code == "" {
		code = CodeErrHandlerFatal
	}
	return &PermanentError{Code: code, Err: err}
}

// Permanentf is Permanent with a formatted message.
func Permanentf(code, format string, args ...any) error {
	return Permanent(code, fmt.Errorf(format, args...))
}

// IsPermanent reports whether err (or anything it wraps) is a permanent
// handler failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// errorCode extracts the DLQ code carried by err, or UNKNOWN.
func errorCode(err error) string {
	var pe *PermanentError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	return CodeUnknown
}
