// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-master/internal/metrics"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

var (
	// ErrTimeout is returned when no complete response arrived in any attempt.
	ErrTimeout = errors.New("modbus: request timed out")
	// ErrCRCMismatch is returned when the last attempt received a corrupt frame.
	ErrCRCMismatch = rtu.ErrCRCMismatch
	// ErrInvalidQuantity rejects a request before it reaches the bus.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")
)

// TransportError wraps an I/O failure of the underlying transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsDeviceException reports whether err carries a slave exception, and its code.
func IsDeviceException(err error) (byte, bool) {
	var exc *modbus.ExceptionError
	if errors.As(err, &exc) {
		return exc.ExceptionCode, true
	}
	return 0, false
}

func outcome(err error) string {
	var te *TransportError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrCRCMismatch):
		return metrics.OutcomeCRC
	case errors.Is(err, rtu.ErrMalformedFrame):
		return metrics.OutcomeMalformed
	case errors.As(err, &te):
		return metrics.OutcomeTransport
	}
	if _, ok := IsDeviceException(err); ok {
		return metrics.OutcomeException
	}
	return metrics.OutcomeCanceled
}
