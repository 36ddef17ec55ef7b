// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Read when no byte arrived within the timeout.
var ErrTimeout = errors.New("transport: read timed out")

// Transport is a half-duplex byte channel to the slave.
// It is opened by the caller before use and closed by the caller (or the
// owner it is handed to) after use.
//
// Implementations are not required to be safe for concurrent use; the
// master serializes all exchanges.
type Transport interface {
	// Write sends the whole frame.
	Write(frame []byte) error
	// Read returns between 1 and maxLen bytes, blocking for at most timeout.
	// It returns ErrTimeout if nothing arrived in time.
	Read(maxLen int, timeout time.Duration) ([]byte, error)
}

// Close closes t if it holds any resource.
func Close(t Transport) error {
	if c, ok := t.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
