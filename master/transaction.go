// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/metrics"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport"
)

// Engine runs request/response exchanges over one transport. Only one
// exchange is in flight at a time.
type Engine struct {
	// RequestPause is a silent interval kept before every write.
	RequestPause time.Duration

	mu        sync.Mutex
	transport transport.Transport
}

// NewEngine returns an Engine owning t.
func NewEngine(t transport.Transport) *Engine {
	return &Engine{transport: t}
}

// Execute sends req and returns the response PDU.
//
// maxRetries counts the first attempt. Timeouts, transport failures and
// corrupt frames consume an attempt; an exception response is returned at
// once as *modbus.ExceptionError.
func (e *Engine) Execute(ctx context.Context, req *rtu.ApplicationDataUnit, expectedLen int, timeout time.Duration, maxRetries int) (modbus.ProtocolDataUnit, error) {
	raw, err := req.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	function := modbus.FunctionName(req.Pdu.FunctionCode)

	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.Transactions.WithLabelValues(function, metrics.OutcomeCanceled).Inc()
			return modbus.ProtocolDataUnit{}, err
		}

		metrics.Attempts.WithLabelValues(function).Inc()
		resp, err := e.attempt(ctx, req, raw, expectedLen, timeout)
		if err == nil {
			metrics.Transactions.WithLabelValues(function, metrics.OutcomeSuccess).Inc()
			return resp.Pdu, nil
		}
		if _, ok := IsDeviceException(err); ok {
			metrics.Transactions.WithLabelValues(function, metrics.OutcomeException).Inc()
			return modbus.ProtocolDataUnit{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.Transactions.WithLabelValues(function, metrics.OutcomeCanceled).Inc()
			return modbus.ProtocolDataUnit{}, ctxErr
		}

		slog.Debug("modbus attempt failed", "function", function, "attempt", attempt, "maxRetries", maxRetries, "err", err)
		lastErr = err
	}

	metrics.Transactions.WithLabelValues(function, outcome(lastErr)).Inc()
	return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: %s failed after %d attempts: %w", function, maxRetries, lastErr)
}

// attempt performs one write+read cycle with a fresh timeout window.
func (e *Engine) attempt(ctx context.Context, req *rtu.ApplicationDataUnit, raw []byte, expectedLen int, timeout time.Duration) (*rtu.ApplicationDataUnit, error) {
	if e.RequestPause > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.RequestPause):
		}
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(raw))
	if err := e.transport.Write(raw); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	deadline := time.Now().Add(timeout)
	need := expectedLen
	buf := make([]byte, 0, need)
	for len(buf) < need {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		chunk, err := e.transport.Read(need-len(buf), remaining)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				return nil, ErrTimeout
			}
			return nil, &TransportError{Op: "read", Err: err}
		}
		buf = append(buf, chunk...)

		// Skip line noise ahead of the slave address.
		if i := bytes.IndexByte(buf, req.SlaveID); i < 0 {
			buf = buf[:0]
			continue
		} else if i > 0 {
			buf = buf[i:]
		}
		need = rtu.ExpectedLength(buf, req.Pdu.FunctionCode, expectedLen)
	}
	buf = buf[:need]

	slog.Debug("recv from modbus slave", "response", hex.EncodeToString(buf))
	return rtu.DecodeResponse(req, buf)
}

// Close releases the transport.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return transport.Close(e.transport)
}
