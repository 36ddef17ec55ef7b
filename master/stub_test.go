// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"sync"
	"testing"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport"
)

// reply is what the stub does after the n-th written frame.
type reply struct {
	frame   []byte // queued for reading; nil means the slave stays silent
	readErr error  // returned by the next Read instead of data
}

// stubTransport records writes and answers them with a scripted responder.
type stubTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	respond  func(n int, req []byte) reply
	writeErr error
	chunk    int // max bytes per Read, 0 means unlimited
	pending  []byte
	readErr  error
	closed   bool
}

func (s *stubTransport) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes = append(s.writes, append([]byte(nil), frame...))
	if s.writeErr != nil {
		return s.writeErr
	}
	s.pending, s.readErr = nil, nil
	if s.respond != nil {
		r := s.respond(len(s.writes), frame)
		s.pending = r.frame
		s.readErr = r.readErr
	}
	return nil
}

func (s *stubTransport) Read(maxLen int, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(s.pending) == 0 {
		return nil, transport.ErrTimeout
	}
	n := len(s.pending)
	if n > maxLen {
		n = maxLen
	}
	if s.chunk > 0 && n > s.chunk {
		n = s.chunk
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out, nil
}

func (s *stubTransport) Close() error {
	s.closed = true
	return nil
}

func (s *stubTransport) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func encodeFrame(t *testing.T, slaveID, functionCode byte, data ...byte) []byte {
	t.Helper()
	raw, err := (&rtu.ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: functionCode, Data: data},
	}).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return raw
}

// echo answers every request with its own frame, as FC05 slaves do.
func echo(n int, req []byte) reply {
	return reply{frame: append([]byte(nil), req...)}
}
