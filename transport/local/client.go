// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package local

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/simulator"
	"github.com/ffutop/modbus-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport"
)

// Client is a transport looped back onto an in-process slave. Every frame
// written is answered immediately and the response is queued for Read.
// Frames that are corrupt or addressed elsewhere get no answer, as on a bus.
type Client struct {
	SlaveID byte

	slave *simulator.Slave

	mu      sync.Mutex
	pending []byte
}

// NewClient attaches a transport to slave answering as slaveID.
func NewClient(slaveID byte, slave *simulator.Slave) *Client {
	return &Client{SlaveID: slaveID, slave: slave}
}

// Open loads the slave's data model from the configured persistence.
func Open(slaveID byte, cfg config.SimulatorConfig) (*Client, error) {
	storage, m, err := persistence.Open(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	return NewClient(slaveID, simulator.NewSlave(m, storage)), nil
}

// Slave returns the slave behind the transport.
func (c *Client) Slave() *simulator.Slave {
	return c.slave
}

// Write hands frame to the slave.
func (c *Client) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	req, err := rtu.DecodeRequest(frame)
	if err != nil {
		slog.Debug("simulator dropped frame", "frame", hex.EncodeToString(frame), "err", err)
		return nil
	}
	if req.SlaveID != c.SlaveID {
		return nil
	}

	resp := rtu.ApplicationDataUnit{SlaveID: c.SlaveID, Pdu: c.slave.Process(req.Pdu)}
	raw, err := resp.Encode()
	if err != nil {
		slog.Error("simulator failed to encode response", "err", err)
		return nil
	}
	c.pending = raw
	return nil
}

// Read returns up to maxLen queued bytes. With nothing queued it waits out
// timeout like a silent line.
func (c *Client) Read(maxLen int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		time.Sleep(timeout)
		return nil, transport.ErrTimeout
	}
	defer c.mu.Unlock()

	n := len(c.pending)
	if n > maxLen {
		n = maxLen
	}
	out := make([]byte, n)
	copy(out, c.pending)
	c.pending = c.pending[n:]
	return out, nil
}

// Close flushes and closes the slave's storage.
func (c *Client) Close() error {
	return c.slave.Close()
}
