// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Client is a Modbus RTU master bound to a single slave.
type Client struct {
	engine *Engine

	SlaveID    byte
	Timeout    time.Duration
	MaxRetries int
}

// NewClient allocates and initializes a Client.
func NewClient(engine *Engine, slaveID byte, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		engine:     engine,
		SlaveID:    slaveID,
		Timeout:    timeout,
		MaxRetries: maxRetries,
	}
}

// ReadInputRegisters reads count consecutive input registers (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	if count < 1 || count > modbus.MaxReadRegisters {
		return nil, fmt.Errorf("%w: register count %d not in 1-%d", ErrInvalidQuantity, count, modbus.MaxReadRegisters)
	}
	data, err := c.read(ctx, modbus.FuncCodeReadInputRegisters, address, count, int(count)*2)
	if err != nil {
		return nil, err
	}
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return regs, nil
}

// ReadDiscreteInputs reads count discrete inputs (FC02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, count uint16) ([]bool, error) {
	return c.readBits(ctx, modbus.FuncCodeReadDiscreteInputs, address, count)
}

// ReadCoils reads count coils (FC01).
func (c *Client) ReadCoils(ctx context.Context, address, count uint16) ([]bool, error) {
	return c.readBits(ctx, modbus.FuncCodeReadCoils, address, count)
}

// WriteCoil sets a single coil (FC05). The slave must echo the request.
func (c *Client) WriteCoil(ctx context.Context, address uint16, value bool) error {
	pdu := rtu.WriteSingleCoilRequest(address, value)
	resp, err := c.execute(ctx, pdu)
	if err != nil {
		return err
	}
	if !bytes.Equal(resp.Data, pdu.Data) {
		return fmt.Errorf("%w: write coil echo '%X' does not match request '%X'", rtu.ErrMalformedFrame, resp.Data, pdu.Data)
	}
	return nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.engine.Close()
}

func (c *Client) readBits(ctx context.Context, functionCode byte, address, count uint16) ([]bool, error) {
	if count < 1 || count > modbus.MaxReadBits {
		return nil, fmt.Errorf("%w: bit count %d not in 1-%d", ErrInvalidQuantity, count, modbus.MaxReadBits)
	}
	data, err := c.read(ctx, functionCode, address, count, (int(count)+7)/8)
	if err != nil {
		return nil, err
	}
	// Bits are packed LSB first within each byte.
	bits := make([]bool, count)
	for i := range bits {
		bits[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return bits, nil
}

// read executes a FC01-FC04 request and returns the payload after the byte count.
func (c *Client) read(ctx context.Context, functionCode byte, address, quantity uint16, byteCount int) ([]byte, error) {
	resp, err := c.execute(ctx, rtu.ReadRequest(functionCode, address, quantity))
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != 1+byteCount || int(resp.Data[0]) != byteCount {
		return nil, fmt.Errorf("%w: response byte count '%v' does not match expected '%v'", rtu.ErrMalformedFrame, len(resp.Data)-1, byteCount)
	}
	return resp.Data[1:], nil
}

func (c *Client) execute(ctx context.Context, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	req := &rtu.ApplicationDataUnit{SlaveID: c.SlaveID, Pdu: pdu}
	header := append([]byte{c.SlaveID, pdu.FunctionCode}, pdu.Data...)
	return c.engine.Execute(ctx, req, rtu.CalculateResponseLength(header), c.Timeout, c.MaxRetries)
}
