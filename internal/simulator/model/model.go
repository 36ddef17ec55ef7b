// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

var (
	// ErrOutOfRange is returned for ranges that leave the address space.
	ErrOutOfRange = errors.New("model: address range out of bounds")
	// ErrInvalidValue is returned for values the table cannot hold.
	ErrInvalidValue = errors.New("model: invalid value")
)

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete_inputs"
	case TableHoldingRegisters:
		return "holding_registers"
	case TableInputRegisters:
		return "input_registers"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// DataModel holds the four Modbus tables over the full 16-bit address space.
// Bit tables store one byte per bit, 1 for ON.
type DataModel struct {
	mu sync.RWMutex

	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

// ReadCoils returns quantity coils packed LSB first.
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packBits(m.Coils, address, quantity)
}

// ReadDiscreteInputs returns quantity discrete inputs packed LSB first.
func (m *DataModel) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packBits(m.DiscreteInputs, address, quantity)
}

// ReadHoldingRegisters returns quantity holding registers big-endian.
func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packWords(m.HoldingRegisters, address, quantity)
}

// ReadInputRegisters returns quantity input registers big-endian.
func (m *DataModel) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return packWords(m.InputRegisters, address, quantity)
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteSingleCoil(address uint16, value uint16) error {
	var bit byte
	switch value {
	case 0xFF00:
		bit = 1
	case 0x0000:
	default:
		return fmt.Errorf("%w: coil value %#04x", ErrInvalidValue, value)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Coils[address] = bit
	return nil
}

// WriteMultipleCoils writes a range of coils from packed bytes.
func (m *DataModel) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unpackBits(m.Coils, address, quantity, data)
}

// WriteSingleRegister writes a single holding register.
func (m *DataModel) WriteSingleRegister(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HoldingRegisters[address] = value
	return nil
}

// WriteMultipleRegisters writes a range of holding registers from big-endian bytes.
func (m *DataModel) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unpackWords(m.HoldingRegisters, address, quantity, data)
}

// SetDiscreteInput drives a read-only input from the device side.
func (m *DataModel) SetDiscreteInput(address uint16, on bool) {
	var bit byte
	if on {
		bit = 1
	}
	m.mu.Lock()
	m.DiscreteInputs[address] = bit
	m.mu.Unlock()
}

// SetInputRegisters drives consecutive input registers from the device side.
func (m *DataModel) SetInputRegisters(address uint16, values ...uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}
	copy(m.InputRegisters[address:], values)
	return nil
}

// InputRegister returns one input register.
func (m *DataModel) InputRegister(address uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.InputRegisters[address]
}

// View runs fn while holding the read lock, so the tables do not change
// underneath it.
func (m *DataModel) View(fn func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn()
}

// Coil reports whether a coil is ON.
func (m *DataModel) Coil(address uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Coils[address] != 0
}

func packBits(table []byte, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if table[int(address)+i] != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result, nil
}

func unpackBits(table []byte, address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("%w: %d bytes for %d bits", ErrInvalidValue, len(data), quantity)
	}
	for i := 0; i < int(quantity); i++ {
		table[int(address)+i] = (data[i/8] >> uint(i%8)) & 1
	}
	return nil
}

func packWords(table []uint16, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], table[int(address)+i])
	}
	return result, nil
}

func unpackWords(table []uint16, address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("%w: %d bytes for %d registers", ErrInvalidValue, len(data), quantity)
	}
	for i := 0; i < int(quantity); i++ {
		table[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return nil
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("%w: zero quantity", ErrOutOfRange)
	}
	// address is 0-based.
	if int(address)+int(quantity) > MaxAddress+1 {
		return fmt.Errorf("%w: %d+%d", ErrOutOfRange, address, quantity)
	}
	return nil
}
