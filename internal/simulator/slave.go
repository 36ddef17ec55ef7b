// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator is an in-process Modbus slave with the lesson
// device's register map.
package simulator

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ffutop/modbus-master/internal/simulator/model"
	"github.com/ffutop/modbus-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-master/modbus"
)

// ErrClosed is returned by device-side operations on a closed slave.
var ErrClosed = errors.New("simulator: slave closed")

// Slave answers Modbus requests from a DataModel and reports every
// modification to its Storage.
type Slave struct {
	model   *model.DataModel
	storage persistence.Storage

	// The model may live in storage-owned memory. Every access holds mu
	// for reading; Close holds it for writing while the storage releases it.
	mu     sync.RWMutex
	closed bool
}

// NewSlave creates a Slave. A nil storage keeps the model in memory only.
func NewSlave(m *model.DataModel, storage persistence.Storage) *Slave {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	return &Slave{model: m, storage: storage}
}

// Model returns the data model the slave serves. It must not be used
// after Close.
func (s *Slave) Model() *model.DataModel {
	return s.model
}

// Close flushes and releases the storage. Later calls are no-ops.
func (s *Slave) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	saveErr := s.storage.Save(s.model)
	return errors.Join(saveErr, s.storage.Close())
}

// update runs fn against the model and its storage unless the slave is closed.
func (s *Slave) update(fn func(m *model.DataModel, storage persistence.Storage) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.model, s.storage)
}

// Process executes one request PDU. Failures are always exception PDUs;
// a closed slave answers with a device failure.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return exception(req.FunctionCode, modbus.ExceptionCodeServerDeviceFailure)
	}

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleRead(req, modbus.MaxReadBits, s.model.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.handleRead(req, modbus.MaxReadBits, s.model.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleRead(req, modbus.MaxReadRegisters, s.model.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.handleRead(req, modbus.MaxReadRegisters, s.model.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingle(req, model.TableCoils, s.model.WriteSingleCoil)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingle(req, model.TableHoldingRegisters, s.model.WriteSingleRegister)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.handleWriteMultiple(req, 1968, model.TableCoils, s.model.WriteMultipleCoils)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultiple(req, 123, model.TableHoldingRegisters, s.model.WriteMultipleRegisters)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Slave) handleRead(req modbus.ProtocolDataUnit, maxQuantity uint16, read func(address, quantity uint16) ([]byte, error)) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > maxQuantity {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	data, err := read(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, exceptionCode(err))
	}

	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Slave) handleWriteSingle(req modbus.ProtocolDataUnit, table model.TableType, write func(address, value uint16) error) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := write(address, value); err != nil {
		return exception(req.FunctionCode, exceptionCode(err))
	}
	s.storage.OnWrite(table, address, 1)

	return req // Echo request
}

func (s *Slave) handleWriteMultiple(req modbus.ProtocolDataUnit, maxQuantity uint16, table model.TableType, write func(address, quantity uint16, data []byte) error) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > maxQuantity {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if len(req.Data)-5 != int(byteCount) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := write(address, quantity, req.Data[5:]); err != nil {
		return exception(req.FunctionCode, exceptionCode(err))
	}
	s.storage.OnWrite(table, address, quantity)

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func exceptionCode(err error) byte {
	if errors.Is(err, model.ErrOutOfRange) {
		return modbus.ExceptionCodeIllegalDataAddress
	}
	return modbus.ExceptionCodeIllegalDataValue
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionBit,
		Data:         []byte{code},
	}
}
