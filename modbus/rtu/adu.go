// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

var (
	ErrMalformedFrame = errors.New("modbus: malformed frame")
	ErrCRCMismatch    = errors.New("modbus: crc mismatch")
)

// ApplicationDataUnit is a Modbus RTU frame.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode parses a raw RTU response frame and verifies its checksum.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	adu, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if want := minFrameSize(adu.Pdu); len(raw) < want {
		return nil, fmt.Errorf("%w: length '%v' does not meet minimum '%v' for function '%v'", ErrMalformedFrame, len(raw), want, adu.Pdu.FunctionCode)
	}
	return adu, nil
}

// DecodeRequest parses a raw RTU request frame as seen by a slave.
func DecodeRequest(raw []byte) (*ApplicationDataUnit, error) {
	adu, err := decode(raw)
	if err != nil {
		return nil, err
	}
	want, err := CalculateRequestLength(adu.Pdu.FunctionCode, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("%w: request length '%v' does not match '%v'", ErrMalformedFrame, len(raw), want)
	}
	return adu, nil
}

func decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		return nil, fmt.Errorf("%w: length '%v' does not meet minimum '%v'", ErrMalformedFrame, length, MinSize)
	}
	if length > MaxSize {
		return nil, fmt.Errorf("%w: length '%v' exceeds maximum '%v'", ErrMalformedFrame, length, MaxSize)
	}

	expected := crc.Checksum(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != expected {
		return nil, fmt.Errorf("%w: response crc '%v' does not match expected '%v'", ErrCRCMismatch, checksum, expected)
	}

	data := make([]byte, length-4)
	copy(data, raw[2:length-2])
	return &ApplicationDataUnit{
		SlaveID: raw[0],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         data,
		},
	}, nil
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, MaxSize)
	}
	raw := make([]byte, length)

	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	checksum := crc.Checksum(raw[0 : length-2])
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw, nil
}

// DecodeResponse decodes raw as the answer to req. An exception response is
// returned as *modbus.ExceptionError.
func DecodeResponse(req *ApplicationDataUnit, raw []byte) (*ApplicationDataUnit, error) {
	resp, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := req.Verify(resp); err != nil {
		return nil, err
	}
	if resp.Pdu.FunctionCode == req.Pdu.FunctionCode|modbus.ExceptionBit {
		return nil, &modbus.ExceptionError{
			FunctionCode:  resp.Pdu.FunctionCode,
			ExceptionCode: resp.Pdu.Data[0],
		}
	}
	return resp, nil
}

// Verify verifies that resp answers req: same slave id, and the same
// function code or its exception form.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) error {
	if req.SlaveID != resp.SlaveID {
		return fmt.Errorf("%w: response slave id '%v' does not match request '%v'", ErrMalformedFrame, resp.SlaveID, req.SlaveID)
	}
	switch resp.Pdu.FunctionCode {
	case req.Pdu.FunctionCode, req.Pdu.FunctionCode | modbus.ExceptionBit:
		return nil
	default:
		return fmt.Errorf("%w: response function '%v' does not match request '%v'", ErrMalformedFrame, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
	}
}

// minFrameSize returns the smallest well-formed frame carrying pdu.
// Read responses are sized by their byte count field.
func minFrameSize(pdu modbus.ProtocolDataUnit) int {
	if pdu.IsException() {
		return ExceptionSize
	}
	switch pdu.FunctionCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if len(pdu.Data) == 0 {
			return MinSize + 1
		}
		return MinSize + 1 + int(pdu.Data[0])
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return WriteSingleSize
	default:
		return MinSize
	}
}
