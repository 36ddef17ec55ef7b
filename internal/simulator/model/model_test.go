// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataModel_Bits(t *testing.T) {
	m := NewDataModel()
	if err := m.WriteMultipleCoils(8, 10, []byte{0xCD, 0x01}); err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}
	got, err := m.ReadCoils(8, 10)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0xCD, 0x01}) {
		t.Errorf("ReadCoils = % X, want CD 01", got)
	}
	if !m.Coil(8) || m.Coil(9) {
		t.Error("unexpected coil state at 8/9")
	}

	m.SetDiscreteInput(65535, true)
	if got, _ := m.ReadDiscreteInputs(65535, 1); !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("last discrete input = % X", got)
	}
}

func TestDataModel_Registers(t *testing.T) {
	m := NewDataModel()
	if err := m.SetInputRegisters(24575, 0x0001, 0xABCD); err != nil {
		t.Fatalf("SetInputRegisters failed: %v", err)
	}
	got, _ := m.ReadInputRegisters(24575, 2)
	if !bytes.Equal(got, []byte{0x00, 0x01, 0xAB, 0xCD}) {
		t.Errorf("ReadInputRegisters = % X", got)
	}

	if err := m.WriteMultipleRegisters(0, 2, []byte{0x12, 0x34, 0x56, 0x78}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	got, _ = m.ReadHoldingRegisters(0, 2)
	if !bytes.Equal(got, []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("ReadHoldingRegisters = % X", got)
	}
}

func TestDataModel_Errors(t *testing.T) {
	m := NewDataModel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"ZeroQuantity", func() error { _, err := m.ReadCoils(0, 0); return err }(), ErrOutOfRange},
		{"PastEnd", func() error { _, err := m.ReadInputRegisters(65535, 2); return err }(), ErrOutOfRange},
		{"SetPastEnd", m.SetInputRegisters(65535, 1, 2), ErrOutOfRange},
		{"CoilValue", m.WriteSingleCoil(1, 0x1234), ErrInvalidValue},
		{"ShortCoilData", m.WriteMultipleCoils(0, 9, []byte{0xFF}), ErrInvalidValue},
		{"ShortRegisterData", m.WriteMultipleRegisters(0, 2, []byte{0, 1}), ErrInvalidValue},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestTableType_String(t *testing.T) {
	if TableInputRegisters.String() != "input_registers" || TableType(9).String() != "table(9)" {
		t.Error("unexpected table names")
	}
}
