// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ffutop/modbus-master/internal/simulator/model"
	"github.com/ffutop/modbus-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-master/master"
	"github.com/ffutop/modbus-master/modbus"
)

var lessonLayout = master.Layout{
	CounterAddress: 24575,
	ButtonAddress:  8,
	LedRAddress:    8,
	LedGAddress:    9,
	LedBAddress:    10,
}

type writeRecorder struct {
	writes []model.TableType
	saved  bool
	closed bool
}

func (r *writeRecorder) Load() (*model.DataModel, error) { return model.NewDataModel(), nil }
func (r *writeRecorder) Save(*model.DataModel) error { r.saved = true; return nil }
func (r *writeRecorder) Close() error { r.closed = true; return nil }

func (r *writeRecorder) OnWrite(t model.TableType, _, _ uint16) {
	r.writes = append(r.writes, t)
}

func pdu(fc byte, data ...byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{FunctionCode: fc, Data: data}
}

func TestSlave_Process(t *testing.T) {
	m := model.NewDataModel()
	m.SetInputRegisters(24575, 0x5678, 0x1234)
	m.SetDiscreteInput(8, true)
	m.WriteSingleCoil(9, 0xFF00)
	m.WriteSingleRegister(3, 0xBEEF)
	s := NewSlave(m, nil)

	tests := []struct {
		name string
		req  modbus.ProtocolDataUnit
		want modbus.ProtocolDataUnit
	}{
		{"ReadInputRegisters", pdu(0x04, 0x5F, 0xFF, 0x00, 0x02), pdu(0x04, 0x04, 0x56, 0x78, 0x12, 0x34)},
		{"ReadHoldingRegisters", pdu(0x03, 0x00, 0x03, 0x00, 0x01), pdu(0x03, 0x02, 0xBE, 0xEF)},
		{"ReadDiscreteInputs", pdu(0x02, 0x00, 0x08, 0x00, 0x01), pdu(0x02, 0x01, 0x01)},
		{"ReadCoils", pdu(0x01, 0x00, 0x08, 0x00, 0x03), pdu(0x01, 0x01, 0x02)},
		{"WriteSingleCoil", pdu(0x05, 0x00, 0x0A, 0xFF, 0x00), pdu(0x05, 0x00, 0x0A, 0xFF, 0x00)},
		{"WriteSingleRegister", pdu(0x06, 0x00, 0x04, 0x00, 0x2A), pdu(0x06, 0x00, 0x04, 0x00, 0x2A)},
		{"WriteMultipleCoils", pdu(0x0F, 0x00, 0x10, 0x00, 0x0A, 0x02, 0xFF, 0x02), pdu(0x0F, 0x00, 0x10, 0x00, 0x0A)},
		{"WriteMultipleRegisters", pdu(0x10, 0x00, 0x20, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02), pdu(0x10, 0x00, 0x20, 0x00, 0x02)},
		{"IllegalFunction", pdu(0x2B, 0x0E), pdu(0xAB, 0x01)},
		{"OutOfRange", pdu(0x04, 0xFF, 0xFF, 0x00, 0x02), pdu(0x84, 0x02)},
		{"ZeroQuantity", pdu(0x01, 0x00, 0x00, 0x00, 0x00), pdu(0x81, 0x03)},
		{"TooManyRegisters", pdu(0x04, 0x00, 0x00, 0x00, 0x7E), pdu(0x84, 0x03)},
		{"ShortRequest", pdu(0x02, 0x00, 0x08), pdu(0x82, 0x03)},
		{"BadCoilValue", pdu(0x05, 0x00, 0x0A, 0x12, 0x34), pdu(0x85, 0x03)},
		{"ByteCountMismatch", pdu(0x10, 0x00, 0x20, 0x00, 0x01, 0x04, 0x00, 0x01), pdu(0x90, 0x03)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Process(tt.req)
			if got.FunctionCode != tt.want.FunctionCode || !bytes.Equal(got.Data, tt.want.Data) {
				t.Errorf("Process = %02X % X, want %02X % X", got.FunctionCode, got.Data, tt.want.FunctionCode, tt.want.Data)
			}
		})
	}

	if !m.Coil(10) {
		t.Error("coil 10 not set by FC05")
	}
	if !m.Coil(16) || m.Coil(24) || !m.Coil(25) {
		t.Error("FC0F did not unpack 0xFF 0x02 over 10 coils")
	}
	if m.HoldingRegisters[0x21] != 2 {
		t.Errorf("holding 0x21 = %d, want 2", m.HoldingRegisters[0x21])
	}
}

func TestSlave_WritesReachStorage(t *testing.T) {
	rec := &writeRecorder{}
	s := NewSlave(model.NewDataModel(), rec)

	s.Process(pdu(0x05, 0x00, 0x08, 0xFF, 0x00))
	s.Process(pdu(0x04, 0x00, 0x00, 0x00, 0x01))
	s.Process(pdu(0x10, 0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x07))
	s.Process(pdu(0x05, 0x00, 0x08, 0x00, 0x01)) // rejected

	want := []model.TableType{model.TableCoils, model.TableHoldingRegisters}
	if len(rec.writes) != len(want) || rec.writes[0] != want[0] || rec.writes[1] != want[1] {
		t.Errorf("OnWrite tables = %v, want %v", rec.writes, want)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !rec.saved || !rec.closed {
		t.Errorf("saved=%t closed=%t, want both", rec.saved, rec.closed)
	}
}

func TestBoard_Counter(t *testing.T) {
	rec := &writeRecorder{}
	b := NewBoard(NewSlave(model.NewDataModel(), rec), lessonLayout)

	if err := b.SetCounter(0x0000FFFF); err != nil {
		t.Fatalf("SetCounter failed: %v", err)
	}
	v, err := b.AdvanceCounter(1)
	if err != nil {
		t.Fatalf("AdvanceCounter failed: %v", err)
	}
	if v != 0x10000 || b.Counter() != 0x10000 {
		t.Errorf("counter = %#x, want 0x10000", b.Counter())
	}

	m := b.slave.Model()
	if lo, hi := m.InputRegister(24575), m.InputRegister(24576); lo != 0 || hi != 1 {
		t.Errorf("registers = %#x,%#x, want 0,1", lo, hi)
	}

	b.SetCounter(0xFFFFFFFF)
	if v, _ := b.AdvanceCounter(1); v != 0 {
		t.Errorf("counter did not wrap: %#x", v)
	}
	if len(rec.writes) != 4 {
		t.Errorf("%d storage writes, want 4", len(rec.writes))
	}
}

func TestBoard_ButtonAndLED(t *testing.T) {
	s := NewSlave(model.NewDataModel(), nil)
	b := NewBoard(s, lessonLayout)

	b.SetButton(true)
	resp := s.Process(pdu(0x02, 0x00, 0x08, 0x00, 0x01))
	if !bytes.Equal(resp.Data, []byte{0x01, 0x01}) {
		t.Errorf("button read = % X", resp.Data)
	}

	s.Process(pdu(0x05, 0x00, 0x08, 0xFF, 0x00))
	s.Process(pdu(0x05, 0x00, 0x0A, 0xFF, 0x00))
	if got := b.LED(); got != (master.RGB{R: true, B: true}) {
		t.Errorf("LED = %v, want magenta", got)
	}
}

func TestBoard_Run(t *testing.T) {
	b := NewBoard(NewSlave(model.NewDataModel(), nil), lessonLayout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Counter() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if b.Counter() < 3 {
		t.Errorf("counter = %d after running, want >= 3", b.Counter())
	}
}

func openMmapSlave(t *testing.T) *Slave {
	t.Helper()
	storage := persistence.NewMmapStorage(filepath.Join(t.TempDir(), "slave.mmap"))
	m, err := storage.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return NewSlave(m, storage)
}

func TestBoard_AfterSlaveClose(t *testing.T) {
	s := openMmapSlave(t)
	b := NewBoard(s, lessonLayout)
	if err := b.SetCounter(41); err != nil {
		t.Fatalf("SetCounter failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	if _, err := b.AdvanceCounter(1); !errors.Is(err, ErrClosed) {
		t.Errorf("AdvanceCounter after Close = %v, want ErrClosed", err)
	}
	if err := b.SetCounter(7); !errors.Is(err, ErrClosed) {
		t.Errorf("SetCounter after Close = %v, want ErrClosed", err)
	}
	if err := b.SetButton(true); !errors.Is(err, ErrClosed) {
		t.Errorf("SetButton after Close = %v, want ErrClosed", err)
	}
	if v := b.Counter(); v != 0 {
		t.Errorf("Counter after Close = %d, want 0", v)
	}
	if rgb := b.LED(); rgb != (master.RGB{}) {
		t.Errorf("LED after Close = %v, want off", rgb)
	}

	resp := s.Process(pdu(0x04, 0x5F, 0xFF, 0x00, 0x02))
	if want := pdu(0x84, 0x04); resp.FunctionCode != want.FunctionCode || !bytes.Equal(resp.Data, want.Data) {
		t.Errorf("Process after Close = %+v, want %+v", resp, want)
	}
}

func TestBoard_RunStopsWhenSlaveCloses(t *testing.T) {
	s := openMmapSlave(t)
	b := NewBoard(s, lessonLayout)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Counter() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going after the slave was closed")
	}
}
