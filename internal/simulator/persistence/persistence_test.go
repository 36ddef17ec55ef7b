// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/simulator/model"
)

func TestStorage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		open func(path string) Storage
	}{
		{"file", func(path string) Storage { return NewFileStorage(path) }},
		{"mmap", func(path string) Storage { return NewMmapStorage(path) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "slave.bin")

			s := tt.open(path)
			m, err := s.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if err := m.SetInputRegisters(counterAddress, 0x5678, 0x1234); err != nil {
				t.Fatalf("SetInputRegisters failed: %v", err)
			}
			s.OnWrite(model.TableInputRegisters, counterAddress, 2)
			if err := m.WriteSingleCoil(9, 0xFF00); err != nil {
				t.Fatalf("WriteSingleCoil failed: %v", err)
			}
			s.OnWrite(model.TableCoils, 9, 1)
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			fi, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat failed: %v", err)
			}
			if fi.Size() != totalSize {
				t.Errorf("file size = %d, want %d", fi.Size(), totalSize)
			}

			s = tt.open(path)
			m, err = s.Load()
			if err != nil {
				t.Fatalf("reload failed: %v", err)
			}
			defer s.Close()
			if v := m.InputRegister(counterAddress); v != 0x5678 {
				t.Errorf("counter low = %#x, want 0x5678", v)
			}
			if v := m.InputRegister(counterAddress + 1); v != 0x1234 {
				t.Errorf("counter high = %#x, want 0x1234", v)
			}
			if !m.Coil(9) {
				t.Error("coil 9 lost across reload")
			}
		})
	}
}

func TestFileStorage_ConcurrentWriteBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slave.bin")
	s := NewFileStorage(path)
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint16(1); i <= 50; i++ {
			m.SetInputRegisters(counterAddress, i, 0)
			s.OnWrite(model.TableInputRegisters, counterAddress, 2)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			m.WriteSingleCoil(8, uint16(i%2)*0xFF00)
			if err := s.Save(m); err != nil {
				t.Errorf("Save failed: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	s.OnWrite(model.TableCoils, 8, 1)

	s = NewFileStorage(path)
	m, err = s.Load()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	defer s.Close()
	if v := m.InputRegister(counterAddress); v != 50 {
		t.Errorf("counter low = %d after reload, want 50", v)
	}
	if !m.Coil(8) {
		t.Error("coil 8 off after reload, last write was on")
	}
}

func TestMemoryStorage_Fresh(t *testing.T) {
	s := NewMemoryStorage()
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Coils) != model.MaxAddress+1 || len(m.InputRegisters) != model.MaxAddress+1 {
		t.Errorf("unexpected table sizes %d, %d", len(m.Coils), len(m.InputRegisters))
	}
	if err := s.Save(m); err != nil {
		t.Errorf("Save failed: %v", err)
	}
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slave.bin")
	tests := []struct {
		cfg     config.PersistenceConfig
		want    string
		wantErr bool
	}{
		{config.PersistenceConfig{}, "*persistence.MemoryStorage", false},
		{config.PersistenceConfig{Type: "memory"}, "*persistence.MemoryStorage", false},
		{config.PersistenceConfig{Type: "file", Path: path}, "*persistence.FileStorage", false},
		{config.PersistenceConfig{Type: "mmap", Path: path}, "*persistence.MmapStorage", false},
		{config.PersistenceConfig{Type: "sql"}, "", true},
	}
	for _, tt := range tests {
		s, err := New(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%+v) error = %v", tt.cfg, err)
			continue
		}
		if err == nil {
			if got := typeName(s); got != tt.want {
				t.Errorf("New(%+v) = %s, want %s", tt.cfg, got, tt.want)
			}
		}
	}
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	// A directory cannot be opened as a storage file.
	s, m, err := Open(config.PersistenceConfig{Type: "file", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*MemoryStorage); !ok {
		t.Errorf("storage = %s, want memory fallback", typeName(s))
	}
	if m == nil {
		t.Fatal("nil model")
	}
}

func TestRegion(t *testing.T) {
	tests := []struct {
		table       model.TableType
		address     uint16
		quantity    uint16
		off, length int
	}{
		{model.TableCoils, 8, 3, 8, 3},
		{model.TableDiscreteInputs, 8, 1, offsetDiscrete + 8, 1},
		{model.TableHoldingRegisters, 1, 2, offsetHolding + 2, 4},
		{model.TableInputRegisters, counterAddress, 2, offsetInput + counterAddress*2, 4},
	}
	for _, tt := range tests {
		off, length := region(tt.table, tt.address, tt.quantity)
		if off != tt.off || length != tt.length {
			t.Errorf("region(%v, %d, %d) = %d,%d want %d,%d", tt.table, tt.address, tt.quantity, off, length, tt.off, tt.length)
		}
	}
}

func typeName(s Storage) string {
	switch s.(type) {
	case *MemoryStorage:
		return "*persistence.MemoryStorage"
	case *FileStorage:
		return "*persistence.FileStorage"
	case *MmapStorage:
		return "*persistence.MmapStorage"
	}
	return "unknown"
}
