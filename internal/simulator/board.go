// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/simulator/model"
	"github.com/ffutop/modbus-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-master/master"
)

// Board drives the device side of the slave: a free-running 32-bit
// counter and a push button. The LED coils are written by the master.
type Board struct {
	slave  *Slave
	layout master.Layout

	mu sync.Mutex
}

// NewBoard attaches a board with the given register map to slave.
func NewBoard(slave *Slave, layout master.Layout) *Board {
	return &Board{slave: slave, layout: layout}
}

// Counter returns the counter as the master would assemble it, or 0
// once the slave is closed.
func (b *Board) Counter() uint32 {
	var v uint32
	b.slave.update(func(m *model.DataModel, _ persistence.Storage) error {
		v = b.counter(m)
		return nil
	})
	return v
}

// SetCounter stores v low word first.
func (b *Board) SetCounter(v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slave.update(func(m *model.DataModel, storage persistence.Storage) error {
		return b.setCounter(m, storage, v)
	})
}

// AdvanceCounter adds n to the counter, wrapping at 32 bits.
func (b *Board) AdvanceCounter(n uint32) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var v uint32
	err := b.slave.update(func(m *model.DataModel, storage persistence.Storage) error {
		v = b.counter(m) + n
		return b.setCounter(m, storage, v)
	})
	return v, err
}

func (b *Board) counter(m *model.DataModel) uint32 {
	return master.CounterFromRegisters(m.InputRegister(b.layout.CounterAddress), m.InputRegister(b.layout.CounterAddress+1))
}

func (b *Board) setCounter(m *model.DataModel, storage persistence.Storage, v uint32) error {
	if err := m.SetInputRegisters(b.layout.CounterAddress, uint16(v), uint16(v>>16)); err != nil {
		return err
	}
	storage.OnWrite(model.TableInputRegisters, b.layout.CounterAddress, 2)
	return nil
}

// SetButton presses or releases the button.
func (b *Board) SetButton(pressed bool) error {
	return b.slave.update(func(m *model.DataModel, storage persistence.Storage) error {
		m.SetDiscreteInput(b.layout.ButtonAddress, pressed)
		storage.OnWrite(model.TableDiscreteInputs, b.layout.ButtonAddress, 1)
		return nil
	})
}

// LED returns the RGB coils as last written by the master. A closed
// slave reads as off.
func (b *Board) LED() master.RGB {
	var rgb master.RGB
	b.slave.update(func(m *model.DataModel, _ persistence.Storage) error {
		rgb = master.RGB{
			R: m.Coil(b.layout.LedRAddress),
			G: m.Coil(b.layout.LedGAddress),
			B: m.Coil(b.layout.LedBAddress),
		}
		return nil
	})
	return rgb
}

// Run increments the counter once per step until ctx is done.
func (b *Board) Run(ctx context.Context, step time.Duration) {
	if step <= 0 {
		return
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.AdvanceCounter(1); err != nil {
				if errors.Is(err, ErrClosed) {
					slog.Debug("simulated board stopped, slave closed")
				} else {
					slog.Error("failed to advance simulated counter", "err", err)
				}
				return
			}
		}
	}
}
