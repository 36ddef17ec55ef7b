// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"errors"
	"fmt"
)

// RGB is the state of the three LED coils.
type RGB struct {
	R, G, B bool
}

func (c RGB) String() string {
	return fmt.Sprintf("(%t,%t,%t)", c.R, c.G, c.B)
}

// Layout is the register map of the lesson device.
type Layout struct {
	CounterAddress uint16 // two input registers, low word first
	ButtonAddress  uint16 // discrete input
	LedRAddress    uint16 // coils
	LedGAddress    uint16
	LedBAddress    uint16
}

// Device exposes the counter, button and RGB LED of one slave.
type Device struct {
	client *Client
	layout Layout
}

func NewDevice(client *Client, layout Layout) *Device {
	return &Device{client: client, layout: layout}
}

// CounterFromRegisters joins a low and a high register into one value.
func CounterFromRegisters(low, high uint16) uint32 {
	return uint32(low) | uint32(high)<<16
}

// CounterValue reads both counter words in a single transaction.
func (d *Device) CounterValue(ctx context.Context) (uint32, error) {
	regs, err := d.client.ReadInputRegisters(ctx, d.layout.CounterAddress, 2)
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return CounterFromRegisters(regs[0], regs[1]), nil
}

// ButtonState reports whether the button is pressed.
func (d *Device) ButtonState(ctx context.Context) (bool, error) {
	bits, err := d.client.ReadDiscreteInputs(ctx, d.layout.ButtonAddress, 1)
	if err != nil {
		return false, fmt.Errorf("read button: %w", err)
	}
	return bits[0], nil
}

// SetRGBLed writes the R, G and B coils in turn. Every write is attempted;
// if one fails the LED may be left showing a mix of old and new colors.
func (d *Device) SetRGBLed(ctx context.Context, rgb RGB) error {
	var errs []error
	if err := d.client.WriteCoil(ctx, d.layout.LedRAddress, rgb.R); err != nil {
		errs = append(errs, fmt.Errorf("write red: %w", err))
	}
	if err := d.client.WriteCoil(ctx, d.layout.LedGAddress, rgb.G); err != nil {
		errs = append(errs, fmt.Errorf("write green: %w", err))
	}
	if err := d.client.WriteCoil(ctx, d.layout.LedBAddress, rgb.B); err != nil {
		errs = append(errs, fmt.Errorf("write blue: %w", err))
	}
	return errors.Join(errs...)
}

// RGBLedState reads the three LED coils back.
func (d *Device) RGBLedState(ctx context.Context) (RGB, error) {
	var rgb RGB
	for _, c := range []struct {
		address uint16
		value   *bool
	}{
		{d.layout.LedRAddress, &rgb.R},
		{d.layout.LedGAddress, &rgb.G},
		{d.layout.LedBAddress, &rgb.B},
	} {
		bits, err := d.client.ReadCoils(ctx, c.address, 1)
		if err != nil {
			return RGB{}, fmt.Errorf("read led coil %d: %w", c.address, err)
		}
		*c.value = bits[0]
	}
	return rgb, nil
}

// Close releases the transport.
func (d *Device) Close() error {
	return d.client.Close()
}
