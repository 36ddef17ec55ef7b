// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/transport"
)

// pollInterval bounds a single blocking read on the port, so that Read can
// honour any timeout the caller asks for.
const pollInterval = 20 * time.Millisecond

var errClosed = errors.New("serial: port is closed")

// Port is a transport.Transport over a local serial line.
type Port struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

// Open opens the serial device described by cfg.
func Open(cfg config.SerialConfig) (*Port, error) {
	p := &Port{}
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = cfg.DataBits
	p.Config.StopBits = cfg.StopBits
	p.Config.Parity = cfg.Parity
	p.Config.Timeout = pollInterval
	if cfg.RS485 {
		p.Config.RS485.Enabled = true
		p.Config.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		p.Config.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		p.Config.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		p.Config.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		p.Config.RS485.RxDuringTx = cfg.RxDuringTx
	}

	port, err := serial.Open(&p.Config)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", p.Config.Address, err)
	}
	p.port = port
	slog.Info("serial port opened", "device", cfg.Device, "baudRate", cfg.BaudRate, "dataBits", cfg.DataBits, "parity", cfg.Parity, "stopBits", cfg.StopBits)
	return p, nil
}

// Write sends frame and waits out its transmission plus the 3.5 character
// silent interval that terminates an RTU frame.
func (p *Port) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return errClosed
	}
	slog.Debug("serial write", "frame", hex.EncodeToString(frame))
	if _, err := p.port.Write(frame); err != nil {
		return err
	}
	time.Sleep(p.calculateDelay(len(frame)))
	return nil
}

// Read blocks until at least one byte arrives or timeout elapses.
func (p *Port) Read(maxLen int, timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil {
		return nil, errClosed
	}
	buf := make([]byte, maxLen)
	deadline := time.Now().Add(timeout)
	for {
		n, err := p.port.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, transport.ErrTimeout
		}
	}
}

// Close closes the serial port if it is connected.
func (p *Port) Close() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != nil {
		err = p.port.Close()
		p.port = nil
	}
	return
}

// calculateDelay calculates the needed delay to separate frames.
func (p *Port) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if p.BaudRate <= 0 || p.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / p.BaudRate
		frameDelay = 35000000 / p.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
