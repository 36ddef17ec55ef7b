// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package poller drives the counter, button and RGB LED of one device.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-master/internal/metrics"
	"github.com/ffutop/modbus-master/master"
)

// Device abstracts the register model the loop needs.
type Device interface {
	CounterValue(ctx context.Context) (uint32, error)
	ButtonState(ctx context.Context) (bool, error)
	SetRGBLed(ctx context.Context, rgb master.RGB) error
	RGBLedState(ctx context.Context) (master.RGB, error)
	Close() error
}

// State of the loop.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateLedTransition
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateLedTransition:
		return "led_transition"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// EventKind tells what an Event reports.
type EventKind int

const (
	EventCounter EventKind = iota
	EventButton
	EventLed
)

// Event is one observation of the loop.
type Event struct {
	Kind    EventKind
	At      time.Time
	Counter uint32
	Button  bool
	Led     int
	RGB     master.RGB // read back after EventLed, when available
}

// DefaultMinIteration is the pacing floor of one iteration.
const DefaultMinIteration = 10 * time.Millisecond

// Config paces the loop.
type Config struct {
	MinIteration time.Duration
	LedPeriod    int // seconds
}

// Loop is the poll state machine. It is driven by a single goroutine.
type Loop struct {
	// OnEvent, when set, receives every event synchronously.
	OnEvent func(Event)

	cfg    Config
	device Device
	led    *LedCycle
	button EdgeDetector
	state  atomic.Int32

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an idle loop over device.
func New(device Device, cfg Config) *Loop {
	if cfg.MinIteration <= 0 {
		cfg.MinIteration = DefaultMinIteration
	}
	return &Loop{
		cfg:    cfg,
		device: device,
		led:    NewLedCycle(cfg.LedPeriod),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LedIndex returns the palette position the LED is known to show.
func (l *Loop) LedIndex() int {
	return l.led.Index()
}

// Run polls until ctx is cancelled, then closes the device. Device errors
// never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StatePolling)) {
		return errors.New("poller: loop already started")
	}
	slog.Info("poll loop started", "minIteration", l.cfg.MinIteration, "ledPeriod", l.led.period)

	for ctx.Err() == nil {
		start := l.now()
		l.iterate(ctx)

		if rest := l.cfg.MinIteration - l.now().Sub(start); rest > 0 {
			if err := l.sleep(ctx, rest); err != nil {
				break
			}
		}
	}

	l.setState(StateShutdown)
	slog.Info("poll loop stopping, releasing device")
	if err := l.device.Close(); err != nil {
		slog.Warn("failed to close device", "err", err)
		return err
	}
	return nil
}

func (l *Loop) iterate(ctx context.Context) {
	l.advanceLed(ctx)

	counter, err := l.device.CounterValue(ctx)
	if err != nil {
		l.iterationError(ctx, "counter", err)
	} else {
		metrics.CounterValue.Set(float64(counter))
		slog.Debug("counter", "value", counter)
		l.emit(Event{Kind: EventCounter, At: l.now(), Counter: counter})
	}

	pressed, err := l.device.ButtonState(ctx)
	if err != nil {
		l.iterationError(ctx, "button", err)
		return
	}
	if l.button.Observe(pressed) {
		metrics.ButtonTransitions.Inc()
		slog.Info("button changed", "pressed", pressed)
		l.emit(Event{Kind: EventButton, At: l.now(), Button: pressed})
	}
}

func (l *Loop) advanceLed(ctx context.Context) {
	next, due := l.led.Due(l.now())
	if !due {
		return
	}

	l.setState(StateLedTransition)
	defer l.setState(StatePolling)

	color := Palette[next]
	if err := l.device.SetRGBLed(ctx, color.RGB); err != nil {
		l.iterationError(ctx, "set_led", err)
		return
	}
	l.led.Commit(next)
	metrics.LedIndex.Set(float64(next))

	ev := Event{Kind: EventLed, At: l.now(), Led: next, RGB: color.RGB}
	if rgb, err := l.device.RGBLedState(ctx); err != nil {
		l.iterationError(ctx, "read_led", err)
	} else {
		ev.RGB = rgb
		if rgb != color.RGB {
			slog.Warn("led read back differs", "want", color.RGB, "got", rgb)
		}
	}
	slog.Info("led changed", "index", next, "color", color.Name, "rgb", ev.RGB)
	l.emit(ev)
}

func (l *Loop) iterationError(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	metrics.IterationErrors.WithLabelValues(op).Inc()
	slog.Warn("poll operation failed", "op", op, "err", err)
}

func (l *Loop) emit(ev Event) {
	if l.OnEvent != nil {
		l.OnEvent(ev)
	}
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
