// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package poller

import (
	"time"

	"github.com/ffutop/modbus-master/master"
)

// Color is one entry of the LED palette.
type Color struct {
	Name string
	RGB  master.RGB
}

// Palette is the LED cycle order.
var Palette = [...]Color{
	{"off", master.RGB{}},
	{"red", master.RGB{R: true}},
	{"green", master.RGB{G: true}},
	{"blue", master.RGB{B: true}},
	{"yellow", master.RGB{R: true, G: true}},
	{"magenta", master.RGB{R: true, B: true}},
	{"cyan", master.RGB{G: true, B: true}},
	{"white", master.RGB{R: true, G: true, B: true}},
}

// DefaultLedPeriod is the length in seconds of one LED window.
const DefaultLedPeriod = 5

// LedCycle tracks the LED palette index and whether the current
// wall-clock window already had its advance.
type LedCycle struct {
	period   int64
	index    int
	advanced bool
}

// NewLedCycle starts at Off. A period below one second uses DefaultLedPeriod.
func NewLedCycle(period int) *LedCycle {
	if period < 1 {
		period = DefaultLedPeriod
	}
	return &LedCycle{period: int64(period)}
}

// Index returns the palette position currently shown.
func (c *LedCycle) Index() int {
	return c.index
}

// Due reports whether now opens a window that has not advanced yet, and
// the index to advance to. A true result closes the window, so the caller
// gets one attempt per window whatever its outcome.
func (c *LedCycle) Due(now time.Time) (int, bool) {
	if now.Unix()%c.period != 0 {
		c.advanced = false
		return c.index, false
	}
	if c.advanced {
		return c.index, false
	}
	c.advanced = true
	return (c.index + 1) % len(Palette), true
}

// Commit records that the LED now shows index.
func (c *LedCycle) Commit(index int) {
	c.index = index % len(Palette)
}

// EdgeDetector turns a sampled level into transitions.
type EdgeDetector struct {
	last  bool
	valid bool
}

// Observe records v and reports whether it differs from the previous
// sample. The first sample only sets the baseline.
func (e *EdgeDetector) Observe(v bool) bool {
	if !e.valid {
		e.last, e.valid = v, true
		return false
	}
	if v == e.last {
		return false
	}
	e.last = v
	return true
}

// Last returns the previous sample and whether there is one.
func (e *EdgeDetector) Last() (bool, bool) {
	return e.last, e.valid
}
