// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the CRC-16/MODBUS checksum (reflected polynomial 0xA001).
package crc

import "sync"

// Polynomial is the reflected form of 0x8005.
const Polynomial = 0xA001

// CRC is a running checksum. Call Reset before the first PushBytes.
type CRC struct {
	high byte
	low  byte
}

var (
	tableOnce sync.Once
	crcTable  [256]uint16
)

func initTable() {
	for i := range crcTable {
		v := uint16(i)
		for j := 0; j < 8; j++ {
			if v&0x0001 != 0 {
				v = v>>1 ^ Polynomial
			} else {
				v >>= 1
			}
		}
		crcTable[i] = v
	}
}

func (crc *CRC) Reset() *CRC {
	tableOnce.Do(initTable)
	crc.high = 0xFF
	crc.low = 0xFF
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		v := crcTable[crc.low^b]
		crc.low = crc.high ^ byte(v)
		crc.high = byte(v >> 8)
	}
	return crc
}

// Value returns the checksum. On the wire the low byte goes first.
func (crc *CRC) Value() uint16 {
	return uint16(crc.high)<<8 | uint16(crc.low)
}

// Checksum computes the CRC of data in one call.
func Checksum(data []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(data).Value()
}
