// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize covers slave address, function code and CRC.
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// WriteSingleSize is the fixed size of FC05/FC06 requests and responses.
	WriteSingleSize = 8
	// ReadRequestSize is the fixed size of FC01-FC04 requests.
	ReadRequestSize = 8
)
