// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package uss implements the USS telegram protocol spoken by Leybold
// TURBOVAC turbomolecular pump frequency converters.
//
// A telegram is a fixed 24-byte frame carrying one parameter access
// (number, index, value) and the process data block (control or status
// word, frequency, temperature, current, voltage). Queries and replies share
// the same layout; the direction is known from context.
//
// The package provides the fixed-width value types used on the wire, the
// protocol code tables, the parameter model and per-pump value store, and
// the telegram builder, reader, formatter and stream scanner.
package uss

import "encoding/binary"

// Frame layout
const (
	TelegramLength = 24
	StartByte      = 0x02
	LengthByte     = TelegramLength - 2 // LGE counts bytes after itself
)

// Field offsets within a telegram
const (
	offsetSTX       = 0
	offsetLGE       = 1
	offsetAddress   = 2
	offsetPKE       = 3
	offsetIndex     = 6
	offsetValue     = 7
	offsetFlags     = 11
	offsetFrequency = 13
	offsetTemp      = 15
	offsetCurrent   = 17
	offsetVoltage   = 21
	offsetBCC       = 23
)

// PKE word packing
const (
	codeBits       = 4
	numberBits     = 11
	MaxParameter   = 1<<numberBits - 1
	codeShift      = 16 - codeBits
	numberMask     = MaxParameter
	MaxAddress     = 31 // RS-485 bus addresses
	ValueSlotBits  = 32
	ProcessWordMax = 0xFFFF
)

// ByteOrder is the byte order of every multi-byte field on the wire.
var ByteOrder = binary.BigEndian
