// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrLength is returned for a frame that is not TelegramLength bytes
	ErrLength = errors.New("invalid telegram length")
	// ErrChecksum is returned when the BCC does not match the frame
	ErrChecksum = errors.New("telegram checksum mismatch")
	// ErrHeader is returned for a frame with a wrong STX or LGE byte
	ErrHeader = errors.New("invalid telegram header")
)

// Telegram is an immutable, structurally valid 24-byte frame
type Telegram struct {
	data [TelegramLength]byte
}

// ParseTelegram validates raw bytes as a telegram. Length is checked first,
// then the checksum, then the header bytes.
func ParseTelegram(b []byte) (Telegram, error) {
	if len(b) != TelegramLength {
		return Telegram{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrLength, TelegramLength, len(b))
	}
	if bcc := CalculateBCC(b[:offsetBCC]); bcc != b[offsetBCC] {
		return Telegram{}, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, bcc, b[offsetBCC])
	}
	if b[offsetSTX] != StartByte {
		return Telegram{}, fmt.Errorf("%w: STX 0x%02X", ErrHeader, b[offsetSTX])
	}
	if b[offsetLGE] != LengthByte {
		return Telegram{}, fmt.Errorf("%w: LGE %d", ErrHeader, b[offsetLGE])
	}

	var t Telegram
	copy(t.data[:], b)
	return t, nil
}

// Bytes returns a copy of the frame
func (t Telegram) Bytes() []byte {
	out := make([]byte, TelegramLength)
	copy(out, t.data[:])
	return out
}

// Array returns the frame by value
func (t Telegram) Array() [TelegramLength]byte {
	return t.data
}

func (t Telegram) String() string {
	return hex.EncodeToString(t.data[:])
}

func (t Telegram) u16(offset int) uint16 {
	return ByteOrder.Uint16(t.data[offset:])
}

// Builder stages field assignments and produces a Telegram.
//
// Setters record the first invalid assignment; Build reports it. The model
// is needed only for SetParameterMode and SetParameterValueOf.
type Builder struct {
	model *Model

	address     byte
	code        uint8
	mode        AccessMode
	hasMode     bool
	number      int
	index       int
	value       uint32
	typedValue  any
	hasTyped    bool
	flags       uint16
	frequency   uint16
	temperature int16
	current     uint16
	voltage     uint16

	err error
}

// NewBuilder creates a builder. model may be nil.
func NewBuilder(model *Model) *Builder {
	return &Builder{model: model}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// SetAddress sets the device address byte
func (b *Builder) SetAddress(addr int) *Builder {
	if addr < 0 || addr > 0xFF {
		return b.fail("%w: address %d", ErrOutOfRange, addr)
	}
	b.address = byte(addr)
	return b
}

// SetParameterCode sets a raw 4-bit access or response code
func (b *Builder) SetParameterCode(code uint8) *Builder {
	if code >= 1<<codeBits {
		return b.fail("%w: parameter code %d", ErrOutOfRange, code)
	}
	b.code = code
	b.hasMode = false
	return b
}

// SetAccessCode sets the access code of a query
func (b *Builder) SetAccessCode(c AccessCode) *Builder {
	return b.SetParameterCode(uint8(c))
}

// SetResponseCode sets the response code of a reply
func (b *Builder) SetResponseCode(r ResponseCode) *Builder {
	return b.SetParameterCode(uint8(r))
}

// SetParameterMode selects the access code for the addressed parameter
// at Build time
func (b *Builder) SetParameterMode(mode AccessMode) *Builder {
	b.mode = mode
	b.hasMode = true
	return b
}

// SetParameterNumber sets the 11-bit parameter number
func (b *Builder) SetParameterNumber(n int) *Builder {
	if n < 0 || n > MaxParameter {
		return b.fail("%w: parameter number %d", ErrOutOfRange, n)
	}
	b.number = n
	return b
}

// SetParameterIndex sets the index byte
func (b *Builder) SetParameterIndex(i int) *Builder {
	if i < 0 || i > 0xFF {
		return b.fail("%w: parameter index %d", ErrOutOfRange, i)
	}
	b.index = i
	return b
}

// SetParameterValue stores v in the value slot using its 32-bit rendition
func (b *Builder) SetParameterValue(v Value) *Builder {
	raw, err := slotValue(v)
	if err != nil {
		return b.fail("parameter value: %w", err)
	}
	b.value = raw
	b.hasTyped = false
	return b
}

// SetParameterValueOf stores a Go number typed by the addressed
// parameter's datatype at Build time
func (b *Builder) SetParameterValueOf(x any) *Builder {
	b.typedValue = x
	b.hasTyped = true
	return b
}

// SetParameterError stores an error number in the value slot
func (b *Builder) SetParameterError(e ParameterError) *Builder {
	b.value = uint32(e)
	b.hasTyped = false
	return b
}

// SetRawValue stores raw bits in the value slot
func (b *Builder) SetRawValue(raw uint32) *Builder {
	b.value = raw
	b.hasTyped = false
	return b
}

// SetFlags sets the raw PZD1 word
func (b *Builder) SetFlags(flags uint16) *Builder {
	b.flags = flags
	return b
}

// SetControlBits sets PZD1 of a query
func (b *Builder) SetControlBits(c ControlBits) *Builder {
	return b.SetFlags(uint16(c))
}

// SetStatusBits sets PZD1 of a reply
func (b *Builder) SetStatusBits(s StatusBits) *Builder {
	return b.SetFlags(uint16(s))
}

// SetFrequency sets the frequency in Hz
func (b *Builder) SetFrequency(hz int) *Builder {
	if hz < 0 || hz > ProcessWordMax {
		return b.fail("%w: frequency %d", ErrOutOfRange, hz)
	}
	b.frequency = uint16(hz)
	return b
}

// SetTemperature sets the temperature in °C
func (b *Builder) SetTemperature(c int) *Builder {
	if c < -32768 || c > 32767 {
		return b.fail("%w: temperature %d", ErrOutOfRange, c)
	}
	b.temperature = int16(c)
	return b
}

// SetCurrent sets the current in units of 0.1 A
func (b *Builder) SetCurrent(deciamps int) *Builder {
	if deciamps < 0 || deciamps > ProcessWordMax {
		return b.fail("%w: current %d", ErrOutOfRange, deciamps)
	}
	b.current = uint16(deciamps)
	return b
}

// SetVoltage sets the voltage in units of 0.1 V
func (b *Builder) SetVoltage(decivolts int) *Builder {
	if decivolts < 0 || decivolts > ProcessWordMax {
		return b.fail("%w: voltage %d", ErrOutOfRange, decivolts)
	}
	b.voltage = uint16(decivolts)
	return b
}

// Build assembles the telegram
func (b *Builder) Build() (Telegram, error) {
	if b.err != nil {
		return Telegram{}, b.err
	}

	code, value := b.code, b.value
	if b.hasMode || b.hasTyped {
		if b.model == nil {
			return Telegram{}, fmt.Errorf("parameter model required to type P%d", b.number)
		}
		d, err := b.model.Lookup(b.number)
		if err != nil {
			return Telegram{}, err
		}
		if b.hasMode {
			c, err := AccessCodeFor(b.mode, d.Indexed(), d.Bits)
			if err != nil {
				return Telegram{}, fmt.Errorf("P%d: %w", b.number, err)
			}
			code = uint8(c)
		}
		if b.hasTyped {
			v, err := ValueOf(d.Datatype, d.Bits, b.typedValue)
			if err != nil {
				return Telegram{}, fmt.Errorf("P%d value: %w", b.number, err)
			}
			if value, err = slotValue(v); err != nil {
				return Telegram{}, fmt.Errorf("P%d value: %w", b.number, err)
			}
		}
	}

	var t Telegram
	d := t.data[:]
	d[offsetSTX] = StartByte
	d[offsetLGE] = LengthByte
	d[offsetAddress] = b.address
	ByteOrder.PutUint16(d[offsetPKE:], uint16(code)<<codeShift|uint16(b.number&numberMask))
	d[offsetIndex] = byte(b.index)
	ByteOrder.PutUint32(d[offsetValue:], value)
	ByteOrder.PutUint16(d[offsetFlags:], b.flags)
	ByteOrder.PutUint16(d[offsetFrequency:], b.frequency)
	ByteOrder.PutUint16(d[offsetTemp:], uint16(b.temperature))
	ByteOrder.PutUint16(d[offsetCurrent:], b.current)
	ByteOrder.PutUint16(d[offsetVoltage:], b.voltage)
	d[offsetBCC] = CalculateBCC(d[:offsetBCC])
	return t, nil
}

// slotValue returns the 32-bit wire rendition of a parameter value.
// Signed values are sign-extended.
func slotValue(v Value) (uint32, error) {
	if v.Bits() == 0 {
		return 0, nil
	}
	wide, err := v.Resize(ValueSlotBits)
	if err != nil {
		return 0, err
	}
	return uint32(wide.Raw()), nil
}
