// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Datatype identifies how the bits of a Value are interpreted
type Datatype int

// Datatype values
const (
	Uint Datatype = iota
	Sint
	Float
	Bin
)

// MaxBits is the widest value the protocol carries
const MaxBits = 32

var (
	// ErrOutOfRange is returned when a value does not fit its declared width
	ErrOutOfRange = errors.New("value out of range")
	// ErrType is returned when a value cannot be converted to a datatype
	ErrType = errors.New("invalid value type")
)

func (d Datatype) String() string {
	switch d {
	case Uint:
		return "uint"
	case Sint:
		return "sint"
	case Float:
		return "real"
	case Bin:
		return "bin"
	default:
		return fmt.Sprintf("datatype(%d)", int(d))
	}
}

// ParseDatatype accepts the names used in parameter tables
func ParseDatatype(s string) (Datatype, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "u", "uint":
		return Uint, nil
	case "s", "sint":
		return Sint, nil
	case "real", "float":
		return Float, nil
	case "bin":
		return Bin, nil
	}
	return 0, fmt.Errorf("%w: unknown datatype %q", ErrType, s)
}

// Value is an immutable fixed-width binary value.
//
// The low Bits() bits of the raw word hold the wire encoding: plain binary
// for Uint and Bin, two's complement for Sint and IEEE-754 binary32 for
// Float.
type Value struct {
	datatype Datatype
	bits     int
	raw      uint64
}

func mask(bits int) uint64 {
	return 1<<uint(bits) - 1
}

// MaxUint returns the largest unsigned value of the given width
func MaxUint(bits int) uint64 {
	return mask(bits)
}

// MinSint returns the smallest signed value of the given width
func MinSint(bits int) int64 {
	return -(int64(1) << uint(bits-1))
}

// MaxSint returns the largest signed value of the given width
func MaxSint(bits int) int64 {
	return int64(1)<<uint(bits-1) - 1
}

func checkWidth(dt Datatype, bits int) error {
	switch dt {
	case Float:
		if bits != 32 {
			return fmt.Errorf("%w: real values are 32 bits, got %d", ErrOutOfRange, bits)
		}
	case Sint:
		if bits < 2 || bits > MaxBits {
			return fmt.Errorf("%w: invalid sint width %d", ErrOutOfRange, bits)
		}
	case Uint, Bin:
		if bits < 1 || bits > MaxBits {
			return fmt.Errorf("%w: invalid %s width %d", ErrOutOfRange, dt, bits)
		}
	default:
		return fmt.Errorf("%w: %s", ErrType, dt)
	}
	return nil
}

// NewUint creates an unsigned value
func NewUint(v uint64, bits int) (Value, error) {
	if err := checkWidth(Uint, bits); err != nil {
		return Value{}, err
	}
	if v > MaxUint(bits) {
		return Value{}, fmt.Errorf("%w: %d does not fit uint%d", ErrOutOfRange, v, bits)
	}
	return Value{datatype: Uint, bits: bits, raw: v}, nil
}

// NewSint creates a two's complement signed value
func NewSint(v int64, bits int) (Value, error) {
	if err := checkWidth(Sint, bits); err != nil {
		return Value{}, err
	}
	if v < MinSint(bits) || v > MaxSint(bits) {
		return Value{}, fmt.Errorf("%w: %d does not fit sint%d", ErrOutOfRange, v, bits)
	}
	return Value{datatype: Sint, bits: bits, raw: uint64(v) & mask(bits)}, nil
}

// NewFloat creates a 32-bit real value
func NewFloat(v float32) Value {
	return Value{datatype: Float, bits: 32, raw: uint64(math.Float32bits(v))}
}

// NewBin creates a bit vector from the low bits of raw
func NewBin(raw uint64, bits int) (Value, error) {
	if err := checkWidth(Bin, bits); err != nil {
		return Value{}, err
	}
	if raw > mask(bits) {
		return Value{}, fmt.Errorf("%w: 0x%X does not fit %d bits", ErrOutOfRange, raw, bits)
	}
	return Value{datatype: Bin, bits: bits, raw: raw}, nil
}

// ParseBin creates a bit vector from a string of '0' and '1', most
// significant bit first
func ParseBin(s string) (Value, error) {
	var raw uint64
	for _, c := range s {
		switch c {
		case '0':
			raw <<= 1
		case '1':
			raw = raw<<1 | 1
		default:
			return Value{}, fmt.Errorf("%w: invalid bit string %q", ErrType, s)
		}
	}
	return NewBin(raw, len(s))
}

// ValueOf converts a Go number to a value of the given datatype and width
func ValueOf(dt Datatype, bits int, x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v.Convert(dt, bits)
	}

	var (
		i       int64
		u       uint64
		f       float64
		isFloat bool
		isUint  bool
	)
	switch n := x.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint:
		u, isUint = uint64(n), true
	case uint8:
		u, isUint = uint64(n), true
	case uint16:
		u, isUint = uint64(n), true
	case uint32:
		u, isUint = uint64(n), true
	case uint64:
		u, isUint = n, true
	case float32:
		f, isFloat = float64(n), true
	case float64:
		f, isFloat = n, true
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrType, x)
	}

	switch dt {
	case Float:
		if err := checkWidth(Float, bits); err != nil {
			return Value{}, err
		}
		switch {
		case isFloat:
		case isUint:
			f = float64(u)
		default:
			f = float64(i)
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return Value{}, fmt.Errorf("%w: %g does not fit real32", ErrOutOfRange, f)
		}
		return NewFloat(float32(f)), nil

	case Uint, Bin:
		if isFloat {
			if f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
				return Value{}, fmt.Errorf("%w: %g is not a valid %s", ErrOutOfRange, f, dt)
			}
			u, isUint = uint64(f), true
		}
		if !isUint {
			if i < 0 {
				return Value{}, fmt.Errorf("%w: %d is negative", ErrOutOfRange, i)
			}
			u = uint64(i)
		}
		if dt == Bin {
			return NewBin(u, bits)
		}
		return NewUint(u, bits)

	case Sint:
		if isFloat {
			if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
				return Value{}, fmt.Errorf("%w: %g is not a valid sint", ErrOutOfRange, f)
			}
			i = int64(f)
		} else if isUint {
			if u > math.MaxInt64 {
				return Value{}, fmt.Errorf("%w: %d does not fit sint%d", ErrOutOfRange, u, bits)
			}
			i = int64(u)
		}
		return NewSint(i, bits)
	}
	return Value{}, fmt.Errorf("%w: %s", ErrType, dt)
}

// ParseValue parses user input into a value of the given datatype and width
func ParseValue(dt Datatype, bits int, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch dt {
	case Float:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrType, s)
		}
		return ValueOf(Float, bits, f)
	case Bin:
		if strings.HasPrefix(s, "0b") {
			v, err := ParseBin(s[2:])
			if err != nil {
				return Value{}, err
			}
			return v.Convert(Bin, bits)
		}
		fallthrough
	case Uint:
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an unsigned integer", ErrType, s)
		}
		return ValueOf(dt, bits, u)
	case Sint:
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer", ErrType, s)
		}
		return ValueOf(Sint, bits, i)
	}
	return Value{}, fmt.Errorf("%w: %s", ErrType, dt)
}

// DecodeValue decodes a big-endian byte sequence of exactly (bits+7)/8
// bytes. Bits set above the declared width are an error.
func DecodeValue(dt Datatype, bits int, b []byte) (Value, error) {
	if err := checkWidth(dt, bits); err != nil {
		return Value{}, err
	}
	if want := (bits + 7) / 8; len(b) != want {
		return Value{}, fmt.Errorf("%w: %d bytes for a %d-bit value", ErrOutOfRange, len(b), bits)
	}
	var raw uint64
	for _, c := range b {
		raw = raw<<8 | uint64(c)
	}
	if raw > mask(bits) {
		return Value{}, fmt.Errorf("%w: 0x%X does not fit %d bits", ErrOutOfRange, raw, bits)
	}
	return Value{datatype: dt, bits: bits, raw: raw}, nil
}

// DecodeLittleEndian is DecodeValue for little-endian input
func DecodeLittleEndian(dt Datatype, bits int, b []byte) (Value, error) {
	reversed := make([]byte, len(b))
	for i, c := range b {
		reversed[len(b)-1-i] = c
	}
	return DecodeValue(dt, bits, reversed)
}

// FromBytes decodes a value whose width is the full length of b
func FromBytes(dt Datatype, b []byte) (Value, error) {
	return DecodeValue(dt, 8*len(b), b)
}

// Datatype returns the value's datatype
func (v Value) Datatype() Datatype {
	return v.datatype
}

// Bits returns the declared width
func (v Value) Bits() int {
	return v.bits
}

// Raw returns the encoded bits
func (v Value) Raw() uint64 {
	return v.raw
}

// Uint returns the encoded bits as an unsigned integer
func (v Value) Uint() uint64 {
	return v.raw
}

// Int returns the integer meaning of the value
func (v Value) Int() int64 {
	switch v.datatype {
	case Sint:
		if v.bits > 0 && v.raw&(1<<uint(v.bits-1)) != 0 {
			return int64(v.raw) - int64(1)<<uint(v.bits)
		}
		return int64(v.raw)
	case Float:
		return int64(v.Float())
	default:
		return int64(v.raw)
	}
}

// Float returns the real meaning of a Float value
func (v Value) Float() float32 {
	if v.datatype != Float {
		return float32(v.Number())
	}
	return math.Float32frombits(uint32(v.raw))
}

// Number returns the numeric meaning of the value as a float64
func (v Value) Number() float64 {
	switch v.datatype {
	case Float:
		return float64(math.Float32frombits(uint32(v.raw)))
	case Sint:
		return float64(v.Int())
	default:
		return float64(v.raw)
	}
}

// Bit reports bit i, counted from the least significant bit
func (v Value) Bit(i int) bool {
	if i < 0 || i >= v.bits {
		return false
	}
	return v.raw&(1<<uint(i)) != 0
}

// WithBit returns a copy with bit i set or cleared
func (v Value) WithBit(i int, on bool) Value {
	if i < 0 || i >= v.bits {
		return v
	}
	if on {
		v.raw |= 1 << uint(i)
	} else {
		v.raw &^= 1 << uint(i)
	}
	return v
}

// Convert re-encodes the value's meaning as another datatype and width
func (v Value) Convert(dt Datatype, bits int) (Value, error) {
	if v.datatype == dt && v.bits == bits {
		return v, nil
	}
	switch v.datatype {
	case Float:
		return ValueOf(dt, bits, float64(v.Float()))
	case Sint:
		return ValueOf(dt, bits, v.Int())
	default:
		return ValueOf(dt, bits, v.raw)
	}
}

// Resize changes the width keeping the datatype. Sint values are
// sign-extended.
func (v Value) Resize(bits int) (Value, error) {
	return v.Convert(v.datatype, bits)
}

// Bytes encodes the value big-endian in (bits+7)/8 bytes
func (v Value) Bytes() []byte {
	n := (v.bits + 7) / 8
	b := make([]byte, n)
	raw := v.raw
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(raw)
		raw >>= 8
	}
	return b
}

// LittleEndian encodes the value little-endian in (bits+7)/8 bytes
func (v Value) LittleEndian() []byte {
	b := v.Bytes()
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// Equal reports whether both values have the same type, width and bits
func (v Value) Equal(o Value) bool {
	return v.datatype == o.datatype && v.bits == o.bits && v.raw == o.raw
}

// BinaryString renders the encoded bits, most significant first
func (v Value) BinaryString() string {
	if v.bits == 0 {
		return ""
	}
	s := strconv.FormatUint(v.raw, 2)
	if len(s) < v.bits {
		s = strings.Repeat("0", v.bits-len(s)) + s
	}
	return s
}

func (v Value) String() string {
	switch v.datatype {
	case Sint:
		return strconv.FormatInt(v.Int(), 10)
	case Float:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case Bin:
		return v.BinaryString()
	default:
		return strconv.FormatUint(v.raw, 10)
	}
}
