// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

// Reader is a typed, read-only view of a telegram.
// The parameter value is decoded on first use.
type Reader struct {
	t     Telegram
	model *Model

	value  Value
	typed  bool
	parsed bool
}

// NewReader wraps a telegram. model may be nil, in which case parameter
// values are exposed as raw 32-bit unsigned integers.
func NewReader(t Telegram, model *Model) *Reader {
	return &Reader{t: t, model: model}
}

// Parse validates raw bytes and returns a reader over them
func Parse(b []byte, model *Model) (*Reader, error) {
	t, err := ParseTelegram(b)
	if err != nil {
		return nil, err
	}
	return NewReader(t, model), nil
}

// Telegram returns the underlying frame
func (r *Reader) Telegram() Telegram {
	return r.t
}

// Address returns the device address
func (r *Reader) Address() int {
	return int(r.t.data[offsetAddress])
}

// Code returns the raw 4-bit parameter code
func (r *Reader) Code() uint8 {
	return uint8(r.t.u16(offsetPKE) >> codeShift)
}

// AccessCode interprets the parameter code as a query access code
func (r *Reader) AccessCode() AccessCode {
	return AccessCode(r.Code())
}

// ResponseCode interprets the parameter code as a reply response code
func (r *Reader) ResponseCode() ResponseCode {
	return ResponseCode(r.Code())
}

// ParameterNumber returns the 11-bit parameter number
func (r *Reader) ParameterNumber() int {
	return int(r.t.u16(offsetPKE) & numberMask)
}

// ParameterIndex returns the index byte
func (r *Reader) ParameterIndex() int {
	return int(r.t.data[offsetIndex])
}

// RawValue returns the value slot as an unsigned integer
func (r *Reader) RawValue() uint32 {
	return ByteOrder.Uint32(r.t.data[offsetValue:])
}

func (r *Reader) ensureParsed() {
	if r.parsed {
		return
	}
	r.parsed = true

	raw := r.RawValue()
	r.value, _ = NewUint(uint64(raw), ValueSlotBits)
	if r.model == nil {
		return
	}
	d, err := r.model.Lookup(r.ParameterNumber())
	if err != nil {
		return
	}
	wide, err := DecodeValue(d.Datatype, ValueSlotBits, r.t.data[offsetValue:offsetFlags])
	if err != nil {
		return
	}
	v, err := wide.Convert(d.Datatype, d.Bits)
	if err != nil {
		return
	}
	r.value, r.typed = v, true
}

// ParameterValue returns the value slot decoded with the addressed
// parameter's datatype. Unknown parameters, and values that do not fit the
// parameter's width, fall back to a raw uint32.
func (r *Reader) ParameterValue() Value {
	r.ensureParsed()
	return r.value
}

// Typed reports whether ParameterValue used the parameter's datatype
func (r *Reader) Typed() bool {
	r.ensureParsed()
	return r.typed
}

// ParameterError returns the error number of a reply with ResponseError
func (r *Reader) ParameterError() (ParameterError, bool) {
	if !r.ResponseCode().IsError() {
		return 0, false
	}
	return ParameterError(r.RawValue()), true
}

// Flags returns the raw PZD1 word
func (r *Reader) Flags() uint16 {
	return r.t.u16(offsetFlags)
}

// ControlBits interprets PZD1 as a query control word
func (r *Reader) ControlBits() ControlBits {
	return ControlBits(r.Flags())
}

// StatusBits interprets PZD1 as a reply status word
func (r *Reader) StatusBits() StatusBits {
	return StatusBits(r.Flags())
}

// Frequency returns the frequency in Hz
func (r *Reader) Frequency() int {
	return int(r.t.u16(offsetFrequency))
}

// Temperature returns the temperature in °C
func (r *Reader) Temperature() int {
	return int(int16(r.t.u16(offsetTemp)))
}

// RawCurrent returns the current in units of 0.1 A
func (r *Reader) RawCurrent() int {
	return int(r.t.u16(offsetCurrent))
}

// Current returns the current in A
func (r *Reader) Current() float64 {
	return float64(r.RawCurrent()) / 10
}

// RawVoltage returns the voltage in units of 0.1 V
func (r *Reader) RawVoltage() int {
	return int(r.t.u16(offsetVoltage))
}

// Voltage returns the voltage in V
func (r *Reader) Voltage() float64 {
	return float64(r.RawVoltage()) / 10
}
