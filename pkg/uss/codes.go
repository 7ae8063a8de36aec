// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"fmt"
	"strings"
)

// ControlBits is the control word sent in PZD1 of a query.
// Bit i of the word is the flag with value 1<<i.
type ControlBits uint16

// Control bit values
const (
	ControlOn ControlBits = 1 << iota
	ControlUnused1
	ControlUnused2
	ControlUnused3
	ControlUnused4
	ControlX201 // air cooling
	ControlSetpoint
	ControlResetError
	ControlStandby
	ControlUnused9
	ControlCommand // enables bits 0, 5, 6, 7, 8, 13, 14 and 15
	ControlX1Error
	ControlX1Warning
	ControlX1Normal
	ControlX202 // packing pump
	ControlX203 // venting valve
)

var controlNames = [16]string{
	"ON", "UNUSED1", "UNUSED2", "UNUSED3", "UNUSED4", "X201", "SETPOINT",
	"RESET_ERROR", "STANDBY", "UNUSED9", "COMMAND", "X1_ERROR", "X1_WARNING",
	"X1_NORMAL", "X202", "X203",
}

// Has reports whether all bits of f are set
func (c ControlBits) Has(f ControlBits) bool {
	return c&f == f
}

// With returns c with the bits of f set
func (c ControlBits) With(f ControlBits) ControlBits {
	return c | f
}

// Without returns c with the bits of f cleared
func (c ControlBits) Without(f ControlBits) ControlBits {
	return c &^ f
}

// Names lists the set bits from bit 0 upwards
func (c ControlBits) Names() []string {
	return flagNames(uint16(c), &controlNames)
}

func (c ControlBits) String() string {
	return formatFlags(uint16(c), &controlNames)
}

// StatusBits is the status word returned in PZD1 of a reply
type StatusBits uint16

// Status bit values
const (
	StatusReady StatusBits = 1 << iota
	StatusUnused1
	StatusOperation
	StatusError
	StatusAcceleration
	StatusDeceleration
	StatusSwitchOnLock
	StatusTempWarning
	StatusUnused8
	StatusParamChannel
	StatusDetained
	StatusTurning
	StatusUnused12
	StatusOverload
	StatusWarning
	StatusProcessChannel
)

var statusNames = [16]string{
	"READY", "UNUSED1", "OPERATION", "ERROR", "ACCELERATION", "DECELERATION",
	"SWITCH_ON_LOCK", "TEMP_WARNING", "UNUSED8", "PARAM_CHANNEL", "DETAINED",
	"TURNING", "UNUSED12", "OVERLOAD", "WARNING", "PROCESS_CHANNEL",
}

// Has reports whether all bits of f are set
func (s StatusBits) Has(f StatusBits) bool {
	return s&f == f
}

// With returns s with the bits of f set
func (s StatusBits) With(f StatusBits) StatusBits {
	return s | f
}

// Without returns s with the bits of f cleared
func (s StatusBits) Without(f StatusBits) StatusBits {
	return s &^ f
}

// Names lists the set bits from bit 0 upwards
func (s StatusBits) Names() []string {
	return flagNames(uint16(s), &statusNames)
}

func (s StatusBits) String() string {
	return formatFlags(uint16(s), &statusNames)
}

func flagNames(word uint16, names *[16]string) []string {
	var out []string
	for i := 0; i < 16; i++ {
		if word&(1<<uint(i)) != 0 {
			out = append(out, names[i])
		}
	}
	return out
}

func formatFlags(word uint16, names *[16]string) string {
	set := flagNames(word, names)
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, "|")
}

// AccessMode is the direction of a parameter access
type AccessMode int

// Access modes
const (
	ModeNone AccessMode = iota
	ModeRead
	ModeWrite
)

func (m AccessMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// AccessCode is the 4-bit parameter access code of a query.
// Every 4-bit value decodes; undocumented ones report Known() == false.
type AccessCode uint8

// Access codes
const (
	AccessNone AccessCode = 0x0
	AccessR    AccessCode = 0x1
	AccessW16  AccessCode = 0x2
	AccessW32  AccessCode = 0x3
	AccessRF   AccessCode = 0x6
	AccessW16F AccessCode = 0x7
	AccessW32F AccessCode = 0x8
)

type accessInfo struct {
	name    string
	mode    AccessMode
	indexed bool
	bits    int // 0 = any width
}

var accessCodes = map[AccessCode]accessInfo{
	AccessNone: {"NONE", ModeNone, false, 0},
	AccessR:    {"R", ModeRead, false, 0},
	AccessW16:  {"W16", ModeWrite, false, 16},
	AccessW32:  {"W32", ModeWrite, false, 32},
	AccessRF:   {"RF", ModeRead, true, 0},
	AccessW16F: {"W16F", ModeWrite, true, 16},
	AccessW32F: {"W32F", ModeWrite, true, 32},
}

// Known reports whether the code is documented
func (c AccessCode) Known() bool {
	_, ok := accessCodes[c]
	return ok
}

// Mode returns the access direction. Unknown codes report ModeNone.
func (c AccessCode) Mode() AccessMode {
	return accessCodes[c].mode
}

// Indexed reports whether the code addresses an indexed parameter
func (c AccessCode) Indexed() bool {
	return accessCodes[c].indexed
}

// Bits returns the value width the code requires, or 0 for any width
func (c AccessCode) Bits() int {
	return accessCodes[c].bits
}

func (c AccessCode) String() string {
	if info, ok := accessCodes[c]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// AccessCodeFor selects the access code for a mode on a parameter
func AccessCodeFor(mode AccessMode, indexed bool, bits int) (AccessCode, error) {
	switch mode {
	case ModeNone:
		return AccessNone, nil
	case ModeRead:
		if indexed {
			return AccessRF, nil
		}
		return AccessR, nil
	case ModeWrite:
		switch {
		case bits == 16 && !indexed:
			return AccessW16, nil
		case bits == 32 && !indexed:
			return AccessW32, nil
		case bits == 16 && indexed:
			return AccessW16F, nil
		case bits == 32 && indexed:
			return AccessW32F, nil
		}
		return 0, fmt.Errorf("no write access code for %d-bit parameters", bits)
	}
	return 0, fmt.Errorf("invalid access mode: %s", mode)
}

// ResponseCode is the 4-bit parameter response code of a reply
type ResponseCode uint8

// Response codes
const (
	ResponseNone  ResponseCode = 0x0
	ResponseS16   ResponseCode = 0x1
	ResponseS32   ResponseCode = 0x2
	ResponseS16F  ResponseCode = 0x4
	ResponseS32F  ResponseCode = 0x5
	ResponseError ResponseCode = 0x7
	// ResponseNoWrite is documented but devices answer write protection with
	// ResponseError and ParamCannotChange
	ResponseNoWrite ResponseCode = 0x8
)

type responseInfo struct {
	name    string
	indexed bool
	bits    int
}

var responseCodes = map[ResponseCode]responseInfo{
	ResponseNone:    {"NONE", false, 0},
	ResponseS16:     {"S16", false, 16},
	ResponseS32:     {"S32", false, 32},
	ResponseS16F:    {"S16F", true, 16},
	ResponseS32F:    {"S32F", true, 32},
	ResponseError:   {"ERROR", false, 0},
	ResponseNoWrite: {"NO_WRITE", false, 0},
}

// Known reports whether the code is documented
func (r ResponseCode) Known() bool {
	_, ok := responseCodes[r]
	return ok
}

// Indexed reports whether the reply carries an indexed value
func (r ResponseCode) Indexed() bool {
	return responseCodes[r].indexed
}

// Bits returns the width of the value sent, or 0
func (r ResponseCode) Bits() int {
	return responseCodes[r].bits
}

// IsError reports whether the reply carries a ParameterError in its value slot
func (r ResponseCode) IsError() bool {
	return r == ResponseError || r == ResponseNoWrite
}

func (r ResponseCode) String() string {
	if info, ok := responseCodes[r]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(r))
}

// ResponseCodeFor selects the success response code for a parameter
func ResponseCodeFor(indexed bool, bits int) ResponseCode {
	switch {
	case bits == 32 && indexed:
		return ResponseS32F
	case bits == 32:
		return ResponseS32
	case indexed:
		return ResponseS16F
	default:
		return ResponseS16
	}
}

// ParameterError is the error number a pump sends in the value slot of a
// reply with ResponseError.
type ParameterError uint16

// Parameter error numbers. ParamIndex, ParamAccess and ParamSaving are not
// in the manual; pumps were observed to send them.
const (
	ParamWrongNumber  ParameterError = 0
	ParamCannotChange ParameterError = 1
	ParamMinMax       ParameterError = 2
	ParamIndex        ParameterError = 3
	ParamAccess       ParameterError = 5
	ParamOther        ParameterError = 18
	ParamSaving       ParameterError = 102
)

var parameterErrors = map[ParameterError][2]string{
	ParamWrongNumber:  {"WRONG_NUM", "impermissible parameter number"},
	ParamCannotChange: {"CANNOT_CHANGE", "parameter cannot be changed"},
	ParamMinMax:       {"MINMAX", "value outside the parameter's limits"},
	ParamIndex:        {"INDEX", "erroneous subindex"},
	ParamAccess:       {"ACCESS", "access code does not match the parameter"},
	ParamOther:        {"OTHER", "other error"},
	ParamSaving:       {"SAVING", "saving to nonvolatile memory in progress"},
}

// Known reports whether the error number is documented or observed
func (e ParameterError) Known() bool {
	_, ok := parameterErrors[e]
	return ok
}

func (e ParameterError) String() string {
	if info, ok := parameterErrors[e]; ok {
		return info[0]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(e))
}

// Error implements the error interface
func (e ParameterError) Error() string {
	if info, ok := parameterErrors[e]; ok {
		return fmt.Sprintf("parameter error %d (%s): %s", uint16(e), info[0], info[1])
	}
	return fmt.Sprintf("parameter error %d (unknown)", uint16(e))
}
