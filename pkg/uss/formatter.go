// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"fmt"
	"strings"
	"time"
)

// Direction tells whether a telegram travels to or from the pump
type Direction int

// Directions
const (
	Query Direction = iota
	Reply
)

func (d Direction) String() string {
	if d == Reply {
		return "REPLY"
	}
	return "QUERY"
}

// FormatTelegram formats a telegram into a human-readable string
func FormatTelegram(r *Reader, dir Direction, at time.Time) string {
	result := fmt.Sprintf("[%s] %s addr=%d %s\n", at.Format("15:04:05.000"), dir, r.Address(), FormatParameterAccess(r, dir))

	if dir == Query {
		result += fmt.Sprintf("  Control: %s", r.ControlBits())
		if r.ControlBits().Has(ControlSetpoint) {
			result += fmt.Sprintf(", Setpoint: %d Hz", r.Frequency())
		}
		return result + "\n"
	}

	result += fmt.Sprintf("  Status: %s\n", r.StatusBits())
	result += fmt.Sprintf("  Frequency: %d Hz, Temperature: %d °C, Current: %.1f A, Voltage: %.1f V\n",
		r.Frequency(), r.Temperature(), r.Current(), r.Voltage())
	return result
}

// FormatParameterAccess formats the parameter block of a telegram
func FormatParameterAccess(r *Reader, dir Direction) string {
	number, index := r.ParameterNumber(), r.ParameterIndex()

	if dir == Query {
		code := r.AccessCode()
		if code == AccessNone {
			return "NONE"
		}
		s := fmt.Sprintf("%s P%d[%d]", code, number, index)
		if code.Mode() == ModeWrite {
			s += " = " + r.ParameterValue().String()
		}
		return s
	}

	code := r.ResponseCode()
	if perr, ok := r.ParameterError(); ok {
		return fmt.Sprintf("%s P%d[%d] %s", code, number, index, perr.String())
	}
	if code == ResponseNone {
		return "NONE"
	}
	return fmt.Sprintf("%s P%d[%d] = %s", code, number, index, r.ParameterValue())
}

// FormatDefinition formats a parameter definition
func FormatDefinition(d *Definition) string {
	var b strings.Builder
	access := "r"
	if d.Writable {
		access = "r/w"
	}
	fmt.Fprintf(&b, "P%d %s\n", d.Number, d.Name)
	fmt.Fprintf(&b, "  Format: %s, Access: %s", d.Format(), access)
	if d.Indexed() {
		fmt.Fprintf(&b, ", Indices: 0-%d", d.Indices-1)
	}
	b.WriteString("\n")
	if d.Min.IsSet() || d.Max.IsSet() {
		fmt.Fprintf(&b, "  Range: %s .. %s", d.Min, d.Max)
		if d.Unit != "" {
			fmt.Fprintf(&b, " %s", d.Unit)
		}
		b.WriteString("\n")
	}
	defaults := make([]string, 0, len(d.Defaults))
	for _, v := range d.Defaults {
		defaults = append(defaults, v.String())
	}
	if len(defaults) > 0 && allEqual(defaults) {
		defaults = defaults[:1]
	}
	fmt.Fprintf(&b, "  Default: %s\n", strings.Join(defaults, ", "))
	if d.Description != "" {
		fmt.Fprintf(&b, "  %s\n", d.Description)
	}
	return b.String()
}

// FormatErrorOrWarning formats an error or warning description
func FormatErrorOrWarning(kind string, e *ErrorOrWarning) string {
	result := fmt.Sprintf("%s %d: %s\n", kind, e.Number, e.Name)
	if e.PossibleCause != "" {
		result += fmt.Sprintf("  Possible cause: %s\n", e.PossibleCause)
	}
	if e.Remedy != "" {
		result += fmt.Sprintf("  Remedy: %s\n", e.Remedy)
	}
	return result
}

func allEqual(s []string) bool {
	for _, v := range s[1:] {
		if v != s[0] {
			return false
		}
	}
	return true
}
