// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"fmt"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
)

// StaleAfter is how long a status stays current without a reply
const StaleAfter = 10 * time.Second

// Status is the process data of the latest reply
type Status struct {
	Frequency   int     // Hz
	Temperature int     // °C
	Current     float64 // A
	Voltage     float64 // V
	Bits        uss.StatusBits
	Requested   PumpState
	At          time.Time
}

func statusFrom(r *uss.Reader, requested PumpState, at time.Time) Status {
	return Status{
		Frequency:   r.Frequency(),
		Temperature: r.Temperature(),
		Current:     r.Current(),
		Voltage:     r.Voltage(),
		Bits:        r.StatusBits(),
		Requested:   requested,
		At:          at,
	}
}

// Valid reports whether the status came from a reply
func (s Status) Valid() bool {
	return !s.At.IsZero()
}

// Stale reports whether the status is older than StaleAfter
func (s Status) Stale(now time.Time) bool {
	return !s.Valid() || now.Sub(s.At) > StaleAfter
}

// Running reports whether the rotor turns
func (s Status) Running() bool {
	return s.Bits.Has(uss.StatusTurning)
}

// Fault reports whether the pump has an active error
func (s Status) Fault() bool {
	return s.Bits.Has(uss.StatusError)
}

func (s Status) String() string {
	return fmt.Sprintf("frequency=%dHz temperature=%d°C current=%.1fA voltage=%.1fV pump=%s status=%s",
		s.Frequency, s.Temperature, s.Current, s.Voltage, s.Requested, s.Bits)
}
