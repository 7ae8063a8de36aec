// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownParameter is returned for numbers missing from the model
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrIndex is returned for an index outside the parameter's range
	ErrIndex = errors.New("parameter index out of range")
	// ErrRange is returned for a value outside the parameter's limits
	ErrRange = errors.New("value outside parameter limits")
)

// Bound is a parameter limit: either a literal number or a reference to
// the current value of another parameter, written P<number>.
type Bound struct {
	value float64
	ref   int
	set   bool
}

// Literal returns a bound with a fixed value
func Literal(v float64) Bound {
	return Bound{value: v, set: true}
}

// Ref returns a bound that follows index 0 of parameter n
func Ref(n int) Bound {
	return Bound{ref: n, set: true}
}

// ParseBound parses "P18", "1200" or "-5.5". An empty string means no bound.
func ParseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Bound{}, nil
	}
	if s[0] == 'P' || s[0] == 'p' {
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 1 || n > MaxParameter {
			return Bound{}, fmt.Errorf("invalid parameter reference %q", s)
		}
		return Ref(n), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Bound{}, fmt.Errorf("invalid limit %q", s)
	}
	return Literal(f), nil
}

// IsSet reports whether the bound was given
func (b Bound) IsSet() bool {
	return b.set
}

// IsRef reports whether the bound references another parameter
func (b Bound) IsRef() bool {
	return b.set && b.ref > 0
}

// RefNumber returns the referenced parameter number
func (b Bound) RefNumber() int {
	return b.ref
}

// Value returns the literal value
func (b Bound) Value() float64 {
	return b.value
}

func (b Bound) String() string {
	switch {
	case !b.set:
		return ""
	case b.ref > 0:
		return "P" + strconv.Itoa(b.ref)
	default:
		return strconv.FormatFloat(b.value, 'g', -1, 64)
	}
}

// Definition describes one addressable parameter
type Definition struct {
	Number      int
	Name        string
	Description string
	Unit        string
	Datatype    Datatype
	Bits        int
	Writable    bool
	Indices     int // 0 for unindexed parameters
	Min         Bound
	Max         Bound
	Defaults    []Value // one per slot
}

// Indexed reports whether the parameter is addressed with an index
func (d *Definition) Indexed() bool {
	return d.Indices > 0
}

// Slots returns the number of stored values
func (d *Definition) Slots() int {
	if d.Indices > 0 {
		return d.Indices
	}
	return 1
}

// ValidIndex reports whether index addresses a slot. Unindexed parameters
// only accept index 0.
func (d *Definition) ValidIndex(index int) bool {
	return index >= 0 && index < d.Slots()
}

// Format returns the table notation of the datatype, e.g. u16 or real32
func (d *Definition) Format() string {
	switch d.Datatype {
	case Uint:
		return "u" + strconv.Itoa(d.Bits)
	case Sint:
		return "s" + strconv.Itoa(d.Bits)
	default:
		return d.Datatype.String() + strconv.Itoa(d.Bits)
	}
}

// typeLimits returns the representable range of the parameter's datatype
func (d *Definition) typeLimits() (float64, float64) {
	switch d.Datatype {
	case Sint:
		return float64(MinSint(d.Bits)), float64(MaxSint(d.Bits))
	case Float:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return 0, float64(MaxUint(d.Bits))
	}
}

// ErrorOrWarning describes a pump error or warning number
type ErrorOrWarning struct {
	Number        int
	Name          string
	PossibleCause string
	Remedy        string
}

// Model is the immutable parameter, error and warning table of a pump type.
// It is shared by every Store built from it.
type Model struct {
	params   map[int]*Definition
	order    []int
	errors   map[int]*ErrorOrWarning
	warnings map[int]*ErrorOrWarning
	reserved map[int]bool
}

// NewModel validates the definitions and builds a model.
//
// A single default is applied to every index. Reserved numbers are known
// to the device firmware without being accessible; they must not be
// defined parameters.
func NewModel(defs []Definition, errs, warnings []ErrorOrWarning, reserved []int) (*Model, error) {
	m := &Model{
		params:   make(map[int]*Definition, len(defs)),
		errors:   make(map[int]*ErrorOrWarning, len(errs)),
		warnings: make(map[int]*ErrorOrWarning, len(warnings)),
		reserved: make(map[int]bool, len(reserved)),
	}

	for i := range defs {
		d := defs[i]
		if d.Number < 0 || d.Number > MaxParameter {
			return nil, fmt.Errorf("parameter %d: number out of range 0-%d", d.Number, MaxParameter)
		}
		if _, dup := m.params[d.Number]; dup {
			return nil, fmt.Errorf("parameter %d: defined twice", d.Number)
		}
		if d.Bits != 16 && d.Bits != 32 {
			return nil, fmt.Errorf("parameter %d: width must be 16 or 32, got %d", d.Number, d.Bits)
		}
		if err := checkWidth(d.Datatype, d.Bits); err != nil {
			return nil, fmt.Errorf("parameter %d: %w", d.Number, err)
		}
		if d.Datatype == Bin {
			return nil, fmt.Errorf("parameter %d: bin is not a parameter datatype", d.Number)
		}
		if d.Indices < 0 || d.Indices > 0xFF+1 {
			return nil, fmt.Errorf("parameter %d: invalid index count %d", d.Number, d.Indices)
		}

		defaults, err := expandDefaults(&d)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", d.Number, err)
		}
		d.Defaults = defaults
		m.params[d.Number] = &d
		m.order = append(m.order, d.Number)
	}
	sort.Ints(m.order)

	for _, d := range m.params {
		for _, b := range []Bound{d.Min, d.Max} {
			if !b.IsRef() {
				continue
			}
			if _, ok := m.params[b.RefNumber()]; !ok {
				return nil, fmt.Errorf("parameter %d: limit references unknown parameter %d", d.Number, b.RefNumber())
			}
		}
	}

	for i := range errs {
		e := errs[i]
		m.errors[e.Number] = &e
	}
	for i := range warnings {
		w := warnings[i]
		m.warnings[w.Number] = &w
	}
	for _, n := range reserved {
		if _, ok := m.params[n]; ok {
			return nil, fmt.Errorf("reserved number %d is a defined parameter", n)
		}
		m.reserved[n] = true
	}
	return m, nil
}

func expandDefaults(d *Definition) ([]Value, error) {
	slots := d.Slots()
	in := d.Defaults
	if len(in) == 0 {
		zero, err := ValueOf(d.Datatype, d.Bits, 0)
		if err != nil {
			return nil, err
		}
		in = []Value{zero}
	}
	if len(in) != 1 && len(in) != slots {
		return nil, fmt.Errorf("%d defaults for %d slots", len(in), slots)
	}

	out := make([]Value, slots)
	for i := range out {
		src := in[0]
		if len(in) == slots {
			src = in[i]
		}
		v, err := src.Convert(d.Datatype, d.Bits)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

// Lookup returns the definition of parameter number n
func (m *Model) Lookup(n int) (*Definition, error) {
	d, ok := m.params[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParameter, n)
	}
	return d, nil
}

// Has reports whether n is a defined parameter
func (m *Model) Has(n int) bool {
	_, ok := m.params[n]
	return ok
}

// CheckIndex validates an index for parameter n
func (m *Model) CheckIndex(n, index int) error {
	d, err := m.Lookup(n)
	if err != nil {
		return err
	}
	if !d.ValidIndex(index) {
		return fmt.Errorf("%w: P%d has %d slot(s), got index %d", ErrIndex, n, d.Slots(), index)
	}
	return nil
}

// Parameters returns all definitions ordered by number
func (m *Model) Parameters() []*Definition {
	out := make([]*Definition, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.params[n])
	}
	return out
}

// Error returns the description of an error number
func (m *Model) Error(n int) (*ErrorOrWarning, bool) {
	e, ok := m.errors[n]
	return e, ok
}

// Warning returns the description of a warning number
func (m *Model) Warning(n int) (*ErrorOrWarning, bool) {
	w, ok := m.warnings[n]
	return w, ok
}

// Reserved reports whether n is a reserved, inaccessible number
func (m *Model) Reserved(n int) bool {
	return m.reserved[n]
}
