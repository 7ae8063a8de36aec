// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import "fmt"

// Store holds the current values of every parameter of one pump.
// It is not safe for concurrent use; the owning pump serialises access.
type Store struct {
	model  *Model
	values map[int][]Value
}

// NewStore creates a store filled with the model's defaults
func NewStore(m *Model) *Store {
	s := &Store{model: m}
	s.Reset()
	return s
}

// Reset restores every parameter to its default
func (s *Store) Reset() {
	s.values = make(map[int][]Value, len(s.model.params))
	for n, d := range s.model.params {
		s.values[n] = append([]Value(nil), d.Defaults...)
	}
}

// Model returns the model the store was built from
func (s *Store) Model() *Model {
	return s.model
}

func (s *Store) slot(number, index int) (*Definition, error) {
	d, err := s.model.Lookup(number)
	if err != nil {
		return nil, err
	}
	if !d.ValidIndex(index) {
		return nil, fmt.Errorf("%w: P%d has %d slot(s), got index %d", ErrIndex, number, d.Slots(), index)
	}
	return d, nil
}

// Get returns the value of a parameter slot
func (s *Store) Get(number, index int) (Value, error) {
	if _, err := s.slot(number, index); err != nil {
		return Value{}, err
	}
	return s.values[number][index], nil
}

// Set validates and stores a value
func (s *Store) Set(number, index int, v Value) error {
	d, err := s.slot(number, index)
	if err != nil {
		return err
	}
	v, err = v.Convert(d.Datatype, d.Bits)
	if err != nil {
		return err
	}
	if err := s.CheckRange(d, v); err != nil {
		return err
	}
	s.values[number][index] = v
	return nil
}

// SetUnchecked stores a value without checking the parameter's limits.
// Hardware readouts and setpoint writes that are clamped later use it.
func (s *Store) SetUnchecked(number, index int, v Value) error {
	d, err := s.slot(number, index)
	if err != nil {
		return err
	}
	v, err = v.Convert(d.Datatype, d.Bits)
	if err != nil {
		return err
	}
	s.values[number][index] = v
	return nil
}

// Min returns the effective lower limit of a parameter
func (s *Store) Min(d *Definition) float64 {
	lo, _ := d.typeLimits()
	return s.resolve(d.Min, lo)
}

// Max returns the effective upper limit of a parameter
func (s *Store) Max(d *Definition) float64 {
	_, hi := d.typeLimits()
	return s.resolve(d.Max, hi)
}

func (s *Store) resolve(b Bound, fallback float64) float64 {
	switch {
	case !b.IsSet():
		return fallback
	case b.IsRef():
		// references always point at index 0
		if vals, ok := s.values[b.RefNumber()]; ok && len(vals) > 0 {
			return vals[0].Number()
		}
		return fallback
	default:
		return b.Value()
	}
}

// CheckRange validates v against the parameter's current limits
func (s *Store) CheckRange(d *Definition, v Value) error {
	n := v.Number()
	lo, hi := s.Min(d), s.Max(d)
	if n < lo || n > hi {
		return fmt.Errorf("%w: P%d accepts %g..%g, got %s", ErrRange, d.Number, lo, hi, v)
	}
	return nil
}
