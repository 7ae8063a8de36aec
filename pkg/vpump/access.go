// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpump

import (
	"errors"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
)

// Request is the parameter block of a query
type Request struct {
	Code   uss.AccessCode
	Number int
	Index  int
	Value  uint32 // raw value slot
}

// RequestFrom extracts the parameter block of a parsed query
func RequestFrom(r *uss.Reader) Request {
	return Request{
		Code:   r.AccessCode(),
		Number: r.ParameterNumber(),
		Index:  r.ParameterIndex(),
		Value:  r.RawValue(),
	}
}

// Result is the parameter block of a reply. Failed results carry the
// error number in Value as the device does.
type Result struct {
	Response uss.ResponseCode
	Number   int
	Index    int
	Value    uint32
	Err      uss.ParameterError
	Failed   bool
}

// AccessConfig configures the parameter access rules
type AccessConfig struct {
	// SaveParameter starts the save cool-down when written
	SaveParameter int
	// SaveCooldown is how long reads of SaveParameter fail with ParamSaving
	SaveCooldown time.Duration
	// Unclamped parameters accept any representable value on write; their
	// users limit the value
	Unclamped []int
	// Clock returns the current time; defaults to time.Now
	Clock func() time.Time
}

// DefaultAccessConfig returns the TURBOVAC access rules
func DefaultAccessConfig() AccessConfig {
	p := DefaultParameterMap()
	return AccessConfig{
		SaveParameter: p.SaveData,
		SaveCooldown:  time.Second,
		Unclamped:     []int{p.Setpoint},
		Clock:         time.Now,
	}
}

// Access applies parameter reads and writes to a store, answering the way
// the converter firmware does
type Access struct {
	store     *uss.Store
	cfg       AccessConfig
	unclamped map[int]bool
	saveUntil time.Time
}

// NewAccess creates the access rules for a store
func NewAccess(store *uss.Store, cfg AccessConfig) *Access {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	a := &Access{
		store:     store,
		cfg:       cfg,
		unclamped: make(map[int]bool, len(cfg.Unclamped)),
	}
	for _, n := range cfg.Unclamped {
		a.unclamped[n] = true
	}
	return a
}

// Saving reports whether the save cool-down is running
func (a *Access) Saving() bool {
	return a.cfg.Clock().Before(a.saveUntil)
}

// Apply runs one request. Failures are reported in the result, never as
// a Go error.
//
// The order of the checks follows what real converters were observed to
// answer; it is not documented by the manufacturer. Index errors win over
// access code errors.
func (a *Access) Apply(req Request) Result {
	if req.Code == uss.AccessNone {
		return Result{
			Response: uss.ResponseNone,
			Number:   req.Number,
			Index:    req.Index,
			Value:    req.Value,
		}
	}

	model := a.store.Model()
	mode := req.Code.Mode()

	d, err := model.Lookup(req.Number)
	if err != nil {
		if model.Reserved(req.Number) && req.Code.Known() {
			switch {
			case mode == uss.ModeRead:
				return fail(req, uss.ParamAccess)
			case req.Index > 0:
				return fail(req, uss.ParamIndex)
			}
		}
		return fail(req, uss.ParamWrongNumber)
	}

	if !d.ValidIndex(req.Index) {
		return fail(req, uss.ParamIndex)
	}
	if !req.Code.Known() || req.Code.Indexed() != d.Indexed() {
		return fail(req, uss.ParamAccess)
	}
	if mode == uss.ModeWrite && req.Code.Bits() != d.Bits {
		return fail(req, uss.ParamAccess)
	}

	if mode == uss.ModeRead {
		if req.Number == a.cfg.SaveParameter && a.Saving() {
			return fail(req, uss.ParamSaving)
		}
		v, err := a.store.Get(req.Number, req.Index)
		if err != nil {
			return fail(req, uss.ParamOther)
		}
		return success(req, d, v)
	}

	if !d.Writable {
		return fail(req, uss.ParamCannotChange)
	}

	v, err := decodeSlot(d, req.Value)
	if err != nil {
		return fail(req, uss.ParamMinMax)
	}
	if a.unclamped[req.Number] {
		err = a.store.SetUnchecked(req.Number, req.Index, v)
	} else {
		err = a.store.Set(req.Number, req.Index, v)
	}
	switch {
	case errors.Is(err, uss.ErrRange), errors.Is(err, uss.ErrOutOfRange):
		return fail(req, uss.ParamMinMax)
	case err != nil:
		return fail(req, uss.ParamOther)
	}

	if req.Number == a.cfg.SaveParameter && v.Number() != 0 {
		a.saveUntil = a.cfg.Clock().Add(a.cfg.SaveCooldown)
	}
	return success(req, d, v)
}

// decodeSlot reads a 32-bit value slot as the parameter's datatype
func decodeSlot(d *uss.Definition, raw uint32) (uss.Value, error) {
	wide, err := uss.DecodeValue(d.Datatype, uss.ValueSlotBits, []byte{
		byte(raw >> 24), byte(raw >> 16), byte(raw >> 8), byte(raw),
	})
	if err != nil {
		return uss.Value{}, err
	}
	return wide.Convert(d.Datatype, d.Bits)
}

func fail(req Request, e uss.ParameterError) Result {
	return Result{
		Response: uss.ResponseError,
		Number:   req.Number,
		Index:    req.Index,
		Value:    uint32(e),
		Err:      e,
		Failed:   true,
	}
}

func success(req Request, d *uss.Definition, v uss.Value) Result {
	raw, _ := v.Convert(d.Datatype, uss.ValueSlotBits)
	return Result{
		Response: uss.ResponseCodeFor(d.Indexed(), d.Bits),
		Number:   req.Number,
		Index:    req.Index,
		Value:    uint32(raw.Raw()),
	}
}
