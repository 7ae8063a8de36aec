// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package turbovac

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
)

// ============================================================
// Built-in Table Tests
// ============================================================

func TestDefaultModel_Loads(t *testing.T) {
	m, err := DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel failed: %v", err)
	}
	again, _ := DefaultModel()
	if m != again {
		t.Error("DefaultModel should return the shared model")
	}

	for _, n := range []int{
		ParamFrequency, ParamVoltage, ParamCurrent, ParamMotorPower, ParamMotorTemp,
		ParamSaveData, ParamConverterTemp, ParamMaxFrequency, ParamMinFrequency,
		ParamSetpoint, ParamErrorCount, ParamOverloadCount, ParamPowerFailCount,
		ParamErrorList, ParamErrorFrequency, ParamErrorHours, ParamOperatingHours,
		ParamMaintenance, ParamGasLoad, ParamWarningBits,
	} {
		if !m.Has(n) {
			t.Errorf("P%d missing from the built-in table", n)
		}
	}
	if !m.Reserved(ParamReserved) {
		t.Errorf("P%d should be reserved", ParamReserved)
	}
}

func TestDefaultModel_Definitions(t *testing.T) {
	m, err := DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel failed: %v", err)
	}

	tests := []struct {
		number   int
		format   string
		writable bool
		indices  int
	}{
		{ParamSaveData, "s16", true, 0},
		{ParamSetpoint, "u16", true, 0},
		{32, "u16", true, 3},
		{ParamErrorList, "u16", false, 254},
		{ParamErrorHours, "s32", false, 254},
		{ParamMaintenance, "u32", true, 0},
		{ParamGasLoad, "real32", true, 0},
	}
	for _, tt := range tests {
		d, err := m.Lookup(tt.number)
		if err != nil {
			t.Errorf("P%d: %v", tt.number, err)
			continue
		}
		if d.Format() != tt.format || d.Writable != tt.writable || d.Indices != tt.indices {
			t.Errorf("P%d: expected %s writable=%v indices=%d, got %s writable=%v indices=%d",
				tt.number, tt.format, tt.writable, tt.indices, d.Format(), d.Writable, d.Indices)
		}
	}
}

func TestDefaultModel_Defaults(t *testing.T) {
	m, _ := DefaultModel()
	s := uss.NewStore(m)

	for i, want := range []uint64{80, 50, 20} {
		v, err := s.Get(32, i)
		if err != nil {
			t.Fatalf("P32[%d]: %v", i, err)
		}
		if v.Uint() != want {
			t.Errorf("P32[%d]: expected %d, got %d", i, want, v.Uint())
		}
	}

	d, _ := m.Lookup(ParamSetpoint)
	if s.Min(d) != 250 || s.Max(d) != 1200 {
		t.Errorf("setpoint limits: expected 250..1200, got %g..%g", s.Min(d), s.Max(d))
	}

	gas, _ := s.Get(ParamGasLoad, 0)
	if gas.Datatype() != uss.Float || gas.Float() != 1 {
		t.Errorf("gas load: expected real 1, got %s", gas)
	}
}

func TestDefaultModel_Notices(t *testing.T) {
	m, _ := DefaultModel()
	if e, ok := m.Error(1); !ok || e.Name == "" {
		t.Error("error 1 should be described")
	}
	if w, ok := m.Warning(8); !ok || w.Name == "" {
		t.Error("warning 8 should be described")
	}
}

// ============================================================
// Load Tests
// ============================================================

func TestLoad_Minimal(t *testing.T) {
	m, err := Load([]byte(`
parameters:
  - number: 5
    name: Five
    format: s32
    access: r/w
    min: "-10"
    max: "10"
    default: -3
reserved: [6]
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d, err := m.Lookup(5)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if d.Format() != "s32" || !d.Writable || d.Defaults[0].Int() != -3 {
		t.Errorf("unexpected definition %+v", d)
	}
	if !m.Reserved(6) {
		t.Error("P6 should be reserved")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "parameters: [\n"},
		{"format", "parameters:\n  - {number: 1, format: u}\n"},
		{"datatype", "parameters:\n  - {number: 1, format: q16}\n"},
		{"access", "parameters:\n  - {number: 1, format: u16, access: w}\n"},
		{"bound", "parameters:\n  - {number: 1, format: u16, min: P}\n"},
		{"default", "parameters:\n  - {number: 1, format: u16, default: -1}\n"},
		{"reference", "parameters:\n  - {number: 1, format: u16, max: P2}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_DefaultRange(t *testing.T) {
	_, err := Load([]byte("parameters:\n  - {number: 1, format: u16, default: 70000}\n"))
	if !errors.Is(err, uss.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	if err := os.WriteFile(path, defaultTable, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !m.Has(ParamSetpoint) {
		t.Error("loaded table should define the setpoint")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

// ============================================================
// Parameter Value Round Trip Tests
// ============================================================

// legalValues returns the limits, the defaults and random values inside
// the limits of a parameter, as Go numbers
func legalValues(d *uss.Definition, store *uss.Store, rng *rand.Rand) []any {
	lo, hi := store.Min(d), store.Max(d)
	var out []any
	if d.Datatype == uss.Float {
		out = append(out, lo, hi)
		for i := 0; i < 8; i++ {
			out = append(out, lo+rng.Float64()*(hi-lo))
		}
	} else {
		ilo, ihi := int64(math.Ceil(lo)), int64(math.Floor(hi))
		out = append(out, ilo, ihi)
		for i := 0; i < 8; i++ {
			out = append(out, ilo+rng.Int63n(ihi-ilo+1))
		}
	}
	for _, v := range d.Defaults {
		out = append(out, v)
	}
	return out
}

func TestDefaultModel_ValueRoundTrip(t *testing.T) {
	m, err := DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel failed: %v", err)
	}
	store := uss.NewStore(m)

	seed := time.Now().UnixNano()
	if env := os.Getenv("FUZZ_SEED"); env != "" {
		if parsed, err := strconv.ParseInt(env, 10, 64); err == nil {
			seed = parsed
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	rng := rand.New(rand.NewSource(seed))

	for _, d := range m.Parameters() {
		for _, x := range legalValues(d, store, rng) {
			want, err := uss.ValueOf(d.Datatype, d.Bits, x)
			if err != nil {
				t.Fatalf("P%d: ValueOf(%v) failed: %v", d.Number, x, err)
			}
			tel, err := uss.NewBuilder(m).
				SetParameterMode(uss.ModeWrite).
				SetParameterNumber(d.Number).
				SetParameterIndex(d.Slots() - 1).
				SetParameterValue(want).
				Build()
			if err != nil {
				t.Fatalf("P%d: Build(%s) failed: %v", d.Number, want, err)
			}
			r, err := uss.Parse(tel.Bytes(), m)
			if err != nil {
				t.Fatalf("P%d: Parse failed: %v", d.Number, err)
			}
			if got := r.ParameterValue(); !got.Equal(want) || !r.Typed() {
				t.Errorf("P%d: sent %s %s, got %s %s", d.Number, d.Format(), want, got.Datatype(), got)
			}
		}
	}
}
