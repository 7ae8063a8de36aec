// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpump

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/turboctl/pkg/turbovac"
	"github.com/Thermoquad/turboctl/pkg/uss"
)

// recorder is an Observer that keeps everything it sees
type recorder struct {
	mu        sync.Mutex
	results   []Result
	frameErrs []error
}

func (r *recorder) ObserveExchange(query, reply *uss.Reader, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) ObserveFrameError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameErrs = append(r.frameErrs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results), len(r.frameErrs)
}

func newTestPump(t testing.TB, opts ...Option) *Pump {
	t.Helper()
	m, err := turbovac.DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel failed: %v", err)
	}
	p := New(m, opts...)
	t.Cleanup(p.Close)
	return p
}

// query builds a query telegram; configure adds the parameter access
func query(t testing.TB, p *Pump, control uss.ControlBits, configure func(*uss.Builder)) []byte {
	t.Helper()
	b := uss.NewBuilder(p.Model()).SetAddress(1).SetControlBits(control)
	if configure != nil {
		configure(b)
	}
	tel, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return tel.Bytes()
}

func handle(t testing.TB, p *Pump, raw []byte) *uss.Reader {
	t.Helper()
	out, err := p.Handle(raw)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	r, err := uss.Parse(out, p.Model())
	if err != nil {
		t.Fatalf("reply is not a valid telegram: %v", err)
	}
	return r
}

// ============================================================
// Exchange Tests
// ============================================================

func TestPump_ReadParameter(t *testing.T) {
	p := newTestPump(t)
	r := handle(t, p, query(t, p, 0, func(b *uss.Builder) {
		b.SetParameterNumber(turbovac.ParamSetpoint).SetParameterMode(uss.ModeRead)
	}))

	if r.Address() != 1 {
		t.Errorf("reply should echo the address, got %d", r.Address())
	}
	if r.ResponseCode() != uss.ResponseS16 || r.ParameterNumber() != turbovac.ParamSetpoint {
		t.Errorf("unexpected parameter block %s P%d", r.ResponseCode(), r.ParameterNumber())
	}
	if r.ParameterValue().Uint() != 1200 {
		t.Errorf("expected 1200, got %s", r.ParameterValue())
	}
	if r.StatusBits() != uss.StatusParamChannel|uss.StatusReady {
		t.Errorf("expected an idle status, got %s", r.StatusBits())
	}
}

func TestPump_WriteParameter(t *testing.T) {
	p := newTestPump(t)
	r := handle(t, p, query(t, p, 0, func(b *uss.Builder) {
		b.SetParameterNumber(turbovac.ParamSetpoint).SetParameterMode(uss.ModeWrite).SetParameterValueOf(800)
	}))
	if r.ResponseCode() != uss.ResponseS16 || r.ParameterValue().Uint() != 800 {
		t.Errorf("expected 800 echoed, got %s %s", r.ResponseCode(), r.ParameterValue())
	}
	if v, _ := p.Parameter(turbovac.ParamSetpoint, 0); v.Uint() != 800 {
		t.Errorf("expected 800 stored, got %s", v)
	}
}

func TestPump_ErrorReply(t *testing.T) {
	p := newTestPump(t)
	r := handle(t, p, query(t, p, 0, func(b *uss.Builder) {
		b.SetParameterNumber(32).SetParameterIndex(1).SetParameterMode(uss.ModeWrite).SetParameterValueOf(101)
	}))

	e, ok := r.ParameterError()
	if !ok || e != uss.ParamMinMax {
		t.Errorf("expected MINMAX, got %s %v", r.ResponseCode(), e)
	}
	if r.ParameterNumber() != 32 || r.ParameterIndex() != 1 {
		t.Errorf("error reply should echo P32[1], got P%d[%d]", r.ParameterNumber(), r.ParameterIndex())
	}
}

func TestPump_StatusQueriesAreIdempotent(t *testing.T) {
	p := newTestPump(t)
	raw := query(t, p, 0, nil)

	first, err := p.Handle(raw)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := p.Handle(raw)
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if !bytes.Equal(next, first) {
			t.Fatalf("reply %d changed:\n% x\n% x", i, first, next)
		}
	}
}

func TestPump_RunUp(t *testing.T) {
	p := newTestPump(t)
	raw := query(t, p, cmdOn, nil)

	var r *uss.Reader
	for i := 0; i < 125; i++ {
		r = handle(t, p, raw)
	}
	if r.Frequency() != 1200 {
		t.Errorf("expected 1200 Hz, got %d", r.Frequency())
	}
	if !r.StatusBits().Has(uss.StatusOperation | uss.StatusTurning | uss.StatusProcessChannel) {
		t.Errorf("unexpected status %s", r.StatusBits())
	}
	if r.Voltage() != 24 {
		t.Errorf("expected 24 V, got %g", r.Voltage())
	}

	s := p.Snapshot()
	if !s.On || s.Frequency != 1200 || s.Status != r.StatusBits() {
		t.Errorf("snapshot disagrees with the reply: %+v", s)
	}
}

func TestPump_InvalidFrame(t *testing.T) {
	rec := &recorder{}
	p := newTestPump(t, WithObserver(rec))

	raw := query(t, p, 0, nil)
	raw[10] ^= 0xFF
	if _, err := p.Handle(raw); !errors.Is(err, uss.ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
	if _, err := p.Handle(raw[:20]); !errors.Is(err, uss.ErrLength) {
		t.Errorf("expected ErrLength, got %v", err)
	}

	exchanges, frameErrs := rec.counts()
	if exchanges != 0 || frameErrs != 2 {
		t.Errorf("expected 0 exchanges and 2 frame errors, got %d and %d", exchanges, frameErrs)
	}
}

func TestPump_Observer(t *testing.T) {
	rec := &recorder{}
	p := newTestPump(t, WithObserver(rec))

	handle(t, p, query(t, p, 0, func(b *uss.Builder) {
		b.SetParameterNumber(500).SetAccessCode(uss.AccessR)
	}))

	if len(rec.results) != 1 {
		t.Fatalf("expected 1 observed exchange, got %d", len(rec.results))
	}
	if res := rec.results[0]; !res.Failed || res.Err != uss.ParamWrongNumber {
		t.Errorf("expected WRONG_NUM, got %+v", res)
	}
}

func TestPump_SaveCooldown(t *testing.T) {
	clock := newFakeClock()
	p := newTestPump(t, WithClock(clock.Now), WithSaveCooldown(2*time.Second))

	handle(t, p, query(t, p, 0, func(b *uss.Builder) {
		b.SetParameterNumber(turbovac.ParamSaveData).SetParameterMode(uss.ModeWrite).SetParameterValueOf(1)
	}))
	if !p.Snapshot().Saving {
		t.Fatal("snapshot should report saving")
	}

	readSave := query(t, p, 0, func(b *uss.Builder) {
		b.SetParameterNumber(turbovac.ParamSaveData).SetParameterMode(uss.ModeRead)
	})
	clock.Advance(1500 * time.Millisecond)
	if e, ok := handle(t, p, readSave).ParameterError(); !ok || e != uss.ParamSaving {
		t.Errorf("expected SAVING, got %v", e)
	}
	clock.Advance(time.Second)
	if _, ok := handle(t, p, readSave).ParameterError(); ok {
		t.Error("read after the cool-down should succeed")
	}
}

// ============================================================
// Fault Injection Tests
// ============================================================

func TestPump_InjectError(t *testing.T) {
	p := newTestPump(t)
	on := query(t, p, cmdOn, nil)
	handle(t, p, on)

	p.InjectError(3)
	r := handle(t, p, on)
	if !r.StatusBits().Has(uss.StatusError) {
		t.Errorf("expected ERROR, got %s", r.StatusBits())
	}
	if s := p.Snapshot(); s.ActiveError != 3 || s.On {
		t.Errorf("unexpected snapshot %+v", s)
	}

	count := handle(t, p, query(t, p, cmdOn, func(b *uss.Builder) {
		b.SetParameterNumber(turbovac.ParamErrorCount).SetParameterMode(uss.ModeRead)
	}))
	if count.ParameterValue().Uint() != 1 {
		t.Errorf("P40: expected 1, got %s", count.ParameterValue())
	}

	r = handle(t, p, query(t, p, cmdOn|uss.ControlResetError, nil))
	if r.StatusBits().Has(uss.StatusError) || !p.Snapshot().On {
		t.Errorf("RESET_ERROR should clear the error, got %s", r.StatusBits())
	}
}

func TestPump_Warnings(t *testing.T) {
	p := newTestPump(t)
	p.InjectWarning(2)
	r := handle(t, p, query(t, p, 0, nil))
	if !r.StatusBits().Has(uss.StatusWarning) {
		t.Errorf("expected WARNING, got %s", r.StatusBits())
	}
	if p.Snapshot().Warnings != 1<<2 {
		t.Errorf("expected warning bit 2, got 0x%X", p.Snapshot().Warnings)
	}

	p.ClearWarnings()
	r = handle(t, p, query(t, p, 0, nil))
	if r.StatusBits().Has(uss.StatusWarning) {
		t.Errorf("warnings should clear, got %s", r.StatusBits())
	}
}

func TestPump_PowerFailure(t *testing.T) {
	p := newTestPump(t)
	handle(t, p, query(t, p, cmdOn, nil))
	p.PowerFailure()

	// without COMMAND the pump stays off
	handle(t, p, query(t, p, 0, nil))
	if p.Snapshot().On {
		t.Error("power failure should switch the pump off")
	}
	if v, _ := p.Parameter(turbovac.ParamPowerFailCount, 0); v.Uint() != 1 {
		t.Errorf("P43: expected 1, got %s", v)
	}
}

func TestPump_HandleAfterClose(t *testing.T) {
	m, _ := turbovac.DefaultModel()
	p := New(m)
	raw := query(t, p, 0, nil)
	p.Close()

	defer func() {
		if recover() == nil {
			t.Error("Handle on a closed pump should panic")
		}
	}()
	p.Handle(raw)
}
