// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpump

import (
	"testing"

	"github.com/Thermoquad/turboctl/pkg/turbovac"
	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	cmdOn  = uss.ControlCommand | uss.ControlOn
	cmdOff = uss.ControlCommand
)

func newTestStore(t testing.TB) *uss.Store {
	t.Helper()
	m, err := turbovac.DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel failed: %v", err)
	}
	return uss.NewStore(m)
}

func newTestHardware(t testing.TB) (*Hardware, *uss.Store) {
	t.Helper()
	s := newTestStore(t)
	return NewHardware(s, DefaultHardwareConfig()), s
}

func storedInt(t testing.TB, s *uss.Store, number, index int) int64 {
	t.Helper()
	v, err := s.Get(number, index)
	if err != nil {
		t.Fatalf("Get(%d, %d) failed: %v", number, index, err)
	}
	return v.Int()
}

// ============================================================
// Rotor Tests
// ============================================================

func TestHardware_RunUp(t *testing.T) {
	h, _ := newTestHardware(t)

	// 1200 Hz at 100 Hz/s in 0.1 s steps
	const steps = 120
	for i := 1; i <= steps; i++ {
		status := h.Step(cmdOn, 0)
		if h.Frequency() != 10*i {
			t.Fatalf("step %d: expected %d Hz, got %d", i, 10*i, h.Frequency())
		}
		want := uss.StatusParamChannel | uss.StatusProcessChannel | uss.StatusOperation |
			uss.StatusTurning | uss.StatusAcceleration
		if status&want != want {
			t.Fatalf("step %d: status %s missing %s", i, status, want)
		}
	}

	for i := 0; i < 10; i++ {
		status := h.Step(cmdOn, 0)
		if h.Frequency() != 1200 {
			t.Fatalf("overshoot: %d Hz", h.Frequency())
		}
		if status.Has(uss.StatusAcceleration) || status.Has(uss.StatusDeceleration) {
			t.Fatalf("steady state should not report acceleration: %s", status)
		}
	}
}

func TestHardware_RunDown(t *testing.T) {
	h, _ := newTestHardware(t)
	for i := 0; i < 20; i++ {
		h.Step(cmdOn, 0)
	}
	if h.Frequency() != 200 {
		t.Fatalf("expected 200 Hz, got %d", h.Frequency())
	}

	status := h.Step(cmdOff, 0)
	if h.Frequency() != 190 {
		t.Errorf("expected 190 Hz, got %d", h.Frequency())
	}
	if !status.Has(uss.StatusDeceleration|uss.StatusReady|uss.StatusTurning) || status.Has(uss.StatusOperation) {
		t.Errorf("unexpected status while stopping: %s", status)
	}
	if h.Voltage() != 0 {
		t.Errorf("voltage should drop when switched off, got %d", h.Voltage())
	}

	for i := 0; i < 19; i++ {
		h.Step(cmdOff, 0)
	}
	if h.Frequency() != 0 {
		t.Errorf("expected a stopped rotor, got %d Hz", h.Frequency())
	}
	if status := h.Step(cmdOff, 0); status.Has(uss.StatusTurning) || h.Current() != 0 {
		t.Errorf("stopped rotor: status %s current %d", status, h.Current())
	}
}

func TestHardware_NoCommandKeepsState(t *testing.T) {
	h, _ := newTestHardware(t)
	h.Step(cmdOn, 0)

	status := h.Step(uss.ControlOn, 0)
	if !h.On() || h.Frequency() != 20 {
		t.Errorf("expected the motor to keep running, on=%v frequency=%d", h.On(), h.Frequency())
	}
	if status.Has(uss.StatusProcessChannel) {
		t.Errorf("PROCESS_CHANNEL should follow COMMAND: %s", status)
	}

	h.Step(0, 0)
	if !h.On() {
		t.Error("a telegram without COMMAND should not switch the motor off")
	}
}

func TestHardware_SetpointOverride(t *testing.T) {
	h, _ := newTestHardware(t)
	for i := 0; i < 100; i++ {
		h.Step(cmdOn|uss.ControlSetpoint, 500)
	}
	if h.Frequency() != 500 {
		t.Errorf("expected 500 Hz, got %d", h.Frequency())
	}

	// SETPOINT is only honoured together with COMMAND
	h.Step(uss.ControlSetpoint, 300)
	if h.Frequency() != 510 {
		t.Errorf("expected run-up toward P24, got %d Hz", h.Frequency())
	}
}

func TestHardware_SetpointClamped(t *testing.T) {
	h, s := newTestHardware(t)

	for i := 0; i < 50; i++ {
		h.Step(cmdOn|uss.ControlSetpoint, 100)
	}
	if h.Frequency() != 250 {
		t.Errorf("override below P20 should be limited to 250 Hz, got %d", h.Frequency())
	}

	sp, _ := uss.NewUint(50, 16)
	if err := s.SetUnchecked(turbovac.ParamSetpoint, 0, sp); err != nil {
		t.Fatalf("SetUnchecked failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		h.Step(cmdOn, 0)
	}
	if h.Frequency() != 250 {
		t.Errorf("stored setpoint below P20 should be limited to 250 Hz, got %d", h.Frequency())
	}
}

// ============================================================
// Readout Tests
// ============================================================

func TestHardware_PublishesReadouts(t *testing.T) {
	h, s := newTestHardware(t)
	for i := 0; i < 30; i++ {
		h.Step(cmdOn, 0)
	}

	if got := storedInt(t, s, turbovac.ParamFrequency, 0); got != int64(h.Frequency()) {
		t.Errorf("P3: expected %d, got %d", h.Frequency(), got)
	}
	if got := storedInt(t, s, turbovac.ParamCurrent, 0); got != int64(h.Current()) {
		t.Errorf("P5: expected %d, got %d", h.Current(), got)
	}
	if got := storedInt(t, s, turbovac.ParamVoltage, 0); got != 240 {
		t.Errorf("P4: expected 240, got %d", got)
	}
	if got := storedInt(t, s, turbovac.ParamMotorTemp, 0); got != int64(h.Temperature()) {
		t.Errorf("P7: expected %d, got %d", h.Temperature(), got)
	}
	if h.OperatingHours() <= 0 {
		t.Error("operating hours should accumulate while on")
	}
}

func TestHardware_CurrentAndTemperature(t *testing.T) {
	h, _ := newTestHardware(t)
	if h.Temperature() != 25 || h.Current() != 0 {
		t.Fatalf("expected ambient and idle, got %d °C %d", h.Temperature(), h.Current())
	}

	h.Step(cmdOn, 0)
	// idle 1 A plus 4 A boost while accelerating
	if h.Current() != 50 {
		t.Errorf("expected 5.0 A, got %d", h.Current())
	}

	prev := h.temperature
	for i := 0; i < 50; i++ {
		h.Step(cmdOn, 0)
		if h.temperature < prev {
			t.Fatalf("temperature fell while heating: %g -> %g", prev, h.temperature)
		}
		prev = h.temperature
	}
	if h.Temperature() != 30 {
		t.Errorf("expected 30 °C after 5.1 s at 1 °C/s, got %d", h.Temperature())
	}
}

func TestHardware_GasLoadScalesCurrent(t *testing.T) {
	h, s := newTestHardware(t)
	for i := 0; i < 130; i++ {
		h.Step(cmdOn, 0)
	}
	if h.Current() != 10 {
		t.Fatalf("expected 1.0 A at full speed, got %d", h.Current())
	}

	if err := s.Set(turbovac.ParamGasLoad, 0, uss.NewFloat(3)); err != nil {
		t.Fatalf("Set gas load failed: %v", err)
	}
	h.Step(cmdOn, 0)
	if h.Current() != 30 {
		t.Errorf("expected 3.0 A with gas load 3, got %d", h.Current())
	}
}

func TestHardware_UnstorableReadoutLogged(t *testing.T) {
	cfg := DefaultHardwareConfig()
	cfg.AmbientTemp = -10
	// a negative temperature does not fit the unsigned frequency readout
	cfg.Parameters.Frequency = 0
	cfg.Parameters.MotorTemp = turbovac.ParamFrequency
	s := newTestStore(t)
	h := NewHardware(s, cfg)

	logger, hook := test.NewNullLogger()
	h.SetLogger(logger)
	h.Step(0, 0)

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %v", hook.AllEntries())
	}
	if entry.Data["parameter"] != turbovac.ParamFrequency || entry.Data["value"] != -10 {
		t.Errorf("unexpected fields %v", entry.Data)
	}
	if got := storedInt(t, s, turbovac.ParamFrequency, 0); got != 0 {
		t.Errorf("readout should stay 0, got %d", got)
	}
}

// ============================================================
// Error and Warning Tests
// ============================================================

func TestHardware_InjectError(t *testing.T) {
	h, s := newTestHardware(t)
	for i := 0; i < 10; i++ {
		h.Step(cmdOn, 0)
	}

	h.InjectError(6)
	h.InjectError(2)

	if h.ActiveError() != 2 || h.On() {
		t.Fatalf("expected error 2 with the motor off, got %d on=%v", h.ActiveError(), h.On())
	}
	if got := storedInt(t, s, turbovac.ParamErrorCount, 0); got != 2 {
		t.Errorf("P40: expected 2, got %d", got)
	}
	if storedInt(t, s, turbovac.ParamErrorList, 0) != 2 || storedInt(t, s, turbovac.ParamErrorList, 1) != 6 {
		t.Error("P171 should list the newest error first")
	}
	if got := storedInt(t, s, turbovac.ParamErrorFrequency, 1); got != 100 {
		t.Errorf("P174[1]: expected 100 Hz at the first error, got %d", got)
	}

	status := h.Step(cmdOn, 0)
	if h.On() || !status.Has(uss.StatusError|uss.StatusSwitchOnLock) || status.Has(uss.StatusOperation) {
		t.Errorf("the motor must stay off until reset: on=%v status=%s", h.On(), status)
	}

	status = h.Step(cmdOn|uss.ControlResetError, 0)
	if h.ActiveError() != 0 || !h.On() || status.Has(uss.StatusError) {
		t.Errorf("RESET_ERROR should clear the error: error=%d on=%v status=%s", h.ActiveError(), h.On(), status)
	}
}

func TestHardware_ResetNeedsCommand(t *testing.T) {
	h, _ := newTestHardware(t)
	h.InjectError(1)
	h.Step(uss.ControlResetError, 0)
	if h.ActiveError() != 1 {
		t.Error("RESET_ERROR without COMMAND should be ignored")
	}
}

func TestHardware_Warnings(t *testing.T) {
	h, s := newTestHardware(t)

	h.InjectWarning(warningOverload)
	h.InjectWarning(warningOverload)
	h.InjectWarning(1)
	h.InjectWarning(16)

	if h.Warnings() != 1<<warningOverload|1<<1 {
		t.Errorf("unexpected warning bits 0x%04X", h.Warnings())
	}
	if got := storedInt(t, s, turbovac.ParamOverloadCount, 0); got != 1 {
		t.Errorf("P41: expected 1, got %d", got)
	}
	if got := storedInt(t, s, turbovac.ParamWarningBits, 0); got != 0x102 {
		t.Errorf("P227: expected 0x102, got 0x%X", got)
	}

	status := h.Step(0, 0)
	if !status.Has(uss.StatusWarning | uss.StatusOverload) {
		t.Errorf("status should report the warnings: %s", status)
	}

	h.ClearWarnings()
	status = h.Step(0, 0)
	if status.Has(uss.StatusWarning) || status.Has(uss.StatusOverload) {
		t.Errorf("warnings should clear: %s", status)
	}
}

func TestHardware_PowerFailure(t *testing.T) {
	h, s := newTestHardware(t)
	h.Step(cmdOn, 0)
	h.PowerFailure()

	if h.On() {
		t.Error("power failure should stop the motor")
	}
	if got := storedInt(t, s, turbovac.ParamPowerFailCount, 0); got != 1 {
		t.Errorf("P43: expected 1, got %d", got)
	}
}

func TestHardware_StepAfterClose(t *testing.T) {
	h, _ := newTestHardware(t)
	h.close()

	defer func() {
		if recover() == nil {
			t.Error("Step on a closed pump should panic")
		}
	}()
	h.Step(0, 0)
}
