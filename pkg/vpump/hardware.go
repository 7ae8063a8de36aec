// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpump

import (
	"io"
	"math"
	"time"

	"github.com/Thermoquad/turboctl/pkg/turbovac"
	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/sirupsen/logrus"
)

// ParameterMap assigns the parameter numbers the hardware reads and writes.
// A zero number disables that readout.
type ParameterMap struct {
	Frequency      int
	Voltage        int
	Current        int
	MotorPower     int
	MotorTemp      int
	ConverterTemp  int
	Setpoint       int
	GasLoad        int
	OperatingHours int
	ErrorCount     int
	OverloadCount  int
	PowerFailCount int
	ErrorList      int
	ErrorFrequency int
	ErrorHours     int
	WarningBits    int
	SaveData       int
}

// DefaultParameterMap returns the TURBOVAC parameter assignment
func DefaultParameterMap() ParameterMap {
	return ParameterMap{
		Frequency:      turbovac.ParamFrequency,
		Voltage:        turbovac.ParamVoltage,
		Current:        turbovac.ParamCurrent,
		MotorPower:     turbovac.ParamMotorPower,
		MotorTemp:      turbovac.ParamMotorTemp,
		ConverterTemp:  turbovac.ParamConverterTemp,
		Setpoint:       turbovac.ParamSetpoint,
		GasLoad:        turbovac.ParamGasLoad,
		OperatingHours: turbovac.ParamOperatingHours,
		ErrorCount:     turbovac.ParamErrorCount,
		OverloadCount:  turbovac.ParamOverloadCount,
		PowerFailCount: turbovac.ParamPowerFailCount,
		ErrorList:      turbovac.ParamErrorList,
		ErrorFrequency: turbovac.ParamErrorFrequency,
		ErrorHours:     turbovac.ParamErrorHours,
		WarningBits:    turbovac.ParamWarningBits,
		SaveData:       turbovac.ParamSaveData,
	}
}

// HardwareConfig holds the physical constants of the simulated pump
type HardwareConfig struct {
	Step         time.Duration // simulated time per step
	Acceleration float64       // Hz/s
	AmbientTemp  float64       // °C
	IdleCurrent  float64       // A while on or turning
	BoostCurrent float64       // A added while accelerating
	Voltage      float64       // V while on
	TempPerAmp   float64       // steady-state °C above ambient per A
	TempRate     float64       // maximum drift in °C/s
	TempWarning  float64       // °C
	Parameters   ParameterMap
}

// DefaultHardwareConfig returns the constants of a TURBOVAC i
func DefaultHardwareConfig() HardwareConfig {
	return HardwareConfig{
		Step:         100 * time.Millisecond,
		Acceleration: 100,
		AmbientTemp:  25,
		IdleCurrent:  1,
		BoostCurrent: 4,
		Voltage:      24,
		TempPerAmp:   5,
		TempRate:     1,
		TempWarning:  60,
		Parameters:   DefaultParameterMap(),
	}
}

// warningOverload is the warning bit that also raises StatusOverload
const warningOverload = 8

// Hardware simulates the rotor and the converter readouts.
// Only one goroutine may step it at a time.
type Hardware struct {
	cfg   HardwareConfig
	store *uss.Store
	log   logrus.FieldLogger

	on           bool
	frequency    float64 // Hz
	acceleration float64 // Hz/s during the last step
	current      float64 // A
	voltage      float64 // V
	temperature  float64 // °C
	hours        float64
	activeError  int
	warnings     uint16
	closed       bool
}

// NewHardware creates a stopped pump at ambient temperature
func NewHardware(store *uss.Store, cfg HardwareConfig) *Hardware {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	h := &Hardware{
		cfg:         cfg,
		store:       store,
		log:         discard,
		temperature: cfg.AmbientTemp,
	}
	h.publish()
	return h
}

// SetLogger sets where readouts the parameter map cannot store are reported
func (h *Hardware) SetLogger(log logrus.FieldLogger) {
	h.log = log
}

// Step advances the simulation by one step and returns the status word.
//
// COMMAND with ON switches the motor on, COMMAND without ON switches it
// off; without COMMAND the state is kept. SETPOINT with COMMAND replaces
// the setpoint parameter with setpoint for this step only.
func (h *Hardware) Step(control uss.ControlBits, setpoint int) uss.StatusBits {
	if h.closed {
		panic("vpump: step on a closed pump")
	}

	command := control.Has(uss.ControlCommand)
	if command {
		if control.Has(uss.ControlResetError) {
			h.activeError = 0
		}
		h.on = control.Has(uss.ControlOn)
	}
	if h.activeError != 0 {
		h.on = false
	}

	goal := 0.0
	if h.on {
		goal = h.setpoint(command && control.Has(uss.ControlSetpoint), setpoint)
	}

	dt := h.cfg.Step.Seconds()
	prev := h.frequency
	h.frequency = approach(h.frequency, goal, h.cfg.Acceleration*dt)
	if dt > 0 {
		h.acceleration = (h.frequency - prev) / dt
	}

	h.current = 0
	if h.on || h.frequency > 0 {
		h.current = h.cfg.IdleCurrent * h.gasLoad()
	}
	if h.acceleration > 0 {
		h.current += h.cfg.BoostCurrent
	}

	h.voltage = 0
	if h.on {
		h.voltage = h.cfg.Voltage
	}

	target := h.cfg.AmbientTemp + h.cfg.TempPerAmp*h.current
	h.temperature = approach(h.temperature, target, h.cfg.TempRate*dt)

	if h.on {
		h.hours += dt / 3600
	}

	h.publish()
	return h.status(command)
}

// setpoint returns the frequency goal clamped to the setpoint limits
func (h *Hardware) setpoint(override bool, value int) float64 {
	num := h.cfg.Parameters.Setpoint
	d, err := h.store.Model().Lookup(num)
	if err != nil {
		return float64(value)
	}
	sp := float64(value)
	if !override {
		v, err := h.store.Get(num, 0)
		if err != nil {
			return 0
		}
		sp = v.Number()
	}
	return math.Max(h.store.Min(d), math.Min(h.store.Max(d), sp))
}

func (h *Hardware) gasLoad() float64 {
	if num := h.cfg.Parameters.GasLoad; num > 0 && h.store.Model().Has(num) {
		if v, err := h.store.Get(num, 0); err == nil {
			return v.Number()
		}
	}
	return 1
}

// approach moves x toward goal by at most step without overshooting
func approach(x, goal, step float64) float64 {
	diff := goal - x
	if math.Abs(diff) <= step+1e-9 {
		return goal
	}
	return x + math.Copysign(step, diff)
}

func (h *Hardware) status(command bool) uss.StatusBits {
	s := uss.StatusParamChannel
	if command {
		s |= uss.StatusProcessChannel
	}
	switch {
	case h.activeError != 0:
		s |= uss.StatusError | uss.StatusSwitchOnLock
	case h.on:
		s |= uss.StatusOperation
	default:
		s |= uss.StatusReady
	}
	if h.Frequency() != 0 {
		s |= uss.StatusTurning
	}
	if h.acceleration > 0 {
		s |= uss.StatusAcceleration
	} else if h.acceleration < 0 {
		s |= uss.StatusDeceleration
	}
	if h.warnings != 0 {
		s |= uss.StatusWarning
	}
	if h.warnings&(1<<warningOverload) != 0 {
		s |= uss.StatusOverload
	}
	if h.temperature >= h.cfg.TempWarning {
		s |= uss.StatusTempWarning
	}
	return s
}

// publish writes the readouts into the parameter store
func (h *Hardware) publish() {
	p := h.cfg.Parameters
	h.set(p.Frequency, 0, h.Frequency())
	h.set(p.Voltage, 0, h.Voltage())
	h.set(p.Current, 0, h.Current())
	h.set(p.MotorPower, 0, int(math.Round(h.voltage*h.current*10)))
	h.set(p.MotorTemp, 0, h.Temperature())
	h.set(p.ConverterTemp, 0, h.Temperature())
	h.set(p.OperatingHours, 0, h.hundredthHours())
	h.set(p.WarningBits, 0, int(h.warnings))
}

func (h *Hardware) set(number, index, value int) {
	if number <= 0 || !h.store.Model().Has(number) {
		return
	}
	d, _ := h.store.Model().Lookup(number)
	v, err := uss.ValueOf(d.Datatype, d.Bits, value)
	if err == nil {
		err = h.store.SetUnchecked(number, index, v)
	}
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"parameter": number,
			"index":     index,
			"value":     value,
		}).WithError(err).Warn("readout not stored")
	}
}

func (h *Hardware) get(number, index int) int {
	if number <= 0 {
		return 0
	}
	v, err := h.store.Get(number, index)
	if err != nil {
		return 0
	}
	return int(v.Int())
}

func (h *Hardware) hundredthHours() int {
	return int(h.hours * 100)
}

// InjectError records an error the way the converter does: the error
// counter increments, the error memories shift and the motor stops until
// RESET_ERROR.
func (h *Hardware) InjectError(code int) {
	p := h.cfg.Parameters
	h.set(p.ErrorCount, 0, h.get(p.ErrorCount, 0)+1)
	h.shift(p.ErrorList, code)
	h.shift(p.ErrorFrequency, h.Frequency())
	h.shift(p.ErrorHours, h.hundredthHours())
	h.activeError = code
	h.on = false
}

// PowerFailure stops the motor and counts a power failure
func (h *Hardware) PowerFailure() {
	p := h.cfg.Parameters
	h.set(p.PowerFailCount, 0, h.get(p.PowerFailCount, 0)+1)
	h.on = false
}

// shift inserts value at index 0 of a list parameter, dropping the oldest
func (h *Hardware) shift(number, value int) {
	if number <= 0 || !h.store.Model().Has(number) {
		return
	}
	d, _ := h.store.Model().Lookup(number)
	for i := d.Slots() - 1; i > 0; i-- {
		h.set(number, i, h.get(number, i-1))
	}
	h.set(number, 0, value)
}

// InjectWarning sets warning bit code (0-15)
func (h *Hardware) InjectWarning(code int) {
	if code < 0 || code > 15 {
		return
	}
	if code == warningOverload && h.warnings&(1<<warningOverload) == 0 {
		p := h.cfg.Parameters
		h.set(p.OverloadCount, 0, h.get(p.OverloadCount, 0)+1)
	}
	h.warnings |= 1 << uint(code)
	h.publish()
}

// ClearWarnings resets every warning bit
func (h *Hardware) ClearWarnings() {
	h.warnings = 0
	h.publish()
}

// On reports whether the motor is switched on
func (h *Hardware) On() bool {
	return h.on
}

// Frequency returns the rotor frequency in whole Hz
func (h *Hardware) Frequency() int {
	return int(h.frequency)
}

// Current returns the motor current in units of 0.1 A
func (h *Hardware) Current() int {
	return int(math.Round(h.current * 10))
}

// Voltage returns the voltage in units of 0.1 V
func (h *Hardware) Voltage() int {
	return int(math.Round(h.voltage * 10))
}

// Temperature returns the temperature in whole °C
func (h *Hardware) Temperature() int {
	return int(math.Round(h.temperature))
}

// OperatingHours returns the accumulated time switched on
func (h *Hardware) OperatingHours() float64 {
	return h.hours
}

// ActiveError returns the pending error number, or 0
func (h *Hardware) ActiveError() int {
	return h.activeError
}

// Warnings returns the warning bits
func (h *Hardware) Warnings() uint16 {
	return h.warnings
}

func (h *Hardware) close() {
	h.closed = true
}
