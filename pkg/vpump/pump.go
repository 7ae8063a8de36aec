// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vpump simulates a TURBOVAC pump behind its USS interface.
//
// A Pump answers query telegrams the way the converter does: the parameter
// block is applied to a parameter store and every exchange advances the
// rotor simulation by one step.
package vpump

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/sirupsen/logrus"
)

// Observer receives every exchange handled by a pump
type Observer interface {
	ObserveExchange(query, reply *uss.Reader, result Result)
	ObserveFrameError(err error)
}

// State is a snapshot of the simulated pump
type State struct {
	On             bool
	Frequency      int     // Hz
	Temperature    int     // °C
	Current        float64 // A
	Voltage        float64 // V
	Status         uss.StatusBits
	ActiveError    int
	Warnings       uint16
	OperatingHours float64
	Saving         bool
}

// Option configures a pump
type Option func(*options)

type options struct {
	hardware HardwareConfig
	access   AccessConfig
	logger   logrus.FieldLogger
	observer Observer
}

// WithHardwareConfig replaces the physical constants
func WithHardwareConfig(cfg HardwareConfig) Option {
	return func(o *options) { o.hardware = cfg }
}

// WithClock sets the clock used for the save cool-down
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.access.Clock = clock }
}

// WithSaveCooldown sets how long the save parameter reports ParamSaving
func WithSaveCooldown(d time.Duration) Option {
	return func(o *options) { o.access.SaveCooldown = d }
}

// WithLogger sets the logger for telegram traffic
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.logger = log }
}

// WithObserver registers an observer
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Pump is a virtual pump. It is safe for concurrent use.
type Pump struct {
	mu       sync.Mutex
	model    *uss.Model
	store    *uss.Store
	hw       *Hardware
	access   *Access
	log      logrus.FieldLogger
	observer Observer
	status   uss.StatusBits
	closed   bool
}

// New creates a stopped pump with the model's default parameter values
func New(model *uss.Model, opts ...Option) *Pump {
	o := options{
		hardware: DefaultHardwareConfig(),
		access:   DefaultAccessConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		o.logger = discard
	}

	store := uss.NewStore(model)
	hw := NewHardware(store, o.hardware)
	hw.SetLogger(o.logger.WithField("component", "hardware"))
	return &Pump{
		model:    model,
		store:    store,
		hw:       hw,
		access:   NewAccess(store, o.access),
		log:      o.logger,
		observer: o.observer,
		status:   uss.StatusParamChannel | uss.StatusReady,
	}
}

// Model returns the pump's parameter model
func (p *Pump) Model() *uss.Model {
	return p.model
}

// Handle answers one raw query telegram. Invalid frames are returned as
// errors and get no reply.
func (p *Pump) Handle(request []byte) ([]byte, error) {
	q, err := uss.Parse(request, p.model)
	if err != nil {
		p.frameError(err)
		return nil, err
	}
	return p.HandleTelegram(q).Telegram().Bytes(), nil
}

// HandleTelegram answers a parsed query. It panics after Close.
func (p *Pump) HandleTelegram(q *uss.Reader) *uss.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("vpump: handle on a closed pump")
	}

	res := p.access.Apply(RequestFrom(q))
	p.status = p.hw.Step(q.ControlBits(), q.Frequency())

	t, err := uss.NewBuilder(p.model).
		SetAddress(q.Address()).
		SetResponseCode(res.Response).
		SetParameterNumber(res.Number).
		SetParameterIndex(res.Index).
		SetRawValue(res.Value).
		SetStatusBits(p.status).
		SetFrequency(p.hw.Frequency()).
		SetTemperature(p.hw.Temperature()).
		SetCurrent(p.hw.Current()).
		SetVoltage(p.hw.Voltage()).
		Build()
	if err != nil {
		// Every field comes from a parsed telegram or a bounded readout
		panic(fmt.Sprintf("vpump: build reply: %v", err))
	}
	reply := uss.NewReader(t, p.model)

	entry := p.log.WithFields(logrus.Fields{
		"parameter": res.Number,
		"index":     res.Index,
		"response":  res.Response.String(),
	})
	if res.Failed {
		entry = entry.WithField("error", res.Err.String())
	}
	entry.Debugf("query % x reply % x", q.Telegram().Bytes(), t.Bytes())

	if p.observer != nil {
		p.observer.ObserveExchange(q, reply, res)
	}
	return reply
}

// InjectError raises a converter error
func (p *Pump) InjectError(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hw.InjectError(code)
	p.log.WithField("code", code).Info("error injected")
}

// InjectWarning raises a warning bit
func (p *Pump) InjectWarning(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hw.InjectWarning(code)
	p.log.WithField("code", code).Info("warning injected")
}

// ClearWarnings resets every warning bit
func (p *Pump) ClearWarnings() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hw.ClearWarnings()
}

// PowerFailure simulates a supply interruption
func (p *Pump) PowerFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hw.PowerFailure()
}

// Parameter returns the current value of a parameter slot
func (p *Pump) Parameter(number, index int) (uss.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Get(number, index)
}

// Snapshot returns the current state
func (p *Pump) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		On:             p.hw.On(),
		Frequency:      p.hw.Frequency(),
		Temperature:    p.hw.Temperature(),
		Current:        float64(p.hw.Current()) / 10,
		Voltage:        float64(p.hw.Voltage()) / 10,
		Status:         p.status,
		ActiveError:    p.hw.ActiveError(),
		Warnings:       p.hw.Warnings(),
		OperatingHours: p.hw.OperatingHours(),
		Saving:         p.access.Saving(),
	}
}

// Close stops the pump. Further telegrams panic.
func (p *Pump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.hw.close()
}
