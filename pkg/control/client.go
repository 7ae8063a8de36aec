// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package control talks to a TURBOVAC pump, real or virtual, over any
// byte transport.
package control

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/turboctl/pkg/turbovac"
	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/sirupsen/logrus"
)

// ErrNoReply is returned when no valid reply arrives in time
var ErrNoReply = errors.New("no reply from pump")

// drainTimeout is the read timeout used to flush stale input before a query
const drainTimeout = time.Millisecond

// ReplyError is a parameter access rejected by the pump
type ReplyError struct {
	Number int
	Index  int
	Err    uss.ParameterError
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("P%d[%d]: %s", e.Number, e.Index, e.Err)
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}

// ReadTimeouter is implemented by transports with serial-port style read
// timeouts
type ReadTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

// PumpState is what the client asks the pump to do in every query
type PumpState int

const (
	// PumpUnknown sends no COMMAND bit, leaving the pump as it is
	PumpUnknown PumpState = iota
	PumpOn
	PumpOff
)

func (s PumpState) String() string {
	switch s {
	case PumpOn:
		return "on"
	case PumpOff:
		return "off"
	}
	return "unknown"
}

// Client sends commands to one pump. It is safe for concurrent use;
// exchanges are serialized.
type Client struct {
	mu      sync.Mutex
	rw      io.ReadWriter
	model   *uss.Model
	address int
	timeout time.Duration
	scanner *uss.Scanner
	state   PumpState
	status  Status
	log     logrus.FieldLogger
	onReply func(query, reply *uss.Reader)
}

// Option configures a client
type Option func(*Client)

// WithAddress sets the pump address
func WithAddress(addr int) Option {
	return func(c *Client) { c.address = addr }
}

// WithTimeout sets how long to wait for a reply
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithReplyHook is called after every successful exchange
func WithReplyHook(fn func(query, reply *uss.Reader)) Option {
	return func(c *Client) { c.onReply = fn }
}

// NewClient creates a client. model may be nil to use the built-in
// TURBOVAC table.
func NewClient(rw io.ReadWriter, model *uss.Model, opts ...Option) (*Client, error) {
	if model == nil {
		var err error
		if model, err = turbovac.DefaultModel(); err != nil {
			return nil, err
		}
	}
	c := &Client{
		rw:      rw,
		model:   model,
		timeout: time.Second,
		scanner: uss.NewScanner(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		c.log = discard
	}
	return c, nil
}

// Model returns the parameter model used to type values
func (c *Client) Model() *uss.Model {
	return c.model
}

// SetTransport replaces the transport, e.g. after a reconnect
func (c *Client) SetTransport(rw io.ReadWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rw = rw
	c.scanner.Reset()
}

// State returns the requested pump state
func (c *Client) State() PumpState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastStatus returns the status from the most recent reply
func (c *Client) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) controlBits() uss.ControlBits {
	switch c.state {
	case PumpOn:
		return uss.ControlCommand | uss.ControlOn
	case PumpOff:
		return uss.ControlCommand
	}
	return 0
}

func (c *Client) builder() *uss.Builder {
	return uss.NewBuilder(c.model).
		SetAddress(c.address).
		SetControlBits(c.controlBits())
}

// Status sends a telegram without a parameter access
func (c *Client) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.send(c.builder()); err != nil {
		return Status{}, err
	}
	return c.status, nil
}

// On switches the pump on and keeps it on in later queries
func (c *Client) On() (Status, error) {
	return c.switchPump(PumpOn)
}

// Off switches the pump off and keeps it off in later queries
func (c *Client) Off() (Status, error) {
	return c.switchPump(PumpOff)
}

func (c *Client) switchPump(s PumpState) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	if _, err := c.send(c.builder()); err != nil {
		return Status{}, err
	}
	return c.status, nil
}

// ResetError acknowledges a converter error
func (c *Client) ResetError() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bits := c.controlBits().With(uss.ControlCommand | uss.ControlResetError)
	if _, err := c.send(c.builder().SetControlBits(bits)); err != nil {
		return Status{}, err
	}
	return c.status, nil
}

// ReadParameter reads one index of a parameter
func (c *Client) ReadParameter(number, index int) (uss.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.send(c.builder().
		SetParameterMode(uss.ModeRead).
		SetParameterNumber(number).
		SetParameterIndex(index))
	if err != nil {
		return uss.Value{}, err
	}
	if err := replyError(reply); err != nil {
		return uss.Value{}, err
	}
	return reply.ParameterValue(), nil
}

// WriteParameter writes one index of a parameter. value is any Go number
// representable in the parameter's datatype. The stored value echoed by
// the pump is returned.
func (c *Client) WriteParameter(number, index int, value any) (uss.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.send(c.builder().
		SetParameterMode(uss.ModeWrite).
		SetParameterNumber(number).
		SetParameterIndex(index).
		SetParameterValueOf(value))
	if err != nil {
		return uss.Value{}, err
	}
	if err := replyError(reply); err != nil {
		return uss.Value{}, err
	}
	return reply.ParameterValue(), nil
}

// Save stores the parameter set in nonvolatile memory
func (c *Client) Save() error {
	_, err := c.WriteParameter(turbovac.ParamSaveData, 0, 1)
	return err
}

// SetFrequency writes the frequency setpoint in Hz
func (c *Client) SetFrequency(hz int) error {
	_, err := c.WriteParameter(turbovac.ParamSetpoint, 0, hz)
	return err
}

// Exchange sends a prepared telegram and returns the reply without
// interpreting it
func (c *Client) Exchange(t uss.Telegram) (*uss.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchange(t)
}

func replyError(r *uss.Reader) error {
	if e, ok := r.ParameterError(); ok {
		return &ReplyError{
			Number: r.ParameterNumber(),
			Index:  r.ParameterIndex(),
			Err:    e,
		}
	}
	return nil
}

func (c *Client) send(b *uss.Builder) (*uss.Reader, error) {
	t, err := b.Build()
	if err != nil {
		return nil, err
	}
	return c.exchange(t)
}

func (c *Client) exchange(t uss.Telegram) (*uss.Reader, error) {
	c.drain()
	c.scanner.Reset()
	if _, err := c.rw.Write(t.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to send telegram: %w", err)
	}

	query := uss.NewReader(t, c.model)
	reply, err := c.receive(query)
	if err != nil {
		return nil, err
	}

	c.status = statusFrom(reply, c.state, time.Now())
	c.log.WithFields(logrus.Fields{
		"query": t.String(),
		"reply": reply.Telegram().String(),
	}).Debug("exchange")
	if c.onReply != nil {
		c.onReply(query, reply)
	}
	return reply, nil
}

// drain discards bytes left over from an exchange that timed out. Transports
// without read timeouts are left alone since a read could block.
func (c *Client) drain() {
	rt, ok := c.rw.(ReadTimeouter)
	if !ok {
		return
	}
	if err := rt.SetReadTimeout(drainTimeout); err != nil {
		return
	}
	buf := make([]byte, uss.TelegramLength)
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.log.Debugf("discarded late bytes % x", buf[:n])
		}
		if n == 0 || (err != nil && !os.IsTimeout(err)) {
			return
		}
	}
}

// answers reports whether reply belongs to query. Status-only queries are
// answered by any reply.
func answers(query, reply *uss.Reader) bool {
	if query.AccessCode() == uss.AccessNone {
		return true
	}
	return reply.ParameterNumber() == query.ParameterNumber() &&
		reply.ParameterIndex() == query.ParameterIndex()
}

// receive reads until a valid reply to query arrives or the timeout passes
func (c *Client) receive(query *uss.Reader) (*uss.Reader, error) {
	deadline := time.Now().Add(c.timeout)
	if rt, ok := c.rw.(ReadTimeouter); ok {
		if err := rt.SetReadTimeout(c.timeout / 10); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, uss.TelegramLength)
	for time.Now().Before(deadline) {
		n, err := c.rw.Read(buf)
		for _, b := range buf[:n] {
			t, ferr := c.scanner.DecodeByte(b)
			if ferr != nil {
				c.log.WithError(ferr).Debug("invalid reply frame")
				continue
			}
			if t == nil {
				continue
			}
			reply := uss.NewReader(*t, c.model)
			if !answers(query, reply) {
				c.log.WithField("reply", t.String()).Debug("discarded reply to another query")
				continue
			}
			return reply, nil
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %w", ErrNoReply, err)
			}
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
	}
	return nil, ErrNoReply
}
