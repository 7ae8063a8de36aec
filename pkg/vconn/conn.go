// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vconn provides in-process duplex byte links that stand in for a
// serial port.
//
// A Conn has a user end and a virtual end. Bytes written to one end are
// read, in order, from the other. A relay goroutine per connection moves
// the bytes; closing either end stops it and wakes blocked readers and
// writers.
package vconn

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosedConnection is returned by writes after the connection closed
var ErrClosedConnection = errors.New("virtual connection closed")

// NoTimeout makes reads block until data arrives or the connection closes
const NoTimeout time.Duration = -1

// queueDepth is the number of pending writes per direction
const queueDepth = 64

// Conn is one virtual link
type Conn struct {
	id      uuid.UUID
	user    *End
	virtual *End

	done      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
	onClose   func()
	opened    time.Time
}

func newConn(id uuid.UUID, onClose func()) *Conn {
	c := &Conn{
		id:      id,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		onClose: onClose,
		opened:  time.Now(),
	}
	c.user = newEnd(c, "user")
	c.virtual = newEnd(c, "virtual")
	go c.relay()
	return c
}

// ID returns the connection identifier
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// User returns the end used by a client in place of a serial port
func (c *Conn) User() *End {
	return c.user
}

// Virtual returns the end served by the virtual pump
func (c *Conn) Virtual() *End {
	return c.virtual
}

// Opened returns when the connection was created
func (c *Conn) Opened() time.Time {
	return c.opened
}

// Done is closed when the connection closes
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Alive reports whether the connection is open
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close closes both ends. Bytes already written stay readable until
// drained. Close is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// relay moves queued writes into the peer's read buffer
func (c *Conn) relay() {
	defer close(c.drained)
	for {
		select {
		case b := <-c.user.out:
			c.virtual.deliver(b)
		case b := <-c.virtual.out:
			c.user.deliver(b)
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case b := <-c.user.out:
			c.virtual.deliver(b)
		case b := <-c.virtual.out:
			c.user.deliver(b)
		default:
			return
		}
	}
}

// End is one side of a Conn. It behaves like a serial port: Read blocks
// until data arrives, the read timeout expires (returning 0, nil) or the
// connection closes and is drained (returning io.EOF).
type End struct {
	conn *Conn
	name string
	out  chan []byte

	mu      sync.Mutex
	buf     []byte
	timeout time.Duration
	notify  chan struct{}
}

func newEnd(c *Conn, name string) *End {
	return &End{
		conn:    c,
		name:    name,
		out:     make(chan []byte, queueDepth),
		timeout: NoTimeout,
		notify:  make(chan struct{}, 1),
	}
}

// SetReadTimeout sets how long Read waits for data. NoTimeout blocks,
// zero polls.
func (e *End) SetReadTimeout(t time.Duration) error {
	e.mu.Lock()
	e.timeout = t
	e.mu.Unlock()
	return nil
}

// Buffered returns the number of bytes ready to read
func (e *End) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

func (e *End) deliver(b []byte) {
	e.mu.Lock()
	e.buf = append(e.buf, b...)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *End) take(p []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := copy(p, e.buf)
	e.buf = e.buf[n:]
	if len(e.buf) == 0 {
		e.buf = nil
	}
	return n
}

// Read reads bytes written to the other end
func (e *End) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	d := e.timeout
	e.mu.Unlock()

	var expired <-chan time.Time
	if d >= 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if n := e.take(p); n > 0 {
			return n, nil
		}
		select {
		case <-e.conn.drained:
			if n := e.take(p); n > 0 {
				return n, nil
			}
			return 0, io.EOF
		default:
		}
		select {
		case <-e.notify:
		case <-e.conn.drained:
		case <-expired:
			return 0, nil
		}
	}
}

// Write queues p for the other end. It blocks while the queue is full.
func (e *End) Write(p []byte) (int, error) {
	select {
	case <-e.conn.done:
		return 0, ErrClosedConnection
	default:
	}
	if len(p) == 0 {
		return 0, nil
	}
	chunk := append([]byte(nil), p...)
	select {
	case e.out <- chunk:
		return len(p), nil
	case <-e.conn.done:
		return 0, ErrClosedConnection
	}
}

// Close closes the whole connection
func (e *End) Close() error {
	return e.conn.Close()
}

// String names the end for logging
func (e *End) String() string {
	return e.conn.id.String() + "/" + e.name
}
