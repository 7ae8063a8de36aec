// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vconn

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUnknownConnection is returned for an identifier with no open connection
var ErrUnknownConnection = errors.New("unknown virtual connection")

// Manager tracks the open connections of an application
type Manager struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
	log   logrus.FieldLogger
}

// NewManager creates an empty registry. log may be nil.
func NewManager(log logrus.FieldLogger) *Manager {
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Manager{
		conns: make(map[uuid.UUID]*Conn),
		log:   log,
	}
}

// Open creates and registers a connection
func (m *Manager) Open() (*Conn, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate connection id: %w", err)
	}

	c := newConn(id, func() { m.forget(id) })

	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()

	m.log.WithField("conn", id).Debug("virtual connection opened")
	return c, nil
}

// Get returns an open connection
func (m *Manager) Get(id uuid.UUID) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return c, nil
}

// Close closes one connection
func (m *Manager) Close(id uuid.UUID) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.Close()
}

// CloseAll closes every open connection
func (m *Manager) CloseAll() {
	for _, c := range m.List() {
		c.Close()
	}
}

// List returns the open connections, oldest first
func (m *Manager) List() []*Conn {
	m.mu.Lock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].opened.Before(out[j].opened)
	})
	return out
}

// Len returns the number of open connections
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) forget(id uuid.UUID) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
	m.log.WithField("conn", id).Debug("virtual connection closed")
}
