// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"context"
	"io"
	"time"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Poller requests the pump status periodically
type Poller struct {
	Client   *Client
	Interval time.Duration

	// OnStatus receives every status
	OnStatus func(Status)
	// OnError receives every failed poll
	OnError func(error)
	// Reconnect, if set, is called after a failed poll to get a new
	// transport
	Reconnect func() (io.ReadWriter, error)
}

// Run polls until ctx is done. Failed polls back off exponentially from
// one second up to 30 seconds.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	backoff := initialBackoff

	for {
		wait := interval
		if err := p.poll(); err != nil {
			if p.OnError != nil {
				p.OnError(err)
			}
			wait = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = initialBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (p *Poller) poll() error {
	status, err := p.Client.Status()
	if err != nil {
		if p.Reconnect != nil {
			if rw, rerr := p.Reconnect(); rerr == nil {
				p.Client.SetTransport(rw)
			}
		}
		return err
	}
	if p.OnStatus != nil {
		p.OnStatus(status)
	}
	return nil
}
