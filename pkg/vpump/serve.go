// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpump

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/sirupsen/logrus"
)

// ReadTimeouter is implemented by transports with serial-port style read
// timeouts, where a timed-out Read returns (0, nil)
type ReadTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

const (
	// pollInterval bounds how long a Read blocks so ctx is checked
	pollInterval = 50 * time.Millisecond
	// frameGap is the silence after which a partial frame is dropped
	frameGap = 100 * time.Millisecond
)

// Serve answers query telegrams read from rw until ctx is done or rw
// reaches EOF.
//
// Invalid frames are logged and dropped without a reply. A partial frame is
// discarded after a gap in the byte stream. Transports without
// SetReadTimeout only notice ctx between reads; close them to stop Serve.
func Serve(ctx context.Context, rw io.ReadWriter, p *Pump, log logrus.FieldLogger) error {
	if log == nil {
		log = p.log
	}
	if rt, ok := rw.(ReadTimeouter); ok {
		if err := rt.SetReadTimeout(pollInterval); err != nil {
			return err
		}
	}

	scanner := uss.NewScanner()
	buf := make([]byte, 256)
	lastRead := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := rw.Read(buf)
		now := time.Now()

		if scanner.Pending() > 0 && now.Sub(lastRead) >= frameGap {
			log.Debugf("dropping %d bytes of a partial frame", scanner.Pending())
			scanner.Reset()
		}

		if n > 0 {
			lastRead = now
			for _, b := range buf[:n] {
				t, ferr := scanner.DecodeByte(b)
				if ferr != nil {
					p.frameError(ferr)
					continue
				}
				if t == nil {
					continue
				}
				reply := p.HandleTelegram(uss.NewReader(*t, p.model))
				if _, werr := rw.Write(reply.Telegram().Bytes()); werr != nil {
					return werr
				}
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case os.IsTimeout(err):
				continue
			}
			log.WithError(err).Warn("read failed")
			return err
		}
	}
}

func (p *Pump) frameError(err error) {
	p.log.WithError(err).Debug("frame rejected")
	if p.observer != nil {
		p.observer.ObserveFrameError(err)
	}
}
