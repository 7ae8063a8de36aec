// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import "bytes"

// Scanner finds telegrams in a byte stream.
//
// Bytes before a start byte followed by the length byte are skipped. When a
// 24-byte candidate fails validation, the scanner reports the error and
// resynchronises one byte past the failed candidate's start.
type Scanner struct {
	buf       []byte
	discarded uint64
}

// NewScanner creates a scanner
func NewScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, TelegramLength*2)}
}

// Reset drops any partial frame
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}

// Pending returns the number of buffered bytes of a partial frame
func (s *Scanner) Pending() int {
	return len(s.buf)
}

// Discarded returns the number of bytes skipped while synchronising
func (s *Scanner) Discarded() uint64 {
	return s.discarded
}

// DecodeByte feeds one byte. It returns a telegram when one completes, or
// an error when a complete candidate frame is invalid.
func (s *Scanner) DecodeByte(b byte) (*Telegram, error) {
	s.buf = append(s.buf, b)
	s.sync()
	if len(s.buf) < TelegramLength {
		return nil, nil
	}

	t, err := ParseTelegram(s.buf[:TelegramLength])
	if err != nil {
		s.discarded++
		s.buf = append(s.buf[:0], s.buf[1:]...)
		s.sync()
		return nil, err
	}
	s.buf = s.buf[:0]
	return &t, nil
}

// Feed decodes a chunk of bytes, returning every telegram found and the
// validation errors of rejected candidates
func (s *Scanner) Feed(p []byte) ([]Telegram, []error) {
	var (
		out  []Telegram
		errs []error
	)
	for _, b := range p {
		t, err := s.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, errs
}

// sync drops bytes until the buffer starts with STX followed by LGE, or
// holds only a lone STX
func (s *Scanner) sync() {
	for len(s.buf) > 0 {
		if s.buf[0] != StartByte {
			i := bytes.IndexByte(s.buf, StartByte)
			if i < 0 {
				s.discarded += uint64(len(s.buf))
				s.buf = s.buf[:0]
				return
			}
			s.discarded += uint64(i)
			s.buf = append(s.buf[:0], s.buf[i:]...)
		}
		if len(s.buf) < 2 || s.buf[1] == LengthByte {
			return
		}
		s.discarded++
		s.buf = append(s.buf[:0], s.buf[1:]...)
	}
}
