// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks telegram counts and error rates on a line
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalTelegrams  uint64
	ValidTelegrams  uint64
	ChecksumErrors  uint64
	LengthErrors    uint64
	HeaderErrors    uint64
	ParameterErrors uint64
	UnknownCodes    uint64

	// Rates (calculated)
	TelegramRate float64 // telegrams/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one telegram or one rejected frame
func (s *Statistics) Update(r *Reader, dir Direction, decodeErr error) {
	s.TotalTelegrams++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrChecksum):
			s.ChecksumErrors++
		case errors.Is(decodeErr, ErrLength):
			s.LengthErrors++
		default:
			s.HeaderErrors++
		}
		return
	}

	s.ValidTelegrams++
	if dir == Query {
		if !r.AccessCode().Known() {
			s.UnknownCodes++
		}
		return
	}
	if !r.ResponseCode().Known() {
		s.UnknownCodes++
	}
	if _, ok := r.ParameterError(); ok {
		s.ParameterErrors++
	}
}

func (s *Statistics) frameErrors() uint64 {
	return s.ChecksumErrors + s.LengthErrors + s.HeaderErrors
}

// CalculateRates calculates telegram and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TelegramRate = float64(s.TotalTelegrams) / elapsed
		s.ErrorRate = float64(s.frameErrors()+s.ParameterErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalTelegrams == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalTelegrams)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Telegrams: %8d\n", s.TotalTelegrams)
	result += fmt.Sprintf("Valid Telegrams: %8d (%.1f%%)\n", s.ValidTelegrams, percent(s.ValidTelegrams))

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d (%.1f%%)\n", s.LengthErrors, percent(s.LengthErrors))
	}
	if s.HeaderErrors > 0 {
		result += fmt.Sprintf("Header Errors:   %8d (%.1f%%)\n", s.HeaderErrors, percent(s.HeaderErrors))
	}
	if s.ParameterErrors > 0 {
		result += fmt.Sprintf("Param Errors:    %8d (%.1f%%)\n", s.ParameterErrors, percent(s.ParameterErrors))
	}
	if s.UnknownCodes > 0 {
		result += fmt.Sprintf("Unknown Codes:   %8d\n", s.UnknownCodes)
	}

	result += fmt.Sprintf("Telegram Rate:   %8.1f tel/sec\n", s.TelegramRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
