// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package uss

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomTelegram builds a telegram with every field random
func randomTelegram(t *testing.T, rng *rand.Rand) Telegram {
	return mustBuild(t, NewBuilder(nil).
		SetAddress(rng.Intn(MaxAddress+1)).
		SetParameterCode(uint8(rng.Intn(16))).
		SetParameterNumber(rng.Intn(MaxParameter+1)).
		SetParameterIndex(rng.Intn(256)).
		SetRawValue(rng.Uint32()).
		SetFlags(uint16(rng.Intn(1<<16))).
		SetFrequency(rng.Intn(ProcessWordMax+1)).
		SetTemperature(rng.Intn(1<<16)-1<<15).
		SetCurrent(rng.Intn(ProcessWordMax+1)).
		SetVoltage(rng.Intn(ProcessWordMax+1)))
}

// ============================================================
// Scanner Fuzz Tests
// ============================================================

// TestFuzzScanner_RandomBytes feeds random bytes to the scanner
// and verifies it doesn't crash or panic
func TestFuzzScanner_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		s := NewScanner()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		found, _ := s.Feed(data)
		for _, tel := range found {
			if _, err := ParseTelegram(tel.Bytes()); err != nil {
				t.Fatalf("round %d: scanner returned an invalid telegram: %v", i, err)
			}
		}
		if s.Pending() >= TelegramLength {
			t.Fatalf("round %d: %d bytes pending", i, s.Pending())
		}
	}
}

// TestFuzzScanner_TelegramStream verifies that a stream of valid telegrams
// is decoded completely, whatever the chunking
func TestFuzzScanner_TelegramStream(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		s := NewScanner()

		count := rng.Intn(8) + 1
		want := make([]Telegram, count)
		var stream []byte
		for j := range want {
			want[j] = randomTelegram(t, rng)
			stream = append(stream, want[j].Bytes()...)
		}

		var found []Telegram
		for len(stream) > 0 {
			n := rng.Intn(len(stream)) + 1
			got, errs := s.Feed(stream[:n])
			if len(errs) != 0 {
				t.Fatalf("round %d: unexpected errors %v", i, errs)
			}
			found = append(found, got...)
			stream = stream[n:]
		}

		if len(found) != count {
			t.Fatalf("round %d: expected %d telegrams, got %d", i, count, len(found))
		}
		for j := range want {
			if found[j] != want[j] {
				t.Fatalf("round %d: telegram %d differs", i, j)
			}
		}
	}
}

// ============================================================
// Telegram Fuzz Tests
// ============================================================

// TestFuzzTelegram_SingleBitErrors verifies that the BCC catches every
// single bit error
func TestFuzzTelegram_SingleBitErrors(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		data := randomTelegram(t, rng).Bytes()
		pos := rng.Intn(TelegramLength)
		data[pos] ^= 1 << uint(rng.Intn(8))

		if _, err := ParseTelegram(data); !errors.Is(err, ErrChecksum) {
			t.Fatalf("round %d: flip at byte %d not detected: %v", i, pos, err)
		}
	}
}

// TestFuzzTelegram_FieldsRoundTrip verifies that every field written by
// the builder reads back unchanged
func TestFuzzTelegram_FieldsRoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		addr := rng.Intn(MaxAddress + 1)
		code := uint8(rng.Intn(16))
		number := rng.Intn(MaxParameter + 1)
		index := rng.Intn(256)
		raw := rng.Uint32()
		flags := uint16(rng.Intn(1 << 16))
		freq := rng.Intn(ProcessWordMax + 1)
		temp := rng.Intn(1<<16) - 1<<15

		tel := mustBuild(t, NewBuilder(nil).
			SetAddress(addr).
			SetParameterCode(code).
			SetParameterNumber(number).
			SetParameterIndex(index).
			SetRawValue(raw).
			SetFlags(flags).
			SetFrequency(freq).
			SetTemperature(temp))

		r, err := Parse(tel.Bytes(), nil)
		if err != nil {
			t.Fatalf("round %d: Parse failed: %v", i, err)
		}
		if r.Address() != addr || r.Code() != code || r.ParameterNumber() != number ||
			r.ParameterIndex() != index || r.RawValue() != raw || r.Flags() != flags ||
			r.Frequency() != freq || r.Temperature() != temp {
			t.Fatalf("round %d: fields changed in transit", i)
		}
	}
}

// TestFuzzValue_SintConvert verifies that signed values survive widening
// to the 32-bit value slot and back
func TestFuzzValue_SintConvert(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		bits := rng.Intn(31) + 2
		span := MaxSint(bits) - MinSint(bits) + 1
		n := MinSint(bits) + rng.Int63n(span)

		v, err := NewSint(n, bits)
		if err != nil {
			t.Fatalf("round %d: NewSint(%d, %d) failed: %v", i, n, bits, err)
		}
		wide, err := v.Convert(Sint, ValueSlotBits)
		if err != nil {
			t.Fatalf("round %d: widen failed: %v", i, err)
		}
		if int64(int32(uint32(wide.Raw()))) != n {
			t.Fatalf("round %d: %d widened to 0x%08X", i, n, wide.Raw())
		}
		back, err := wide.Convert(Sint, bits)
		if err != nil || !back.Equal(v) {
			t.Fatalf("round %d: %d did not narrow back: %v", i, n, err)
		}
	}
}
