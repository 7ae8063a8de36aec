// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
serial:
  port: /dev/ttyS3
  baud: 9600
pump:
  address: 4
  save_cooldown: 250ms
log:
  format: json
redis:
  enabled: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyS3" || cfg.Serial.Baud != 9600 {
		t.Errorf("serial not overridden: %+v", cfg.Serial)
	}
	if cfg.Serial.Parity != "even" || cfg.Serial.Timeout != time.Second {
		t.Errorf("serial defaults lost: %+v", cfg.Serial)
	}
	if cfg.Pump.Address != 4 || cfg.Pump.SaveCooldown != 250*time.Millisecond {
		t.Errorf("pump not overridden: %+v", cfg.Pump)
	}
	if cfg.Pump.Step != 100*time.Millisecond || cfg.Pump.Acceleration != 100 {
		t.Errorf("pump defaults lost: %+v", cfg.Pump)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Channel != "turboctl:status" {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("empty file should give the defaults, got %+v", cfg)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"syntax", "serial: [", "parse"},
		{"parity", "serial: {parity: mark}", "serial.parity"},
		{"baud", "serial: {baud: 0}", "serial.baud"},
		{"address", "pump: {address: 32}", "pump.address"},
		{"negative address", "pump: {address: -1}", "pump.address"},
		{"step", "pump: {step: 0s}", "pump.step"},
		{"acceleration", "pump: {acceleration: -5}", "pump.acceleration"},
		{"log format", "log: {format: xml}", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turboctl.yaml")
	if err := os.WriteFile(path, []byte("pump:\n  address: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pump.Address != 2 {
		t.Errorf("expected address 2, got %d", cfg.Pump.Address)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}
