// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads turboctl configuration files
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the turboctl configuration file
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Pump      PumpConfig      `yaml:"pump"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Redis     RedisConfig     `yaml:"redis"`
}

// SerialConfig configures the RS-485 port
type SerialConfig struct {
	Port    string        `yaml:"port"`
	Baud    int           `yaml:"baud"`
	Parity  string        `yaml:"parity"` // none, even or odd
	Timeout time.Duration `yaml:"timeout"`
}

// WebSocketConfig configures websocket transports
type WebSocketConfig struct {
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	NoSSLVerify   bool   `yaml:"no_ssl_verify"`
	Listen        string `yaml:"listen"`
	Path          string `yaml:"path"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

// PumpConfig configures the pump address and the virtual pump
type PumpConfig struct {
	Address        int           `yaml:"address"`
	ParameterTable string        `yaml:"parameter_table"`
	Step           time.Duration `yaml:"step"`
	Acceleration   float64       `yaml:"acceleration"`
	SaveCooldown   time.Duration `yaml:"save_cooldown"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// LogConfig configures logging
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // text or json
	Output   string `yaml:"output"` // stderr, stdout or file
	FilePath string `yaml:"file_path"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// RedisConfig configures the status publisher
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	History  int64  `yaml:"history"`
}

// Default returns the configuration used without a file
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:    "/dev/ttyUSB0",
			Baud:    19200,
			Parity:  "even",
			Timeout: time.Second,
		},
		WebSocket: WebSocketConfig{
			Username: "root",
			Listen:   ":8080",
			Path:     "/uss",
		},
		Pump: PumpConfig{
			Step:         100 * time.Millisecond,
			Acceleration: 100,
			SaveCooldown: time.Second,
			PollInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "turboctl:status",
			History: 1000,
		},
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch c.Serial.Parity {
	case "none", "even", "odd":
	default:
		return fmt.Errorf("serial.parity: invalid value %q", c.Serial.Parity)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud: must be positive")
	}
	if c.Pump.Address < 0 || c.Pump.Address > 31 {
		return fmt.Errorf("pump.address: %d out of range 0-31", c.Pump.Address)
	}
	if c.Pump.Step <= 0 {
		return fmt.Errorf("pump.step: must be positive")
	}
	if c.Pump.Acceleration <= 0 {
		return fmt.Errorf("pump.acceleration: must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: invalid value %q", c.Log.Format)
	}
	return nil
}
