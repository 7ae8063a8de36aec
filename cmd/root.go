// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/Thermoquad/turboctl/internal/config"
	"github.com/Thermoquad/turboctl/internal/logging"
	"github.com/Thermoquad/turboctl/pkg/turbovac"
	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/Thermoquad/turboctl/pkg/vconn"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Pump flags
	pumpAddress    int
	useVirtual     bool
	parameterTable string

	configFile string
	logLevel   string

	cfg       = config.Default()
	appLog    = logging.Discard()
	logCloser io.Closer

	// connections tracks the virtual links opened by the running command
	connections = vconn.NewManager(nil)
)

var rootCmd = &cobra.Command{
	Use:   "turboctl",
	Short: "TURBOVAC pump controller",
	Long: `turboctl - Control and monitor Leybold TURBOVAC turbomolecular pumps over
the USS protocol, or simulate one.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200]
  WebSocket: --url ws://host/path [--username user]
  Virtual:   --virtual (in-process simulated pump)

For WebSocket authentication, the password is read from the TURBOCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 19200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Pump flags
	rootCmd.PersistentFlags().IntVarP(&pumpAddress, "address", "a", 0, "Pump address (0-31)")
	rootCmd.PersistentFlags().BoolVar(&useVirtual, "virtual", false, "Talk to an in-process virtual pump")
	rootCmd.PersistentFlags().StringVar(&parameterTable, "parameters", "", "Parameter table YAML (default: built-in TURBOVAC table)")

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// setup loads the configuration file and lets explicit flags override it
func setup(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	} else if configFile != "" {
		portName = cfg.Serial.Port
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = baudRate
	} else {
		baudRate = cfg.Serial.Baud
	}
	if flags.Changed("url") {
		cfg.WebSocket.URL = wsURL
	} else {
		wsURL = cfg.WebSocket.URL
	}
	if flags.Changed("username") {
		cfg.WebSocket.Username = wsUsername
	} else if configFile != "" {
		wsUsername = cfg.WebSocket.Username
	}
	if flags.Changed("no-ssl-verify") {
		cfg.WebSocket.NoSSLVerify = wsNoSSLVerify
	} else {
		wsNoSSLVerify = cfg.WebSocket.NoSSLVerify
	}
	if flags.Changed("address") {
		cfg.Pump.Address = pumpAddress
	} else {
		pumpAddress = cfg.Pump.Address
	}
	if flags.Changed("parameters") {
		cfg.Pump.ParameterTable = parameterTable
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	appLog, logCloser = logger, closer
	connections = vconn.NewManager(appLog.WithField("component", "vconn"))
	return nil
}

// shutdown closes what setup opened. It runs whether or not the command
// succeeded.
func shutdown() {
	connections.CloseAll()
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

// loadModel returns the configured parameter table
func loadModel() (*uss.Model, error) {
	if cfg.Pump.ParameterTable != "" {
		m, err := turbovac.LoadFile(cfg.Pump.ParameterTable)
		if err != nil {
			return nil, fmt.Errorf("parameter table %s: %w", cfg.Pump.ParameterTable, err)
		}
		return m, nil
	}
	return turbovac.DefaultModel()
}

// Execute runs the root command
func Execute() error {
	defer shutdown()
	return rootCmd.Execute()
}
