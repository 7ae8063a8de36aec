// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pump status",
	Long: `Send a telegram without parameter access and print the process data of the
reply: rotor frequency, temperature, motor current, circuit voltage and status
bits. The pump is neither switched on nor off.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPumpCommand((*control.Client).Status)
	},
}

var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Switch the pump on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPumpCommand((*control.Client).On)
	},
}

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Switch the pump off",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPumpCommand((*control.Client).Off)
	},
}

var resetErrorCmd = &cobra.Command{
	Use:   "reset_error",
	Short: "Acknowledge a converter error",
	Long: `Send RESET_ERROR. The pump leaves the switch-on lock and may be switched on
again once the cause of the error is removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPumpCommand((*control.Client).ResetError)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(resetErrorCmd)
}

func runPumpCommand(fn func(*control.Client) (control.Status, error)) error {
	client, conn, _, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	status, err := fn(client)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func printStatus(s control.Status) {
	fmt.Printf("Frequency:   %d Hz\n", s.Frequency)
	fmt.Printf("Temperature: %d °C\n", s.Temperature)
	fmt.Printf("Current:     %.1f A\n", s.Current)
	fmt.Printf("Voltage:     %.1f V\n", s.Voltage)
	fmt.Printf("Pump:        %s\n", s.Requested)
	fmt.Printf("Status:      %s\n", s.Bits)
}
