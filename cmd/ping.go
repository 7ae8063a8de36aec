// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link by sending status telegrams",
	Long: `Send telegrams without parameter access and wait for the pump's replies.

This is useful for verifying:
  - The serial port settings (19200 baud, 8E1) match the pump
  - The pump address is correct
  - WebSocket bridges forward telegrams in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 1, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	model, err := loadModel()
	if err != nil {
		return err
	}
	client, err := control.NewClient(conn, model,
		control.WithAddress(pumpAddress),
		control.WithTimeout(time.Duration(pingTimeout)*time.Second),
		control.WithLogger(appLog),
	)
	if err != nil {
		return err
	}

	fmt.Printf("turboctl - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	failed := 0
	for i := 1; i <= pingCount; i++ {
		start := time.Now()
		status, err := client.Status()
		if err != nil {
			fmt.Printf("Ping %d: FAILED (%v)\n", i, err)
			failed++
			continue
		}
		fmt.Printf("Ping %d: reply in %v, %d Hz, status %s\n",
			i, time.Since(start).Round(time.Millisecond), status.Frequency, status.Bits)
	}

	fmt.Printf("\n%d/%d pings successful\n", pingCount-failed, pingCount)
	if failed > 0 {
		conn.Close()
		os.Exit(1)
	}
	return nil
}
