// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/spf13/cobra"
)

var rawLogFirst string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw telegram log in human-readable format",
	Long: `Continuously decode and display USS telegrams as they arrive on a line.

Queries and replies cannot be told apart on the wire; they are assumed to
alternate, starting with the direction given by --first. A rejected frame
restarts the alternation.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogFirst, "first", "query", "Direction of the first telegram: query or reply")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	first := uss.Query
	switch rawLogFirst {
	case "query":
	case "reply":
		first = uss.Reply
	default:
		return fmt.Errorf("invalid direction %q", rawLogFirst)
	}

	model, err := loadModel()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("turboctl - Raw Telegram Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	scanner := uss.NewScanner()
	dir := first
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			t, ferr := scanner.DecodeByte(buf[i])
			if ferr != nil {
				fmt.Printf("[ERROR] %v\n", ferr)
				dir = first
				continue
			}
			if t == nil {
				continue
			}
			fmt.Print(uss.FormatTelegram(uss.NewReader(*t, model), dir, time.Now()))
			dir = opposite(dir)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				appLog.Info("connection closed")
				return nil
			}
			appLog.WithError(err).Warn("read error")
			return err
		}
	}
}

func opposite(d uss.Direction) uss.Direction {
	if d == uss.Query {
		return uss.Reply
	}
	return uss.Query
}
