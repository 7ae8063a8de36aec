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

var (
	showAll       bool
	statsInterval int
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed telegrams and errors",
	Long: `Track telegram errors and parameter errors on a line with statistics.

This command validates each telegram and detects:
  - Checksum, length and header errors
  - Unknown access and response codes
  - Parameter access errors reported by the pump
  - Statistics and trends (telegram rate, error rate)

By default, only errors are displayed. Use --show-all to display valid telegrams too.`,
	Args: cobra.NoArgs,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all telegrams (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	model, err := loadModel()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("turboctl - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All telegrams\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	scanner := uss.NewScanner()
	stats := uss.NewStatistics()

	// Sync tracking - ignore frame errors until first valid telegram
	synchronized := false

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking reads
	data := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				data <- chunk
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	dir := uss.Query
	for {
		select {
		case chunk := <-data:
			for _, b := range chunk {
				t, ferr := scanner.DecodeByte(b)
				if ferr != nil {
					if synchronized {
						stats.Update(nil, dir, ferr)
						printFrameError(ferr)
					}
					dir = uss.Query
					continue
				}
				if t == nil {
					continue
				}

				if !synchronized {
					synchronized = true
					if skipped := scanner.Discarded(); skipped > 0 {
						fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", skipped)
					} else {
						fmt.Printf("[SYNC] Synchronized\n\n")
					}
				}

				r := uss.NewReader(*t, model)
				stats.Update(r, dir, nil)
				if problem := telegramProblem(r, dir); problem != "" {
					printTelegramProblem(r, dir, problem)
				} else if showAll {
					fmt.Print(uss.FormatTelegram(r, dir, time.Now()))
				}
				dir = opposite(dir)
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

// telegramProblem describes what is wrong with a valid frame, if anything
func telegramProblem(r *uss.Reader, dir uss.Direction) string {
	if dir == uss.Query {
		if !r.AccessCode().Known() {
			return fmt.Sprintf("unknown access code %d", r.Code())
		}
		return ""
	}
	if !r.ResponseCode().Known() {
		return fmt.Sprintf("unknown response code %d", r.Code())
	}
	if e, ok := r.ParameterError(); ok {
		return fmt.Sprintf("parameter error %d (%s)", uint16(e), e)
	}
	return ""
}

// printFrameError prints a frame error in highlighted format
func printFrameError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> TELEGRAM REJECTED <<<\n\n")
}

func printTelegramProblem(r *uss.Reader, dir uss.Direction, problem string) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33m%s:\033[0m %s\n", timestamp, dir, problem)
	fmt.Printf("  %s\n", uss.FormatParameterAccess(r, dir))
	fmt.Printf("  Raw: %s\n\n", r.Telegram())
}
