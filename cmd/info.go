// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/spf13/cobra"
)

var infoKind string

var infoCmd = &cobra.Command{
	Use:   "info [number...]",
	Short: "Describe parameters, errors or warnings",
	Long: `Print entries of the parameter table without contacting the pump.

Without numbers every entry of the selected kind is listed.

Examples:
  turboctl info 24
  turboctl info --kind error 6 7
  turboctl info --kind warning`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&infoKind, "kind", "k", "parameter", "Entry kind: parameter, error or warning")
}

func runInfo(cmd *cobra.Command, args []string) error {
	model, err := loadModel()
	if err != nil {
		return err
	}

	numbers := make([]int, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid number %q", arg)
		}
		numbers = append(numbers, n)
	}

	switch infoKind {
	case "parameter", "p":
		if len(numbers) == 0 {
			for _, d := range model.Parameters() {
				fmt.Println(uss.FormatDefinition(d))
			}
			return nil
		}
		for _, n := range numbers {
			d, err := model.Lookup(n)
			if err != nil {
				return err
			}
			fmt.Println(uss.FormatDefinition(d))
		}

	case "error", "e", "warning", "w":
		lookup, kind := model.Error, "Error"
		if infoKind == "warning" || infoKind == "w" {
			lookup, kind = model.Warning, "Warning"
		}
		if len(numbers) == 0 {
			for n := 0; n <= 0xFF; n++ {
				if e, ok := lookup(n); ok {
					fmt.Println(uss.FormatErrorOrWarning(kind, e))
				}
			}
			return nil
		}
		for _, n := range numbers {
			e, ok := lookup(n)
			if !ok {
				return fmt.Errorf("unknown %s %d", infoKind, n)
			}
			fmt.Println(uss.FormatErrorOrWarning(kind, e))
		}

	default:
		return fmt.Errorf("invalid kind %q (use parameter, error or warning)", infoKind)
	}
	return nil
}
