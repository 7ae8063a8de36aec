// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <number> [index]",
	Short: "Read a parameter",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <number> <value> [index]",
	Short: "Write a parameter",
	Long: `Write a parameter value. The value is parsed according to the parameter's
datatype: decimal integers for uint/sint, decimals for real, and 0/1 strings
for bin. The change is lost at power-off unless followed by "save".`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runWrite,
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save parameters to nonvolatile memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := client.Save(); err != nil {
			return explainReplyError(client.Model(), err)
		}
		fmt.Println("Parameters saved")
		return nil
	},
}

var setpointCmd = &cobra.Command{
	Use:   "setpoint <hz>",
	Short: "Set the rotor frequency setpoint",
	Long: `Write the frequency setpoint parameter. Values outside the minimum and
nominal frequency are accepted and limited by the converter.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hz, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid frequency %q", args[0])
		}

		client, conn, _, err := openClient()
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := client.SetFrequency(hz); err != nil {
			return explainReplyError(client.Model(), err)
		}
		fmt.Printf("Setpoint: %d Hz\n", hz)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(setpointCmd)
}

func parseIndex(args []string, pos int) (int, error) {
	if len(args) <= pos {
		return 0, nil
	}
	index, err := strconv.Atoi(args[pos])
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid index %q", args[pos])
	}
	return index, nil
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > uss.MaxParameter {
		return 0, fmt.Errorf("invalid parameter number %q", s)
	}
	return n, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	number, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	index, err := parseIndex(args, 1)
	if err != nil {
		return err
	}

	client, conn, _, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	value, err := client.ReadParameter(number, index)
	if err != nil {
		return explainReplyError(client.Model(), err)
	}
	printParameterValue(client.Model(), number, index, value)
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	number, err := parseNumber(args[0])
	if err != nil {
		return err
	}
	index, err := parseIndex(args, 2)
	if err != nil {
		return err
	}

	client, conn, _, err := openClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	d, err := client.Model().Lookup(number)
	if err != nil {
		return err
	}
	value, err := uss.ParseValue(d.Datatype, d.Bits, args[1])
	if err != nil {
		return fmt.Errorf("P%d: %w", number, err)
	}

	stored, err := client.WriteParameter(number, index, value)
	if err != nil {
		return explainReplyError(client.Model(), err)
	}
	printParameterValue(client.Model(), number, index, stored)
	return nil
}

func printParameterValue(model *uss.Model, number, index int, v uss.Value) {
	name, unit := "", ""
	if d, err := model.Lookup(number); err == nil {
		name, unit = d.Name, d.Unit
	}
	fmt.Printf("P%d[%d] %s = %s %s\n", number, index, name, v, unit)
}

// explainReplyError adds the meaning of a parameter error number
func explainReplyError(model *uss.Model, err error) error {
	var re *control.ReplyError
	if !errors.As(err, &re) {
		return err
	}
	hint := ""
	switch re.Err {
	case uss.ParamWrongNumber:
		hint = "no such parameter"
	case uss.ParamCannotChange:
		hint = "parameter is read-only"
	case uss.ParamMinMax:
		if d, lerr := model.Lookup(re.Number); lerr == nil {
			hint = fmt.Sprintf("allowed range %s..%s", d.Min, d.Max)
		}
	case uss.ParamIndex:
		hint = "invalid index"
	case uss.ParamSaving:
		hint = "pump is saving, retry shortly"
	}
	if hint == "" {
		return err
	}
	return fmt.Errorf("%w (%s)", err, hint)
}
