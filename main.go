// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// turboctl - TURBOVAC pump controller
//
// A CLI tool for controlling, monitoring and simulating Leybold TURBOVAC
// turbomolecular pumps over the USS protocol.

package main

import (
	"os"

	"github.com/Thermoquad/turboctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
