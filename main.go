// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Optostim - Optogenetic stimulation controller
//
// Hosts the stimulation state machine on simulated or GPIO hardware and
// provides host-side tools for its report link.

package main

import (
	"os"

	"github.com/Thermoquad/optostim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
