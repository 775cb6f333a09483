// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send COMMAND [ARG [ARG]]",
	Short: "Send one command to the controller",
	Long: `Send a single command line to the controller and exit.

The command may be given as its letter or its name, with up to two integer
arguments:

  optostim send --port /dev/ttyACM0 G
  optostim send --port /dev/ttyACM0 P 3 40
  optostim send --url ws://rig.local/link chrimson-request`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := parseCommandLine(strings.Join(args, " "))
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sendCommand(conn, command); err != nil {
		return err
	}
	fmt.Printf("Sent %s via %s\n", command, connInfo)
	return nil
}

// parseCommandLine parses a command line whose first word may be a command
// name instead of its letter
func parseCommandLine(line string) (stimlink.Command, error) {
	fields := strings.Fields(line)
	if len(fields) > 0 {
		if info, ok := stimlink.LookupName(fields[0]); ok {
			fields[0] = string(rune(info.Code))
		}
	}
	return stimlink.ParseCommand(strings.Join(fields, " "))
}
