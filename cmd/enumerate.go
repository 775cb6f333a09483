// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var (
	enumerateTimeout int
	enumerateNoReset bool
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "List the states, events, results and parameters a controller announces",
	Long: `Reset the controller and record the enumeration it sends at boot.

The controller announces every state, event, result code and parameter by
number and name when it starts. This command sends a reset, collects the
announcement up to the first state report and prints it as tables.

Resetting restores the parameters captured at boot and abandons any running
experiment. Use --no-reset to wait for the next boot instead.

Exit codes:
  0 - Enumeration received
  1 - Timeout before the enumeration completed
  2 - Connection error`,
	RunE: runEnumerate,
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
	enumerateCmd.Flags().IntVar(&enumerateTimeout, "timeout", 5, "Timeout in seconds for the enumeration")
	enumerateCmd.Flags().BoolVar(&enumerateNoReset, "no-reset", false, "Wait for the next boot instead of resetting")
}

func runEnumerate(cmd *cobra.Command, args []string) error {
	format, err := linkFormat()
	if err != nil {
		return err
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Optostim - Enumeration\n")
	fmt.Printf("Connection: %s (%s)\n", connInfo, format)
	fmt.Printf("Timeout: %d seconds\n\n", enumerateTimeout)

	catalog := stimlink.NewCatalog()
	done := make(chan bool, 1)
	errChan := make(chan error, 1)

	go func() {
		online := false
		err := readMessages(conn, format, func(m *stimlink.Message, err error) bool {
			if err != nil {
				return true
			}
			if m.Kind == stimlink.KindOnline {
				online = true
			}
			if !online {
				return true
			}
			catalog.Observe(*m)
			if m.Kind == stimlink.KindState {
				done <- true
				return false
			}
			return true
		})
		if err != nil {
			errChan <- err
		}
	}()

	if !enumerateNoReset {
		reset, err := stimlink.NewCommand(stimlink.CmdReset)
		if err != nil {
			return err
		}
		fmt.Printf("Sending reset...\n")
		if err := sendCommand(conn, reset); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			os.Exit(2)
		}
	}

	select {
	case <-done:
	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	case <-time.After(time.Duration(enumerateTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: enumeration incomplete after %d seconds\n", enumerateTimeout)
		os.Exit(1)
	}

	printCatalog(catalog)
	return nil
}

func printCatalog(c *stimlink.Catalog) {
	fmt.Printf("\nDevice: %s\n", c.Device)

	fmt.Printf("\nStates (%d):\n", len(c.States))
	for _, id := range c.StateIDs() {
		s := c.States[id]
		updates := ""
		if s.Updatable {
			updates = "updatable"
		}
		fmt.Printf("  %2d  %-20s %s\n", id, s.Name, updates)
	}

	fmt.Printf("\nEvents (%d):\n", len(c.Events))
	for _, id := range sortedIDs(c.Events) {
		fmt.Printf("  %2d  %s\n", id, c.Events[id])
	}

	fmt.Printf("\nResults (%d):\n", len(c.Results))
	for _, id := range sortedIDs(c.Results) {
		fmt.Printf("  %2d  %s\n", id, c.Results[id])
	}

	fmt.Printf("\nParameters (%d):\n", len(c.Params))
	for _, id := range c.ParamIDs() {
		p := c.Params[id]
		fmt.Printf("  %2d  %-24s %g\n", id, p.Name, p.Default)
	}

	if c.HasState {
		fmt.Printf("\nCurrent state: %s\n", c.StateName(c.State))
	}
}

func sortedIDs(m map[int]string) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
