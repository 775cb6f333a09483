// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the command path by sending help requests",
	Long: `Send help commands to the controller and wait for the diagnostic reply.

The controller answers a help command in every state, so the round trip of the
first diagnostic line measures the full host -> controller -> host path.

This is useful for verifying:
  - The connection is established
  - HTTP Basic authentication works (WebSocket)
  - The controller is ticking and parsing commands
  - Bidirectional traffic works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Optostim - Ping Test\n")
	fmt.Printf("Connection: %s (%s)\n", connInfo, format)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	help, err := stimlink.NewCommand(stimlink.CmdHelp)
	if err != nil {
		return err
	}

	// One reader for the whole run; only diagnostics are of interest
	diagChan := make(chan stimlink.Message, 64)
	errChan := make(chan error, 1)
	go func() {
		errChan <- readMessages(conn, format, func(m *stimlink.Message, err error) bool {
			if err == nil && m.Kind == stimlink.KindDiagnostic {
				select {
				case diagChan <- *m:
				default:
				}
			}
			return true
		})
	}()

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// Drop the tail of the previous help listing
	drain:
		for {
			select {
			case <-diagChan:
			default:
				break drain
			}
		}

		startTime := time.Now()
		if err := sendCommand(conn, help); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case m := <-diagChan:
			rtt := time.Since(startTime)
			fmt.Printf("reply %q, rtt=%v\n", m.Text, rtt.Round(time.Millisecond))
			successCount++

		case err := <-errChan:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount += pingCount - i + 1
			i = pingCount

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
