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
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid report",
	Long: `Wait for a valid report on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any report
that decodes cleanly. Garbage bytes, malformed lines and frames failing the CRC
check are skipped.

Exit codes:
  0 - Report received before timeout
  1 - Timeout reached without receiving a valid report
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a report")
}

func runProbe(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Optostim - Probe\n")
	fmt.Printf("Connection: %s (%s)\n", connInfo, format)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for a valid report...\n\n")

	messageChan := make(chan stimlink.Message, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		skipped := 0
		err := readMessages(conn, format, func(m *stimlink.Message, err error) bool {
			if err != nil {
				skipped++
				return true
			}
			if skipped > 0 {
				fmt.Printf("(skipped %d undecodable reports before sync)\n", skipped)
			}
			messageChan <- *m
			return false
		})
		if err != nil {
			errChan <- err
		}
	}()

	// Wait for a report or timeout
	select {
	case m := <-messageChan:
		fmt.Printf("SUCCESS: Received valid report\n")
		fmt.Printf("  Kind: %s (%c)\n", m.Kind, m.Kind.Sigil())
		fmt.Printf("  Report: %s\n", stimlink.FormatMessage(m, nil))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid report received within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	return nil
}
