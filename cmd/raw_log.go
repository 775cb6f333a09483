// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display the report stream in human-readable format",
	Long: `Continuously decode and display controller reports as they arrive.

Definitions announced at boot are remembered, so runtime reports are shown with
state, event, result and parameter names rather than bare IDs.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	format, err := linkFormat()
	if err != nil {
		return err
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Optostim - Raw Report Log\n")
	fmt.Printf("Connection: %s (%s)\n", connInfo, format)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	catalog := stimlink.NewCatalog()
	visit := func(m *stimlink.Message, err error) bool {
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			return true
		}
		catalog.Observe(*m)
		fmt.Println(stimlink.FormatMessage(*m, catalog))
		return true
	}

	for {
		err := readMessages(conn, format, visit)
		// For WebSocket connections, a read error usually means
		// the connection is permanently closed - exit gracefully
		if errors.Is(err, ErrConnectionClosed) {
			log.Printf("Connection closed")
			return nil
		}
		log.Printf("Read error: %v", err)
	}
}
