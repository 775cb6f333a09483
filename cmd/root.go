// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Report encoding
	formatName string
)

var rootCmd = &cobra.Command{
	Use:   "optostim",
	Short: "Optogenetic stimulation controller",
	Long: `Optostim - A dual-channel optogenetic stimulation controller and host tools.

The run command hosts the controller itself, on simulated hardware or Linux
GPIO. The remaining commands talk to a running controller: they decode and
validate its report stream, send commands and provide an interactive monitor.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Report formats:
  line: one text line per report (default, human readable)
  cbor: framed CBOR with CRC (binary links)

For WebSocket authentication, the password is read from the OPTOSTIM_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&formatName, "format", "f", "line", "Report format (line or cbor)")
}

// linkFormat returns the report format selected by --format
func linkFormat() (stimlink.Format, error) {
	return stimlink.ParseFormat(formatName)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
