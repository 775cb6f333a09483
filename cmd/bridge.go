// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	bridgeListen string
	bridgePath   string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve a serial-attached controller over WebSocket",
	Long: `Bridge a controller on a serial port to WebSocket clients.

Every byte the controller sends is broadcast to all clients as a binary
message; bytes from any client are written to the serial port. The bridge does
not decode the stream, so it works with either report format.

Clients connect with the --url flag of the other commands, e.g.

  optostim bridge --port /dev/ttyACM0 --listen :8080
  optostim monitor --url ws://rig.local:8080/link

With --username set, clients must authenticate with HTTP Basic auth using that
username and the password from OPTOSTIM_PASSWORD (prompted if unset).`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", ":8080", "Address to listen on")
	bridgeCmd.Flags().StringVar(&bridgePath, "path", "/link", "WebSocket endpoint path")
}

// lockedWriter serializes writes from concurrent clients
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runBridge(cmd *cobra.Command, args []string) error {
	if portName == "" {
		return errors.New("--port must be specified")
	}

	conn, err := OpenSerialConnection(portName, baudRate)
	if err != nil {
		return err
	}
	defer conn.Close()

	password := ""
	if wsUsername != "" {
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	port := &lockedWriter{w: conn}
	hub := newLinkHub(func() io.WriteCloser {
		return nopWriteCloser{port}
	}, wsUsername, password)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Serial -> clients
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				hub.Write(buf[:n])
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Serial read error: %v", err)
				}
				stop()
				return
			}
		}
	}()

	log.Printf("Bridging %s @ %d baud", portName, baudRate)
	err = serveLink(ctx, bridgeListen, bridgePath, hub)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
