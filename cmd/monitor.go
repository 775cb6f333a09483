// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorReset bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and driving the controller",
	Long: `Monitor and drive the controller via an interactive terminal UI.

Features:
  - Live state, last result and experiment time
  - Parameter table with current values
  - Command list (Enter sends, or prefills the command line for commands
    taking arguments)
  - Free-form command line: letters or names, e.g. "P 3 40" or "go"
  - Statistics tracking and event logging
  - Automatic reconnection on connection loss

Names are learnt from the enumeration the controller sends at boot. Use
--reset to restart the controller on connect so the enumeration is seen
immediately; this abandons any running experiment.

Tab switches between the command list and the command line.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorReset, "reset", false, "Reset the controller on connect to learn its enumeration")
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	conn     Connection
	connInfo string
	format   stimlink.Format
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// send writes cmd to the current connection
func (cm *connectionManager) send(cmd stimlink.Command) error {
	conn := cm.getConn()
	if conn == nil {
		return errors.New("not connected")
	}
	return sendCommand(conn, cmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	format, err := linkFormat()
	if err != nil {
		return err
	}

	// Open initial connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		format:   format,
		done:     make(chan struct{}),
	}

	m := initialMonitorModel(cm, connInfo)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.readerLoop()
	cm.sendInitialReset()

	_, err = p.Run()
	close(cm.done) // Signal goroutines to stop
	cm.getConn().Close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// readerLoop handles reading from connection with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.readFromConnection() {
			// Notify TUI about connection loss
			cm.p.Send(connectionLostMsg{})

			if !cm.reconnect() {
				return // Shutdown requested during reconnect
			}
		}
	}
}

// readFromConnection reads reports from the connection until it fails.
// Returns true if connection was lost, false if shutdown requested.
func (cm *connectionManager) readFromConnection() bool {
	// Buffered channel for batching updates
	batchChan := make(chan monitorDataMsg, 256)
	syncChan := make(chan syncMsg, 1)
	readerDone := make(chan struct{})

	// Reader goroutine - decodes reports and sends to batch channel
	go func() {
		defer close(readerDone)
		filter := &syncFilter{}
		visit := func(r *stimlink.Message, err error) bool {
			select {
			case <-cm.done:
				return false
			default:
			}
			ok, synced := filter.accept(r, err)
			if synced {
				select {
				case syncChan <- syncMsg{skipped: filter.skipped}:
				default:
				}
			}
			if ok {
				select {
				case batchChan <- monitorDataMsg{message: r, decodeErr: err}:
				default:
				}
			}
			return true
		}

		for {
			conn := cm.getConn()
			if conn == nil {
				return
			}
			err := readMessages(conn, cm.format, visit)
			select {
			case <-cm.done:
				return
			default:
			}
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed
			if err == nil || errors.Is(err, ErrConnectionClosed) {
				return
			}
			// Brief pause before retry on transient errors (e.g., serial)
			time.Sleep(10 * time.Millisecond)
		}
	}()

	// Batch sender goroutine - sends batched updates to TUI at fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch monitorBatchMsg

				select {
				case s := <-syncChan:
					batch.sync = &s
				default:
				}

			drainLoop:
				for {
					select {
					case msg := <-batchChan:
						batch.messages = append(batch.messages, msg)
					default:
						break drainLoop
					}
				}

				if batch.sync != nil || len(batch.messages) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	// Wait for reader to finish (connection lost or shutdown)
	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true // Connection lost
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			cm.sendInitialReset()
			return true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// sendInitialReset restarts the controller when --reset is set, so its
// enumeration arrives on a fresh connection
func (cm *connectionManager) sendInitialReset() {
	if !monitorReset {
		return
	}
	reset, err := stimlink.NewCommand(stimlink.CmdReset)
	if err != nil {
		return
	}
	cm.send(reset)
}
