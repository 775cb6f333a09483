// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Detect and analyze malformed and anomalous reports",
	Long: `Track report errors and anomalies with statistics.

Each report is checked against the enumeration the controller announced at boot:
  - Malformed lines and frames failing the CRC check
  - References to states, events, results or parameters never announced
  - Timestamps running backwards within an experiment
  - Null result codes, empty diagnostics and definitions sent mid-run
  - Statistics and trends (message rate, error rate, results per code)

By default, only errors, diagnostics and warnings are displayed. Use --show-all
to display valid reports too.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all reports (not just errors)")
	validateCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	validateCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := linkFormat()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo, format)
	}
	return runTextMode(conn, connInfo, format)
}

// syncFilter drops decode errors until the first clean report, which is how
// a reader joining a stream mid-line or mid-frame finds its footing
type syncFilter struct {
	synchronized bool
	skipped      int
}

// accept reports whether a decode result should be processed, and whether it
// is the one that synchronized the stream
func (f *syncFilter) accept(m *stimlink.Message, err error) (ok, synced bool) {
	if f.synchronized {
		return true, false
	}
	if err != nil {
		f.skipped++
		return false, false
	}
	f.synchronized = true
	return true, true
}

// readUntilClosed runs readMessages, logging and retrying read errors until the
// connection is closed
func readUntilClosed(conn io.Reader, format stimlink.Format, visit func(m *stimlink.Message, err error) bool) {
	for {
		err := readMessages(conn, format, visit)
		if err == nil || errors.Is(err, ErrConnectionClosed) {
			return
		}
		log.Printf("Read error: %v", err)
	}
}

// runTUIMode runs validation in TUI mode
func runTUIMode(conn Connection, connInfo string, format stimlink.Format) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	go func() {
		filter := &syncFilter{}
		readUntilClosed(conn, format, func(r *stimlink.Message, err error) bool {
			ok, synced := filter.accept(r, err)
			if synced {
				p.Send(syncMsg{skipped: filter.skipped})
			}
			if ok {
				p.Send(reportMsg{message: r, decodeErr: err})
			}
			return true
		})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs validation in text mode
func runTextMode(conn Connection, connInfo string, format stimlink.Format) error {
	fmt.Printf("Optostim - Report Validation\n")
	fmt.Printf("Connection: %s (%s)\n", connInfo, format)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All reports\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	catalog := stimlink.NewCatalog()
	validator := stimlink.NewValidator(catalog)
	stats := stimlink.NewStatistics()

	type decoded struct {
		message *stimlink.Message
		err     error
	}
	reports := make(chan decoded, 64)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		readUntilClosed(conn, format, func(m *stimlink.Message, err error) bool {
			reports <- decoded{m, err}
			return true
		})
	}()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	filter := &syncFilter{}
	for {
		select {
		case d := <-reports:
			ok, synced := filter.accept(d.message, d.err)
			if synced {
				if filter.skipped > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d undecodable reports\n\n", filter.skipped)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			if !ok {
				continue
			}

			if d.err != nil {
				stats.Update(nil, d.err, nil, catalog)
				printDecodeError(d.err)
				continue
			}

			r := *d.message
			anomalies := validator.Validate(r)
			catalog.Observe(r)
			stats.Update(&r, nil, anomalies, catalog)

			switch {
			case len(anomalies) > 0:
				printAnomalies(r, catalog, anomalies)
			case r.Kind == stimlink.KindDiagnostic:
				// Always print diagnostics
				fmt.Printf("\033[1;32mDIAGNOSTIC:\033[0m %s\n", r.Text)
			case showAll:
				fmt.Println(stimlink.FormatMessage(r, catalog))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.Format(catalog))
			fmt.Println()

		case <-closed:
			fmt.Println()
			fmt.Print(stats.Format(catalog))
			return nil
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printAnomalies prints the anomalies found in one report
func printAnomalies(m stimlink.Message, c *stimlink.Catalog, anomalies []stimlink.ValidationError) {
	fmt.Printf("\033[1;33mANOMALY:\033[0m %s\n", stimlink.FormatMessage(m, c))

	for i, a := range anomalies {
		switch a.Type {
		case stimlink.AnomalyUnknownKind, stimlink.AnomalyUnknownID, stimlink.AnomalyNullResult:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		case stimlink.AnomalyTimeReversal:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
			if prev, ok := a.Details["previous"].(uint32); ok {
				fmt.Printf("    previous report at %s\n", stimlink.FormatMillis(prev))
			}
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, a.Message)
		}
	}

	if c.HasState {
		fmt.Printf("  State: %s\n", c.StateName(c.State))
	}
	fmt.Printf("  >>> REPORT FLAGGED <<<\n\n")
}
