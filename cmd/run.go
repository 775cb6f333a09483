// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/optostim/pkg/hw"
	"github.com/Thermoquad/optostim/pkg/hw/periphio"
	"github.com/Thermoquad/optostim/pkg/params"
	"github.com/Thermoquad/optostim/pkg/stim"
	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var (
	runSim      bool
	runGPIO     bool
	runPins     []string
	runTick     time.Duration
	runSettings []string
	runIdentity string
	runListen   string
	runPath     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stimulation controller",
	Long: `Run the stimulation controller state machine.

By default the controller runs on a simulated board whose clock follows real
time, with commands read from stdin and reports written to stdout. With --port
the host link is that serial port instead. With --listen the link is also
served to WebSocket clients, which may all send commands and all receive the
report stream.

Hardware:
  --sim (default)   in-memory board, outputs are not driven anywhere
  --gpio            Linux GPIO through periph.io; remap lines with
                    --pin chrimson-gate=GPIO23 (repeatable)

Parameters can be preset with --set id=value (repeatable). The id is a
parameter label or number; see 'optostim params'. Preset values become the
boot values the reset command restores.

Log output goes to stderr so stdout carries only the report stream.`,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSim, "sim", true, "Run on the simulated board")
	runCmd.Flags().BoolVar(&runGPIO, "gpio", false, "Run on Linux GPIO via periph.io")
	runCmd.Flags().StringArrayVar(&runPins, "pin", nil, "Override a GPIO line mapping (pin=LINE)")
	runCmd.Flags().DurationVar(&runTick, "tick", stim.DefaultTickPeriod, "Control loop period")
	runCmd.Flags().StringArrayVar(&runSettings, "set", nil, "Preset a parameter (id=value)")
	runCmd.Flags().StringVar(&runIdentity, "identity", stim.DefaultIdentity, "Device identity sent at boot")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Also serve the link over WebSocket on this address (e.g. :8080)")
	runCmd.Flags().StringVar(&runPath, "path", "/link", "WebSocket endpoint path")
	runCmd.MarkFlagsMutuallyExclusive("sim", "gpio")
}

// useGPIO resolves --sim and --gpio. --gpio wins over the --sim default;
// turning both off leaves no board to run on.
func useGPIO(sim, gpio bool) (bool, error) {
	if !sim && !gpio {
		return false, errors.New("no board selected: use --sim or --gpio")
	}
	return gpio, nil
}

// openBoard returns the selected hardware and a function releasing it
func openBoard() (hw.IO, func() error, error) {
	gpio, err := useGPIO(runSim, runGPIO)
	if err != nil {
		return nil, nil, err
	}
	if !gpio {
		sim := hw.NewSim(0)
		sim.DisableLog()
		sim.FollowWallClock()
		return sim, func() error { return nil }, nil
	}

	pins := periphio.DefaultPinMap()
	for _, spec := range runPins {
		if err := pins.ParseMapping(spec); err != nil {
			return nil, nil, err
		}
	}
	board, err := periphio.Open(pins)
	if err != nil {
		return nil, nil, err
	}
	return board, board.Close, nil
}

func runController(cmd *cobra.Command, args []string) error {
	format, err := linkFormat()
	if err != nil {
		return err
	}

	store := params.New()
	if err := applySettings(store, runSettings); err != nil {
		return err
	}

	board, release, err := openBoard()
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			log.Printf("Failed to release board: %v", err)
		}
	}()

	// Host link: serial port or stdio
	var in io.Reader = os.Stdin
	var out io.Writer = os.Stdout
	linkInfo := "stdio"
	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return err
		}
		defer conn.Close()
		in, out = conn, conn
		linkInfo = fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
	}

	sinks := stimlink.MultiSink{stimlink.NewWriter(out, stimlink.NewEncoder(format))}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runner *stim.Runner
	var hub *linkHub
	if runListen != "" {
		password := ""
		if wsUsername != "" {
			if password, err = GetPassword(); err != nil {
				return err
			}
		}
		hub = newLinkHub(func() io.WriteCloser {
			pr, pw := io.Pipe()
			go func() {
				if err := runner.Feed(pr); err != nil {
					log.Printf("WebSocket client feed: %v", err)
				}
			}()
			return pw
		}, wsUsername, password)
		sinks = append(sinks, stimlink.NewWriter(hub, stimlink.NewEncoder(format)))
	}

	machine := stim.New(board, store, sinks)
	machine.SetIdentity(runIdentity)
	runner = stim.NewRunner(machine, runTick, stim.DefaultInboxDepth)

	log.Printf("Optostim controller %q on %s, link %s (%s), tick %v",
		runIdentity, boardName(), linkInfo, format, runTick)

	go func() {
		if err := runner.Feed(in); err != nil {
			log.Printf("Link read error: %v", err)
		}
	}()

	if hub != nil {
		go func() {
			if err := serveLink(ctx, runListen, runPath, hub); err != nil {
				log.Printf("WebSocket server: %v", err)
				stop()
			}
		}()
	}

	err = runner.Run(ctx)
	log.Printf("Controller stopped in %s", machine.State())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func boardName() string {
	if runGPIO {
		return "periph.io GPIO"
	}
	return "simulated board"
}
