// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/optostim/pkg/params"
	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/spf13/cobra"
)

var paramSettings []string

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the parameter table and derived pulse timing",
	Long: `Print every parameter with its boot default, offline.

Use --set id=value (repeatable) to see the effect of writes before sending them:
timing writes recompute the derived frequency, period, duty cycle, up time and
down time of their channel exactly as the controller does.`,
	Args: cobra.NoArgs,
	RunE: runParams,
}

func init() {
	rootCmd.AddCommand(paramsCmd)
	paramsCmd.Flags().StringArrayVar(&paramSettings, "set", nil, "Apply a parameter write (id=value)")
}

// parseSetting parses an "id=value" parameter write
func parseSetting(spec string) (params.ID, float64, error) {
	name, raw, ok := strings.Cut(spec, "=")
	if !ok {
		return 0, 0, fmt.Errorf("invalid setting %q (want id=value)", spec)
	}
	id, err := params.ParseID(name)
	if err != nil {
		return 0, 0, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value for %s: %w", id, err)
	}
	return id, value, nil
}

// applySettings applies each "id=value" write to store in order
func applySettings(store *params.Store, specs []string) error {
	for _, spec := range specs {
		id, value, err := parseSetting(spec)
		if err != nil {
			return err
		}
		if _, err := store.Set(id, value); err != nil {
			return err
		}
	}
	return nil
}

func runParams(cmd *cobra.Command, args []string) error {
	defaults := params.New()
	store := params.New()
	if err := applySettings(store, paramSettings); err != nil {
		return err
	}

	fmt.Printf("%-4s %-24s %12s %12s\n", "ID", "NAME", "DEFAULT", "VALUE")
	store.ForEach(func(id params.ID, name string, value float64) {
		marker := ""
		if def := defaults.MustGet(id); def != value {
			marker = " *"
		}
		fmt.Printf("%-4d %-24s %12g %12g%s\n", int(id), name, defaults.MustGet(id), value, marker)
	})

	fmt.Println()
	for _, ch := range []params.Channel{params.Chrimson, params.Chr2} {
		t := store.Timing(ch)
		train := uint32(t.Pulses) * (t.Width + t.Interval)
		fmt.Printf("%-9s %d pulses of %d ms every %d ms, train %s, power %d\n",
			ch.String()+":", t.Pulses, t.Width, t.Width+t.Interval,
			stimlink.FormatMillis(train), store.Int(ch.PowerID()))
	}
	return nil
}
