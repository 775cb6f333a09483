// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package periphio

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"

	"github.com/Thermoquad/optostim/pkg/hw"
)

func TestLevelToDuty(t *testing.T) {
	tests := []struct {
		level uint16
		want  gpio.Duty
	}{
		{0, 0},
		{hw.MaxLevel, gpio.DutyMax},
		{hw.MaxLevel + 100, gpio.DutyMax},
	}
	for _, tt := range tests {
		if got := LevelToDuty(tt.level); got != tt.want {
			t.Errorf("LevelToDuty(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}

	half := LevelToDuty(hw.MaxLevel / 2)
	if half <= 0 || half >= gpio.DutyMax {
		t.Errorf("LevelToDuty(half) = %v, want strictly inside (0, max)", half)
	}
}

func TestPinMap_ParseMapping(t *testing.T) {
	m := DefaultPinMap()
	if len(m) != int(hw.PinCount) {
		t.Errorf("default map has %d pins, want %d", len(m), hw.PinCount)
	}

	if err := m.ParseMapping("cancel=GPIO26"); err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	if m[hw.CancelLine] != "GPIO26" {
		t.Errorf("cancel = %q, want GPIO26", m[hw.CancelLine])
	}

	for _, bad := range []string{"cancel", "cancel=", "laser=GPIO4"} {
		if err := m.ParseMapping(bad); !errors.Is(err, ErrBadMapping) {
			t.Errorf("ParseMapping(%q) error = %v, want ErrBadMapping", bad, err)
		}
	}
}
