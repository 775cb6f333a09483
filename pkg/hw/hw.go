// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hw is the hardware facade the stimulator drives.
//
// The controller only ever talks to an IO: digital lines, DAC levels and a
// monotonic millisecond clock. Sim implements IO in memory for tests and bench
// runs; the periphio subpackage implements it over Linux GPIO.
package hw

import (
	"fmt"
	"strings"
)

// Pin names a logical line of the stimulator
type Pin int

// Pins. Outputs first, then DAC outputs, then inputs.
const (
	ChrimsonGate Pin = iota
	Chr2Gate
	PhotometryLED
	ChrimsonDAC
	Chr2DAC
	PhotometryDAC
	ChrimsonTrigger
	Chr2Trigger
	CancelLine
	TrialLine
	CueLine

	// PinCount is the number of logical pins
	PinCount
)

var pinNames = [...]string{
	ChrimsonGate:    "chrimson_gate",
	Chr2Gate:        "chr2_gate",
	PhotometryLED:   "photometry_led",
	ChrimsonDAC:     "chrimson_dac",
	Chr2DAC:         "chr2_dac",
	PhotometryDAC:   "photometry_dac",
	ChrimsonTrigger: "chrimson_trigger",
	Chr2Trigger:     "chr2_trigger",
	CancelLine:      "cancel",
	TrialLine:       "trial",
	CueLine:         "cue",
}

var _ [len(pinNames) - int(PinCount)]struct{}
var _ [int(PinCount) - len(pinNames)]struct{}

// MaxLevel is the full-scale DAC level
const MaxLevel = 4095

func (p Pin) String() string {
	if p < 0 || p >= PinCount {
		return fmt.Sprintf("pin(%d)", int(p))
	}
	return pinNames[p]
}

// IsInput reports whether p is sampled rather than driven
func (p Pin) IsInput() bool {
	return p >= ChrimsonTrigger && p < PinCount
}

// IsAnalog reports whether p is a DAC output
func (p Pin) IsAnalog() bool {
	return p >= ChrimsonDAC && p <= PhotometryDAC
}

// ParsePin resolves a pin name
func ParsePin(s string) (Pin, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, n := range pinNames {
		if n == s {
			return Pin(i), nil
		}
	}
	return 0, fmt.Errorf("hw: unknown pin %q", s)
}

// Inputs lists the sampled pins in sampling order
var Inputs = []Pin{ChrimsonTrigger, Chr2Trigger, CancelLine, TrialLine, CueLine}

// AnalogChannels maps the host's analog-write channel number to a DAC pin
var AnalogChannels = []Pin{ChrimsonDAC, Chr2DAC, PhotometryDAC}

// IO is the capability the controller calls for every physical effect
type IO interface {
	DigitalRead(p Pin) bool
	DigitalWrite(p Pin, high bool)
	AnalogWrite(p Pin, level uint16)
	Millis() uint32
}

// Edges detects level changes on input pins between samples
type Edges struct {
	prev    [PinCount]bool
	rising  [PinCount]bool
	falling [PinCount]bool
	primed  bool
}

// Sample reads every input once. The first sample only records levels, so a
// line already high at boot does not produce a rising edge.
func (e *Edges) Sample(io IO) {
	for _, p := range Inputs {
		level := io.DigitalRead(p)
		e.rising[p] = e.primed && level && !e.prev[p]
		e.falling[p] = e.primed && !level && e.prev[p]
		e.prev[p] = level
	}
	e.primed = true
}

// Rising reports a low-to-high transition at the last sample
func (e *Edges) Rising(p Pin) bool { return e.rising[p] }

// Falling reports a high-to-low transition at the last sample
func (e *Edges) Falling(p Pin) bool { return e.falling[p] }

// Reset forgets every level so the next sample primes again
func (e *Edges) Reset() {
	*e = Edges{}
}
