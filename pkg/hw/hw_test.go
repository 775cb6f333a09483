// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import "testing"

func TestPin_Names(t *testing.T) {
	seen := map[string]bool{}
	for p := Pin(0); p < PinCount; p++ {
		name := p.String()
		if name == "" || seen[name] {
			t.Errorf("pin %d has empty or duplicate name %q", int(p), name)
		}
		seen[name] = true

		got, err := ParsePin(name)
		if err != nil || got != p {
			t.Errorf("ParsePin(%q) = %v, %v; want %v", name, got, err, p)
		}
	}
	if _, err := ParsePin("laser"); err == nil {
		t.Error("ParsePin(laser) should fail")
	}
}

func TestPin_Classes(t *testing.T) {
	for _, p := range Inputs {
		if !p.IsInput() || p.IsAnalog() {
			t.Errorf("%s: IsInput=%v IsAnalog=%v", p, p.IsInput(), p.IsAnalog())
		}
	}
	for _, p := range AnalogChannels {
		if !p.IsAnalog() || p.IsInput() {
			t.Errorf("%s: IsInput=%v IsAnalog=%v", p, p.IsInput(), p.IsAnalog())
		}
	}
}

func TestEdges(t *testing.T) {
	sim := NewSim(0)
	var e Edges

	// Line already high at the first sample is not an edge
	sim.SetInput(TrialLine, true)
	e.Sample(sim)
	if e.Rising(TrialLine) {
		t.Error("first sample reported a rising edge")
	}

	sim.SetInput(TrialLine, false)
	e.Sample(sim)
	if !e.Falling(TrialLine) {
		t.Error("missed falling edge")
	}

	sim.SetInput(CueLine, true)
	e.Sample(sim)
	if !e.Rising(CueLine) || e.Rising(TrialLine) || e.Falling(TrialLine) {
		t.Errorf("edges after cue rise: cue rising=%v trial rising=%v trial falling=%v",
			e.Rising(CueLine), e.Rising(TrialLine), e.Falling(TrialLine))
	}

	// Held level produces no further edge
	e.Sample(sim)
	if e.Rising(CueLine) {
		t.Error("held level reported as a new edge")
	}
}

func TestSim_LogAndClock(t *testing.T) {
	sim := NewSim(100)
	sim.DigitalWrite(ChrimsonGate, true)
	sim.Advance(5)
	sim.DigitalWrite(ChrimsonGate, false)
	sim.AnalogWrite(ChrimsonDAC, 1234)

	if sim.Millis() != 105 {
		t.Errorf("Millis() = %d, want 105", sim.Millis())
	}
	writes := sim.WritesTo(ChrimsonGate)
	if len(writes) != 2 || !writes[0].High || writes[1].High || writes[1].Time != 105 {
		t.Errorf("gate writes = %v", writes)
	}
	if sim.Level(ChrimsonDAC) != 1234 {
		t.Errorf("Level(chrimson_dac) = %d, want 1234", sim.Level(ChrimsonDAC))
	}
	if n := len(sim.Writes()); n != 3 {
		t.Errorf("len(Writes()) = %d, want 3", n)
	}

	sim.ClearLog()
	if n := len(sim.Writes()); n != 0 {
		t.Errorf("len(Writes()) after clear = %d, want 0", n)
	}
}
