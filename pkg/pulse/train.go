// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pulse generates pulse trains without blocking.
//
// A Train is advanced once per scheduler tick with the current millisecond clock.
// Each call performs at most one output edge, so pulse timing accuracy is bounded
// by the tick period and never by other work done in the same loop.
package pulse

// Gate switches the output a train drives
type Gate interface {
	Set(on bool)
}

// GateFunc adapts a function to the Gate interface
type GateFunc func(on bool)

// Set calls f(on)
func (f GateFunc) Set(on bool) { f(on) }

// Timing describes one train. Width and Interval are milliseconds.
// Interval is the minimum gap between the end of one pulse and the start of the
// next; the first pulse of a train also waits Interval after Reset.
type Timing struct {
	Width    uint32
	Interval uint32
	Pulses   int
}

// Edge is the output transition performed by a call to Advance
type Edge int

// Edge values
const (
	EdgeNone Edge = iota
	EdgeOn
	EdgeOff
)

func (e Edge) String() string {
	switch e {
	case EdgeOn:
		return "ON"
	case EdgeOff:
		return "OFF"
	default:
		return "NONE"
	}
}

// Step reports what one Advance call did
type Step struct {
	Edge      Edge
	Index     int  // pulse index the edge belongs to
	TrainDone bool // the last pulse of a train just ended
}

// Train is the per-channel pulse bookkeeping
type Train struct {
	index      int
	inPulse    bool
	pulseStart uint32
	ipiTimer   uint32
	width      uint32 // latched at pulse start
	trains     int
	single     bool
	finished   bool
	active     bool
}

// Reset starts a fresh train at now. In single-train mode the train finishes
// after its first completed train.
func (t *Train) Reset(now uint32, singleTrain bool) {
	*t = Train{
		ipiTimer: now,
		single:   singleTrain,
		active:   true,
	}
}

// Restart begins a new train at now, keeping the completed-train count.
// Used between trains of a multi-train program.
func (t *Train) Restart(now uint32) {
	t.index = 0
	t.inPulse = false
	t.ipiTimer = now
	t.finished = false
	t.active = true
}

// Stop forces the output off and clears every flag
func (t *Train) Stop(g Gate) {
	if t.inPulse && g != nil {
		g.Set(false)
	}
	*t = Train{}
}

// Advance moves the train forward to now and performs at most one edge on g
func (t *Train) Advance(now uint32, timing Timing, g Gate) Step {
	if !t.active || t.finished {
		return Step{}
	}

	step := Step{Index: t.index}

	switch {
	case !t.inPulse && t.index < timing.Pulses && now-t.ipiTimer >= timing.Interval:
		g.Set(true)
		t.inPulse = true
		t.pulseStart = now
		t.width = timing.Width
		step.Edge = EdgeOn

	case t.inPulse && now-t.pulseStart >= t.width:
		g.Set(false)
		t.inPulse = false
		t.ipiTimer = now
		t.index++
		step.Edge = EdgeOff
	}

	if !t.inPulse && t.index >= timing.Pulses {
		t.index = 0
		t.trains++
		step.TrainDone = true
		if t.single {
			t.finished = true
		}
	}

	return step
}

// Index returns the index of the current or next pulse
func (t *Train) Index() int { return t.index }

// InPulse reports whether the output is currently on
func (t *Train) InPulse() bool { return t.inPulse }

// Trains returns the number of completed trains since Reset
func (t *Train) Trains() int { return t.trains }

// Active reports whether the train has been started and not stopped
func (t *Train) Active() bool { return t.active && !t.finished }

// Finished reports whether a single-train session has completed
func (t *Train) Finished() bool { return t.finished }
