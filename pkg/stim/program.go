// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import (
	"github.com/Thermoquad/optostim/pkg/params"
	"github.com/Thermoquad/optostim/pkg/pulse"
)

// Target is what a program phase drives
type Target int

// Phase targets
const (
	TargetChrimson Target = iota
	TargetChr2
	// TargetAlternate alternates pulses between the channels, Chrimson first
	TargetAlternate
)

func (t Target) String() string {
	switch t {
	case TargetChrimson:
		return "Chrimson"
	case TargetChr2:
		return "ChR2"
	case TargetAlternate:
		return "alternate"
	default:
		return "unknown"
	}
}

// Phase runs Trains trains on one target. Delay is the pause after the phase
// when another phase follows.
type Phase struct {
	Target Target
	Trains int
	Delay  uint32
}

// ProgramKind tells ladders and tag programs apart for result reporting
type ProgramKind int

// Program kinds
const (
	KindLadder ProgramKind = iota
	KindTag
)

// Program is an ordered list of phases
type Program struct {
	Kind     ProgramKind
	Phases   []Phase
	TrainGap uint32 // pause between trains of the same phase
}

// LadderProgram builds the opto ladder from the current parameters:
// A×LadderTrainsA, B×LadderTrainsB, A×LadderTrainsA.
func LadderProgram(s *params.Store) Program {
	a := s.Int(params.LadderTrainsA)
	b := s.Int(params.LadderTrainsB)
	delay := s.Millis(params.LadderDelay)
	return Program{
		Kind: KindLadder,
		Phases: []Phase{
			{Target: TargetChrimson, Trains: a, Delay: delay},
			{Target: TargetChr2, Trains: b, Delay: delay},
			{Target: TargetChrimson, Trains: a},
		},
		TrainGap: s.Millis(params.LadderTrainGap),
	}
}

// TagProgram builds the dual-channel tag program: TagTrains alternating trains
func TagProgram(s *params.Store) Program {
	return Program{
		Kind:     KindTag,
		Phases:   []Phase{{Target: TargetAlternate, Trains: s.Int(params.TagTrains)}},
		TrainGap: s.Millis(params.LadderTrainGap),
	}
}

// Result returns the code reported when p ends
func (p Program) Result(cancelled bool) Result {
	switch {
	case p.Kind == KindTag && cancelled:
		return TagCancelled
	case p.Kind == KindTag:
		return TagComplete
	case cancelled:
		return LadderCancelled
	default:
		return LadderComplete
	}
}

// slotEnv resolves the timing and gate driving one pulse slot of a target
type slotEnv func(t Target, slot int) (pulse.Timing, pulse.Gate)

// programStep reports what one advance did
type programStep struct {
	PhaseStarted bool
	TrainStarted bool
	TrainEnded   bool
	PhaseEnded   bool
	Done         bool
}

// programRun walks a Program without blocking. Pauses between trains and
// between phases use the same elapsed-time check as inter-pulse gaps.
type programRun struct {
	prog     Program
	phase    int
	trains   int // completed trains in the current phase, counted by train
	train    pulse.Train
	waiting  bool
	waitFrom uint32
	waitFor  uint32
	active   bool
}

func (r *programRun) start(p Program, now uint32) {
	*r = programRun{prog: p, active: true}
	r.phase = r.nextPhase(0)
	r.wait(now, 0)
}

func (r *programRun) wait(now, ms uint32) {
	r.waiting = true
	r.waitFrom = now
	r.waitFor = ms
}

// nextPhase returns the first phase at or after i with trains to run, or -1
func (r *programRun) nextPhase(i int) int {
	for ; i < len(r.prog.Phases); i++ {
		if r.prog.Phases[i].Trains > 0 {
			return i
		}
	}
	return -1
}

// stop forces the output of the running slot off and clears the run
func (r *programRun) stop(env slotEnv) {
	if r.active && r.train.InPulse() && r.phase >= 0 {
		_, g := env(r.prog.Phases[r.phase].Target, r.train.Index())
		r.train.Stop(g)
	}
	*r = programRun{}
}

// Active reports whether the program is running
func (r *programRun) Active() bool { return r.active }

// advance moves the program forward to now
func (r *programRun) advance(now uint32, env slotEnv) programStep {
	var st programStep
	if !r.active {
		return st
	}
	if r.phase < 0 {
		r.active = false
		st.Done = true
		return st
	}

	if r.waiting {
		if now-r.waitFrom < r.waitFor {
			return st
		}
		r.waiting = false
		if r.trains == 0 {
			st.PhaseStarted = true
			r.train.Reset(now, true)
		} else {
			r.train.Restart(now)
		}
		st.TrainStarted = true
	}

	ph := r.prog.Phases[r.phase]
	timing, gate := env(ph.Target, r.train.Index())
	if step := r.train.Advance(now, timing, gate); !step.TrainDone {
		return st
	}

	st.TrainEnded = true
	r.trains = r.train.Trains()
	if r.trains < ph.Trains {
		r.wait(now, r.prog.TrainGap)
		return st
	}

	st.PhaseEnded = true
	r.trains = 0
	r.phase = r.nextPhase(r.phase + 1)
	if r.phase < 0 {
		r.active = false
		st.Done = true
		return st
	}
	r.wait(now, ph.Delay)
	return st
}

// alternateSlot maps a slot of an alternating train to its channel and
// reports whether that channel still has a pulse to give. Each train has
// 2·max(nA, nB) slots; the shorter channel's surplus slots keep their timing
// but drive nothing.
func alternateSlot(slot, nA, nB int) (ch params.Channel, live bool) {
	ch = params.Chrimson
	n := nA
	if slot%2 == 1 {
		ch = params.Chr2
		n = nB
	}
	return ch, slot/2 < n
}

// noGate absorbs the edges of padding slots
var noGate = pulse.GateFunc(func(bool) {})
