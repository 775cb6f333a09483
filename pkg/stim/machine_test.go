// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import (
	"testing"

	"github.com/Thermoquad/optostim/pkg/hw"
	"github.com/Thermoquad/optostim/pkg/params"
	"github.com/Thermoquad/optostim/pkg/stimlink"
)

// ============================================================
// Bench helpers
// ============================================================

type bench struct {
	t     *testing.T
	sim   *hw.Sim
	rec   *stimlink.Recorder
	store *params.Store
	m     *Machine
}

// newBench boots a machine into Idle. Each write is applied to the store
// before boot, so it becomes part of the reset snapshot.
func newBench(t *testing.T, writes map[params.ID]float64) *bench {
	t.Helper()
	store := params.New()
	// Write frequencies first so duty and pulse counts land on the new period
	for _, id := range []params.ID{params.ChrimsonFrequency, params.Chr2Frequency} {
		if v, ok := writes[id]; ok {
			if _, err := store.Set(id, v); err != nil {
				t.Fatalf("Set(%s, %v) error: %v", id, v, err)
			}
		}
	}
	for id, v := range writes {
		if _, err := store.Set(id, v); err != nil {
			t.Fatalf("Set(%s, %v) error: %v", id, v, err)
		}
	}

	b := &bench{
		t:     t,
		sim:   hw.NewSim(0),
		rec:   &stimlink.Recorder{},
		store: store,
	}
	b.m = New(b.sim, store, b.rec)
	b.tick()
	b.tick()
	if b.m.State() != Idle {
		t.Fatalf("State() after boot = %v, want %v", b.m.State(), Idle)
	}
	b.sim.ClearLog()
	b.rec.Reset()
	return b
}

// tenHz gives both channels 10 ms pulses every 100 ms
func tenHz(pulsesA, pulsesB float64) map[params.ID]float64 {
	return map[params.ID]float64{
		params.ChrimsonFrequency: 10,
		params.ChrimsonPulses:    pulsesA,
		params.Chr2Frequency:     10,
		params.Chr2Pulses:        pulsesB,
	}
}

func (b *bench) tick() {
	b.m.Tick(nil)
}

// send runs one tick with a command, without advancing the clock
func (b *bench) send(code stimlink.Code, args ...int) {
	b.t.Helper()
	cmd, err := stimlink.NewCommand(code, args...)
	if err != nil {
		b.t.Fatalf("NewCommand(%s) error: %v", code, err)
	}
	b.m.Tick(&cmd)
}

// runUntil ticks once per millisecond until the clock reaches until
func (b *bench) runUntil(until uint32) {
	for b.sim.Millis() < until {
		b.sim.Advance(1)
		b.tick()
	}
}

// step advances the clock by one millisecond and ticks
func (b *bench) step() {
	b.sim.Advance(1)
	b.tick()
}

func (b *bench) stepWith(code stimlink.Code, args ...int) {
	b.sim.Advance(1)
	b.send(code, args...)
}

// highs returns the times p was driven high
func (b *bench) highs(p hw.Pin) []uint32 {
	var out []uint32
	for _, w := range b.sim.WritesTo(p) {
		if w.High {
			out = append(out, w.Time)
		}
	}
	return out
}

func (b *bench) results() []Result {
	var out []Result
	for _, msg := range b.rec.Of(stimlink.KindResult) {
		out = append(out, Result(msg.ID))
	}
	return out
}

func (b *bench) events() []Event {
	var out []Event
	for _, msg := range b.rec.Of(stimlink.KindEvent) {
		out = append(out, Event(msg.ID))
	}
	return out
}

func (b *bench) eventCount(e Event) int {
	return b.rec.Count(stimlink.KindEvent, int(e))
}

func (b *bench) wantState(want State) {
	b.t.Helper()
	if got := b.m.State(); got != want {
		b.t.Fatalf("State() = %v, want %v", got, want)
	}
}

func (b *bench) wantResults(want ...Result) {
	b.t.Helper()
	got := b.results()
	if len(got) != len(want) {
		b.t.Fatalf("results = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			b.t.Fatalf("results = %v, want %v", got, want)
		}
	}
}

// startExperiment moves the machine from Idle to WaitRequest
func (b *bench) startExperiment() {
	b.t.Helper()
	b.send(stimlink.CmdGo)
	b.tick()
	b.tick()
	b.wantState(WaitRequest)
}

// ============================================================
// Boot
// ============================================================

func TestBoot_Announce(t *testing.T) {
	sim := hw.NewSim(0)
	rec := &stimlink.Recorder{}
	m := New(sim, params.New(), rec)
	m.Tick(nil)

	msgs := rec.Messages()
	if len(msgs) == 0 || msgs[0].Kind != stimlink.KindOnline {
		t.Fatalf("first message = %+v, want online marker", msgs)
	}
	if msgs[0].Text != DefaultIdentity {
		t.Errorf("identity = %q, want %q", msgs[0].Text, DefaultIdentity)
	}

	counts := map[stimlink.Kind]int{
		stimlink.KindStateDef:  int(StateCount),
		stimlink.KindEventDef:  int(EventCount),
		stimlink.KindParamDef:  int(params.Count),
		stimlink.KindResultDef: int(ResultCount),
	}
	for kind, want := range counts {
		if got := len(rec.Of(kind)); got != want {
			t.Errorf("%v definitions = %d, want %d", kind, got, want)
		}
	}

	states := rec.Of(stimlink.KindState)
	if len(states) != 1 || State(states[0].ID) != Init {
		t.Errorf("state reports = %+v, want one %v", states, Init)
	}
	if m.State() != Idle {
		t.Errorf("State() = %v, want %v", m.State(), Idle)
	}

	m.Tick(nil)
	states = rec.Of(stimlink.KindState)
	if len(states) != 2 || State(states[1].ID) != Idle {
		t.Errorf("state reports = %+v, want %v reported on entry", states, Idle)
	}
}

func TestBoot_OutputsOff(t *testing.T) {
	b := newBench(t, map[params.ID]float64{params.ChrimsonPower: 1234})

	for _, p := range []hw.Pin{hw.ChrimsonGate, hw.Chr2Gate, hw.PhotometryLED} {
		if b.sim.DigitalRead(p) {
			t.Errorf("%v is high after boot", p)
		}
	}
	if got := b.sim.Level(hw.ChrimsonDAC); got != 1234 {
		t.Errorf("ChrimsonDAC = %d, want 1234", got)
	}
	if got := b.sim.Level(hw.Chr2DAC); got != params.MaxPower {
		t.Errorf("Chr2DAC = %d, want %d", got, params.MaxPower)
	}
	if got := b.sim.Level(hw.PhotometryDAC); got != 0 {
		t.Errorf("PhotometryDAC = %d, want 0", got)
	}
}

func TestIdle_Reannounces(t *testing.T) {
	tests := []struct {
		name  string
		enter func(b *bench)
	}{
		{"quit from experiment", func(b *bench) {
			b.startExperiment()
			b.rec.Reset()
			b.send(stimlink.CmdQuit)
			b.tick()
		}},
		{"session complete", func(b *bench) {
			b.send(stimlink.CmdChrimsonRequest)
			b.runUntil(1000)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, tenHz(2, 2))
			tt.enter(b)
			b.wantState(Idle)

			if n := len(b.rec.Of(stimlink.KindOnline)); n != 1 {
				t.Errorf("online markers = %d, want 1", n)
			}
			counts := map[stimlink.Kind]int{
				stimlink.KindStateDef:  int(StateCount),
				stimlink.KindEventDef:  int(EventCount),
				stimlink.KindParamDef:  int(params.Count),
				stimlink.KindResultDef: int(ResultCount),
			}
			for kind, want := range counts {
				if got := len(b.rec.Of(kind)); got != want {
					t.Errorf("%v definitions = %d, want %d", kind, got, want)
				}
			}
		})
	}
}

func TestBoot_CommandOnFirstTick(t *testing.T) {
	sim := hw.NewSim(0)
	rec := &stimlink.Recorder{}
	store := params.New()
	before := *store
	m := New(sim, store, rec)

	cmd, err := stimlink.NewCommand(stimlink.CmdParamWrite, int(params.TagTrains), 3)
	if err != nil {
		t.Fatalf("NewCommand error: %v", err)
	}
	m.Tick(&cmd)
	m.Tick(nil)

	if m.State() != Idle {
		t.Errorf("State() = %v, want %v", m.State(), Idle)
	}
	if *store != before {
		t.Error("store changed by a command on the boot tick")
	}
	if n := len(rec.Of(stimlink.KindDiagnostic)); n != 1 {
		t.Errorf("diagnostics = %d, want 1", n)
	}
	if n := len(rec.Of(stimlink.KindOnline)); n != 1 {
		t.Errorf("online markers = %d, want 1", n)
	}
}

// ============================================================
// Single-train sessions
// ============================================================

func TestSession_HostTrain(t *testing.T) {
	b := newBench(t, tenHz(5, 10))

	b.send(stimlink.CmdChrimsonRequest)
	b.wantState(ChrimsonStim)
	b.runUntil(1000)

	highs := b.highs(hw.ChrimsonGate)
	if len(highs) != 5 {
		t.Fatalf("pulses = %d (%v), want 5", len(highs), highs)
	}
	for i := 1; i < len(highs); i++ {
		if d := highs[i] - highs[i-1]; d != 100 {
			t.Errorf("pulse %d spacing = %d ms, want 100", i, d)
		}
	}

	writes := b.sim.WritesTo(hw.ChrimsonGate)
	for i := 0; i+1 < 10; i += 2 {
		if !writes[i].High || writes[i+1].High {
			t.Fatalf("gate writes %d-%d = %v %v, want HIGH then LOW", i, i+1, writes[i], writes[i+1])
		}
		if w := writes[i+1].Time - writes[i].Time; w != 10 {
			t.Errorf("pulse %d width = %d ms, want 10", i/2, w)
		}
	}
	if len(b.highs(hw.Chr2Gate)) != 0 {
		t.Error("ChR2 gate driven during a Chrimson session")
	}

	b.wantResults(UIChrimsonDelivered)
	b.wantState(Idle)
	if b.m.LastResult() != UIChrimsonDelivered {
		t.Errorf("LastResult() = %v, want %v", b.m.LastResult(), UIChrimsonDelivered)
	}
	if n := b.rec.Count(stimlink.KindAck, int(params.Chrimson)); n != 1 {
		t.Errorf("acks = %d, want 1", n)
	}
}

func TestSession_TriggerTrain(t *testing.T) {
	b := newBench(t, tenHz(3, 3))
	b.startExperiment()

	b.sim.SetInput(hw.Chr2Trigger, true)
	b.step()
	b.wantState(Chr2Stim)
	b.sim.SetInput(hw.Chr2Trigger, false)
	b.runUntil(1000)

	if n := len(b.highs(hw.Chr2Gate)); n != 3 {
		t.Errorf("pulses = %d, want 3", n)
	}
	b.wantResults(Chr2Delivered)
	b.wantState(WaitRequest)
}

func TestSession_TriggersIgnoredInIdle(t *testing.T) {
	b := newBench(t, tenHz(3, 3))

	b.sim.SetInput(hw.ChrimsonTrigger, true)
	b.runUntil(500)

	b.wantState(Idle)
	if n := len(b.highs(hw.ChrimsonGate)); n != 0 {
		t.Errorf("pulses = %d, want 0", n)
	}
}

func TestSession_AmbiguousOrigin(t *testing.T) {
	b := newBench(t, tenHz(2, 2))
	b.startExperiment()

	b.sim.SetInput(hw.ChrimsonTrigger, true)
	b.stepWith(stimlink.CmdChrimsonRequest)
	b.runUntil(1000)

	b.wantResults(ChrimsonDelivered)
	if n := b.eventCount(OriginWarning); n != 1 {
		t.Errorf("origin warnings = %d, want 1", n)
	}
	if len(b.rec.Of(stimlink.KindDiagnostic)) == 0 {
		t.Error("no diagnostic for ambiguous origin")
	}
}

func TestSession_Supersede(t *testing.T) {
	tests := []struct {
		name  string
		at    uint32
		prior int // pulses started before the second request
	}{
		{"between pulses", 250, 2},
		{"mid pulse", 195, 2},
		{"before first pulse", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, tenHz(5, 5))
			b.send(stimlink.CmdChrimsonRequest)
			b.runUntil(tt.at - 1)

			b.stepWith(stimlink.CmdChrimsonRequest)
			s := b.m.Session(params.Chrimson)
			if s.Train.Index() != 0 || s.Train.InPulse() {
				t.Errorf("after supersede index = %d inPulse = %v, want 0 false", s.Train.Index(), s.Train.InPulse())
			}
			if b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Error("gate still high after supersede")
			}

			b.runUntil(2000)
			highs := b.highs(hw.ChrimsonGate)
			if len(highs) != tt.prior+5 {
				t.Fatalf("pulses = %d (%v), want %d", len(highs), highs, tt.prior+5)
			}
			// The restarted train begins a full interval after the request
			if first := highs[tt.prior]; first != tt.at+90 {
				t.Errorf("first restarted pulse at %d, want %d", first, tt.at+90)
			}
			b.wantResults(UIChrimsonDelivered)
			if n := b.rec.Count(stimlink.KindAck, int(params.Chrimson)); n != 2 {
				t.Errorf("acks = %d, want 2", n)
			}
		})
	}
}

func TestSession_OtherChannelSupersedes(t *testing.T) {
	tests := []struct {
		name       string
		experiment bool
		cancelled  Result
		delivered  Result
		home       State
	}{
		{"host request", false, UIChrimsonCancelled, UIChr2Delivered, Idle},
		{"trigger line", true, UIChrimsonCancelled, Chr2Delivered, WaitRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, tenHz(3, 3))
			if tt.experiment {
				b.startExperiment()
			}
			b.send(stimlink.CmdChrimsonRequest)
			b.runUntil(95)
			if !b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Fatal("Chrimson gate not high at 95 ms")
			}

			if tt.experiment {
				b.sim.SetInput(hw.Chr2Trigger, true)
				b.step()
				b.sim.SetInput(hw.Chr2Trigger, false)
			} else {
				b.stepWith(stimlink.CmdChr2Request)
			}
			b.wantState(Chr2Stim)
			if b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Error("Chrimson gate still high after the ChR2 request")
			}

			b.runUntil(2000)
			b.wantResults(tt.cancelled, tt.delivered)
			b.wantState(tt.home)
			if n := len(b.highs(hw.ChrimsonGate)); n != 1 {
				t.Errorf("Chrimson pulses = %d, want 1", n)
			}
			if n := len(b.highs(hw.Chr2Gate)); n != 3 {
				t.Errorf("ChR2 pulses = %d, want 3", n)
			}
			if n := b.rec.Count(stimlink.KindAck, int(params.Chr2)); n != 1 {
				t.Errorf("ChR2 acks = %d, want 1", n)
			}
		})
	}
}

// ============================================================
// Cancellation
// ============================================================

func TestCancel_MidTrain(t *testing.T) {
	tests := []struct {
		name   string
		host   bool
		result Result
	}{
		{"host", true, UIChrimsonCancelled},
		{"cancel line", false, UIChrimsonCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, tenHz(5, 5))
			b.send(stimlink.CmdChrimsonRequest)
			b.runUntil(94)
			if !b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Fatal("gate not high at 94 ms")
			}

			if tt.host {
				b.stepWith(stimlink.CmdCancel)
			} else {
				b.sim.SetInput(hw.CancelLine, true)
				b.step()
			}

			if b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Error("gate still high after cancel")
			}
			b.runUntil(2000)

			b.wantResults(tt.result)
			b.wantState(Idle)
			if n := len(b.highs(hw.ChrimsonGate)); n != 1 {
				t.Errorf("pulses = %d, want 1", n)
			}
			if n := b.eventCount(CancelSignal); n != 1 {
				t.Errorf("cancel events = %d, want 1", n)
			}
		})
	}
}

func TestCancel_Disabled(t *testing.T) {
	w := tenHz(3, 3)
	w[params.CancelEnabled] = 0
	b := newBench(t, w)

	b.send(stimlink.CmdChrimsonRequest)
	b.runUntil(100)
	b.stepWith(stimlink.CmdCancel)
	b.wantState(ChrimsonStim)
	if len(b.rec.Of(stimlink.KindDiagnostic)) != 1 {
		t.Error("no diagnostic for disabled cancel")
	}

	b.runUntil(1000)
	b.wantResults(UIChrimsonDelivered)
}

func TestQuit_DuringSession(t *testing.T) {
	b := newBench(t, tenHz(5, 5))
	b.startExperiment()
	b.send(stimlink.CmdChrimsonRequest)
	b.runUntil(150)

	b.stepWith(stimlink.CmdQuit)
	b.wantState(Idle)
	b.runUntil(1000)
	b.wantResults(UIChrimsonCancelled)
}

// ============================================================
// Parameter updates
// ============================================================

func TestUpdate_FromIdle(t *testing.T) {
	b := newBench(t, nil)

	b.send(stimlink.CmdParamWrite, int(params.ChrimsonFrequency), 10)
	b.wantState(UpdateParams)
	b.tick()

	timing := b.store.Timing(params.Chrimson)
	if timing.Width != 10 || timing.Interval != 90 {
		t.Errorf("Timing() = %+v, want width 10 interval 90", timing)
	}

	reported := map[params.ID]float64{}
	for _, msg := range b.rec.Of(stimlink.KindParam) {
		reported[params.ID(msg.ID)] = msg.Value
	}
	want := map[params.ID]float64{
		params.ChrimsonFrequency: 10,
		params.ChrimsonPeriod:    100,
		params.ChrimsonUpTime:    10,
		params.ChrimsonDownTime:  90,
	}
	for id, v := range want {
		if reported[id] != v {
			t.Errorf("reported %s = %v, want %v", id, reported[id], v)
		}
	}
	if n := b.eventCount(ParamWarning); n != 0 {
		t.Errorf("param warnings = %d, want 0 with nothing running", n)
	}

	b.send(stimlink.CmdUpdateComplete)
	b.wantState(Idle)
	if b.m.Holding() {
		t.Error("Holding() after update complete")
	}
}

func TestUpdate_WarningDuringSession(t *testing.T) {
	b := newBench(t, tenHz(5, 5))
	b.send(stimlink.CmdChrimsonRequest)
	b.runUntil(50)

	b.stepWith(stimlink.CmdParamWrite, int(params.ChrimsonPower), 100)
	b.wantState(UpdateParams)
	b.step()
	b.stepWith(stimlink.CmdParamWrite, int(params.ChrimsonPower), 200)

	if got := b.sim.Level(hw.ChrimsonDAC); got != 200 {
		t.Errorf("ChrimsonDAC = %d, want 200", got)
	}

	// The train keeps running while the host holds the update open
	b.runUntil(2000)
	b.wantState(UpdateParams)
	b.wantResults(UIChrimsonDelivered)
	if n := len(b.highs(hw.ChrimsonGate)); n != 5 {
		t.Errorf("pulses = %d, want 5", n)
	}
	if n := b.eventCount(ParamWarning); n != 1 {
		t.Errorf("param warnings = %d, want 1", n)
	}

	b.stepWith(stimlink.CmdUpdateComplete)
	b.wantState(Idle)
}

func TestUpdate_ProgramCompletesDuringHold(t *testing.T) {
	tests := []struct {
		name   string
		start  stimlink.Code
		result Result
		pulses [2]int // Chrimson, ChR2
	}{
		{"ladder", stimlink.CmdLadderStart, LadderComplete, [2]int{2, 1}},
		{"dual tag", stimlink.CmdDualTagStart, TagComplete, [2]int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tenHz(1, 1)
			w[params.LadderTrainsA] = 1
			w[params.LadderTrainsB] = 1
			w[params.LadderDelay] = 100
			w[params.TagTrains] = 1
			b := newBench(t, w)

			b.send(tt.start)
			b.runUntil(50)
			b.stepWith(stimlink.CmdParamWrite, int(params.ChrimsonPower), 100)
			b.wantState(UpdateParams)

			b.runUntil(5000)
			b.wantState(UpdateParams)
			b.wantResults(tt.result)
			if b.m.ProgramActive() {
				t.Error("ProgramActive() after the program completed")
			}
			if n := len(b.highs(hw.ChrimsonGate)); n != tt.pulses[0] {
				t.Errorf("Chrimson pulses = %d, want %d", n, tt.pulses[0])
			}
			if n := len(b.highs(hw.Chr2Gate)); n != tt.pulses[1] {
				t.Errorf("ChR2 pulses = %d, want %d", n, tt.pulses[1])
			}
			if n := b.eventCount(ParamWarning); n != 1 {
				t.Errorf("param warnings = %d, want 1", n)
			}

			b.stepWith(stimlink.CmdUpdateComplete)
			b.wantState(Idle)
		})
	}
}

func TestUpdate_CancelDuringHold(t *testing.T) {
	tests := []struct {
		name string
		host bool
	}{
		{"host", true},
		{"cancel line", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, tenHz(5, 5))
			b.startExperiment()
			b.send(stimlink.CmdChrimsonRequest)
			b.runUntil(95)
			b.stepWith(stimlink.CmdParamWrite, int(params.ChrimsonPower), 100)
			b.wantState(UpdateParams)
			if !b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Fatal("gate not high during the hold")
			}

			if tt.host {
				b.stepWith(stimlink.CmdCancel)
			} else {
				b.sim.SetInput(hw.CancelLine, true)
				b.step()
			}
			b.wantState(UpdateParams)
			if b.sim.DigitalRead(hw.ChrimsonGate) {
				t.Error("gate still high after cancel")
			}
			b.wantResults(UIChrimsonCancelled)
			if n := b.eventCount(CancelSignal); n != 1 {
				t.Errorf("cancel events = %d, want 1", n)
			}

			b.runUntil(2000)
			if n := len(b.highs(hw.ChrimsonGate)); n != 1 {
				t.Errorf("pulses = %d, want 1", n)
			}

			// The cancelled session is gone, so completion returns home
			b.stepWith(stimlink.CmdUpdateComplete)
			b.wantState(WaitRequest)
			b.wantResults(UIChrimsonCancelled)
		})
	}
}

func TestUpdate_ResumeSession(t *testing.T) {
	b := newBench(t, tenHz(5, 5))
	b.send(stimlink.CmdChrimsonRequest)
	b.runUntil(50)

	b.stepWith(stimlink.CmdParamWrite, int(params.ChrimsonPower), 100)
	b.step()
	b.stepWith(stimlink.CmdUpdateComplete)
	b.wantState(ChrimsonStim)

	b.runUntil(2000)
	b.wantResults(UIChrimsonDelivered)
	if n := len(b.highs(hw.ChrimsonGate)); n != 5 {
		t.Errorf("pulses = %d, want 5", n)
	}
	if n := b.rec.Count(stimlink.KindAck, int(params.Chrimson)); n != 1 {
		t.Errorf("acks = %d, want 1", n)
	}
}

func TestUpdate_IgnoresCommands(t *testing.T) {
	b := newBench(t, nil)
	b.send(stimlink.CmdParamWrite, int(params.TagTrains), 3)
	b.tick()

	for _, code := range []stimlink.Code{stimlink.CmdGo, stimlink.CmdChrimsonRequest, stimlink.CmdLadderStart, stimlink.CmdPhotometryToggle} {
		b.rec.Reset()
		b.send(code)
		b.wantState(UpdateParams)
		if len(b.rec.Of(stimlink.KindDiagnostic)) != 1 {
			t.Errorf("%s: diagnostics = %d, want 1", code, len(b.rec.Of(stimlink.KindDiagnostic)))
		}
	}
}

func TestUpdate_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		id    int
		value int
	}{
		{"unknown id", 99, 5},
		{"negative id", -1, 5},
		{"zero pulses", int(params.ChrimsonPulses), 0},
		{"power too high", int(params.Chr2Power), params.MaxPower + 1},
		{"zero frequency", int(params.Chr2Frequency), 0},
		{"cancel flag", int(params.CancelEnabled), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench(t, nil)
			before := *b.store

			b.send(stimlink.CmdParamWrite, tt.id, tt.value)
			b.wantState(Idle)
			b.tick()
			b.wantState(Idle)

			if *b.store != before {
				t.Error("store changed by a rejected write")
			}
			if len(b.rec.Of(stimlink.KindDiagnostic)) != 1 {
				t.Errorf("diagnostics = %d, want 1", len(b.rec.Of(stimlink.KindDiagnostic)))
			}
			if len(b.rec.Of(stimlink.KindParam)) != 0 {
				t.Error("param reported for a rejected write")
			}
		})
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	b := newBench(t, nil)

	b.send(stimlink.CmdParamWrite, int(params.ChrimsonDutyCycle), 25)
	b.tick()
	first := *b.store
	b.send(stimlink.CmdParamWrite, int(params.ChrimsonDutyCycle), 25)
	b.tick()

	if *b.store != first {
		t.Error("re-writing the same value changed the store")
	}
}

// ============================================================
// Programs
// ============================================================

func phaseEvents(events []Event) []Event {
	var out []Event
	for _, e := range events {
		switch e {
		case PhaseStart, PhaseEnd, TrainStart, TrainEnd:
			out = append(out, e)
		}
	}
	return out
}

func TestLadder_Complete(t *testing.T) {
	w := tenHz(2, 1)
	w[params.LadderTrainsA] = 2
	w[params.LadderTrainsB] = 1
	w[params.LadderDelay] = 300
	w[params.LadderTrainGap] = 200
	b := newBench(t, w)
	b.startExperiment()

	b.send(stimlink.CmdLadderStart)
	b.runUntil(10000)

	b.wantState(WaitRequest)
	b.wantResults(LadderComplete)

	a := b.highs(hw.ChrimsonGate)
	c := b.highs(hw.Chr2Gate)
	if len(a) != 8 || len(c) != 1 {
		t.Fatalf("pulses = %d Chrimson %d ChR2, want 8 and 1", len(a), len(c))
	}
	if !(a[3] < c[0] && c[0] < a[4]) {
		t.Errorf("ChR2 pulse at %d not between Chrimson phases (%d, %d)", c[0], a[3], a[4])
	}
	// Last pulse of phase one ends 10 ms after it starts
	if gap := c[0] - (a[3] + 10); gap < 300 {
		t.Errorf("phase gap = %d ms, want >= 300", gap)
	}
	if gap := a[2] - (a[1] + 10); gap < 200 {
		t.Errorf("train gap = %d ms, want >= 200", gap)
	}

	want := []Event{
		PhaseStart, TrainStart, TrainEnd, TrainStart, TrainEnd, PhaseEnd,
		PhaseStart, TrainStart, TrainEnd, PhaseEnd,
		PhaseStart, TrainStart, TrainEnd, TrainStart, TrainEnd, PhaseEnd,
	}
	got := phaseEvents(b.events())
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestLadder_SkipsEmptyPhase(t *testing.T) {
	w := tenHz(1, 1)
	w[params.LadderTrainsA] = 1
	w[params.LadderTrainsB] = 0
	w[params.LadderDelay] = 100
	b := newBench(t, w)

	b.send(stimlink.CmdLadderStart)
	b.runUntil(5000)

	b.wantState(Idle)
	b.wantResults(LadderComplete)
	if n := len(b.highs(hw.ChrimsonGate)); n != 2 {
		t.Errorf("Chrimson pulses = %d, want 2", n)
	}
	if n := len(b.highs(hw.Chr2Gate)); n != 0 {
		t.Errorf("ChR2 pulses = %d, want 0", n)
	}
	if n := b.eventCount(PhaseStart); n != 2 {
		t.Errorf("phase starts = %d, want 2", n)
	}
}

func TestLadder_Cancel(t *testing.T) {
	w := tenHz(3, 3)
	w[params.LadderTrainsA] = 2
	b := newBench(t, w)
	b.startExperiment()

	b.send(stimlink.CmdLadderStart)
	b.runUntil(250)
	b.stepWith(stimlink.CmdCancel)
	b.runUntil(20000)

	b.wantState(WaitRequest)
	b.wantResults(LadderCancelled)
	if n := len(b.highs(hw.ChrimsonGate)); n != 2 {
		t.Errorf("pulses = %d, want 2", n)
	}
	if b.m.ProgramActive() {
		t.Error("ProgramActive() after cancel")
	}
}

func TestDualTag_Padding(t *testing.T) {
	w := tenHz(2, 1)
	w[params.TagTrains] = 2
	w[params.LadderTrainGap] = 200
	b := newBench(t, w)

	b.send(stimlink.CmdDualTagStart)
	b.runUntil(5000)

	b.wantState(Idle)
	b.wantResults(TagComplete)

	a := b.highs(hw.ChrimsonGate)
	c := b.highs(hw.Chr2Gate)
	if len(a) != 4 || len(c) != 2 {
		t.Fatalf("pulses = %d Chrimson %d ChR2, want 4 and 2", len(a), len(c))
	}
	// Slots alternate Chrimson, ChR2, Chrimson, padding
	if !(a[0] < c[0] && c[0] < a[1]) {
		t.Errorf("first train order = A%d B%d A%d, want alternating", a[0], c[0], a[1])
	}
	if n := b.eventCount(PhaseStart); n != 1 {
		t.Errorf("phase starts = %d, want 1", n)
	}
	if n := b.eventCount(TrainStart); n != 2 {
		t.Errorf("train starts = %d, want 2", n)
	}
	// The padding slot keeps its timing, so the second train starts after it
	if gap := a[2] - a[1]; gap < 200+200 {
		t.Errorf("second train started %d ms after the last Chrimson pulse, want >= 400", gap)
	}
}

func TestAlternateSlot(t *testing.T) {
	tests := []struct {
		slot, nA, nB int
		ch           params.Channel
		live         bool
	}{
		{0, 2, 1, params.Chrimson, true},
		{1, 2, 1, params.Chr2, true},
		{2, 2, 1, params.Chrimson, true},
		{3, 2, 1, params.Chr2, false},
		{0, 1, 3, params.Chrimson, true},
		{2, 1, 3, params.Chrimson, false},
		{5, 1, 3, params.Chr2, true},
	}

	for _, tt := range tests {
		ch, live := alternateSlot(tt.slot, tt.nA, tt.nB)
		if ch != tt.ch || live != tt.live {
			t.Errorf("alternateSlot(%d, %d, %d) = %v %v, want %v %v", tt.slot, tt.nA, tt.nB, ch, live, tt.ch, tt.live)
		}
	}
}

// ============================================================
// Commands valid in every state
// ============================================================

func TestAnalogWrite_AnyState(t *testing.T) {
	b := newBench(t, tenHz(5, 5))

	b.send(stimlink.CmdAnalogWrite, 2, 1000)
	b.wantState(Idle)
	if got := b.sim.Level(hw.PhotometryDAC); got != 1000 {
		t.Errorf("Idle: PhotometryDAC = %d, want 1000", got)
	}

	b.send(stimlink.CmdChrimsonRequest)
	b.step()
	b.stepWith(stimlink.CmdAnalogWrite, 0, 300)
	b.wantState(ChrimsonStim)
	if got := b.sim.Level(hw.ChrimsonDAC); got != 300 {
		t.Errorf("ChrimsonStim: ChrimsonDAC = %d, want 300", got)
	}

	b.stepWith(stimlink.CmdParamWrite, int(params.TagTrains), 2)
	b.step()
	b.stepWith(stimlink.CmdAnalogWrite, 1, 42)
	b.wantState(UpdateParams)
	if got := b.sim.Level(hw.Chr2DAC); got != 42 {
		t.Errorf("UpdateParams: Chr2DAC = %d, want 42", got)
	}

	b.rec.Reset()
	b.send(stimlink.CmdAnalogWrite, 3, 10)
	b.send(stimlink.CmdAnalogWrite, 0, params.MaxPower+1)
	if n := len(b.rec.Of(stimlink.KindDiagnostic)); n != 2 {
		t.Errorf("diagnostics = %d, want 2", n)
	}
}

func TestReset_Restarts(t *testing.T) {
	b := newBench(t, tenHz(5, 5))

	b.send(stimlink.CmdParamWrite, int(params.ChrimsonPulses), 7)
	b.tick()
	b.send(stimlink.CmdUpdateComplete)
	if b.store.Int(params.ChrimsonPulses) != 7 {
		t.Fatal("write not applied")
	}

	b.send(stimlink.CmdChrimsonRequest)
	b.runUntil(95)
	if !b.sim.DigitalRead(hw.ChrimsonGate) {
		t.Fatal("gate not high at 95 ms")
	}

	b.rec.Reset()
	b.stepWith(stimlink.CmdReset)

	b.wantState(Idle)
	if b.sim.DigitalRead(hw.ChrimsonGate) {
		t.Error("gate high after reset")
	}
	if got := b.store.Int(params.ChrimsonPulses); got != 5 {
		t.Errorf("ChrimsonPulses after reset = %d, want 5", got)
	}
	msgs := b.rec.Messages()
	if len(msgs) == 0 || msgs[0].Kind != stimlink.KindOnline {
		t.Error("reset did not re-announce")
	}
	if len(b.results()) != 0 {
		t.Errorf("results = %v, want none", b.results())
	}
}

func TestHelp_AnyState(t *testing.T) {
	b := newBench(t, nil)
	b.send(stimlink.CmdHelp)

	if n := len(b.rec.Of(stimlink.KindDiagnostic)); n != len(stimlink.Commands) {
		t.Errorf("help lines = %d, want %d", n, len(stimlink.Commands))
	}
	b.wantState(Idle)
}

// ============================================================
// Experiment markers and photometry
// ============================================================

func TestExperiment_Markers(t *testing.T) {
	b := newBench(t, nil)
	b.runUntil(500)
	b.startExperiment()

	starts := b.rec.Of(stimlink.KindEvent)
	if len(starts) != 1 || Event(starts[0].ID) != ExperimentStart || starts[0].Time != 0 {
		t.Fatalf("events = %+v, want experiment start at t=0", starts)
	}

	b.runUntil(600)
	b.sim.SetInput(hw.TrialLine, true)
	b.step()
	b.sim.SetInput(hw.CueLine, true)
	b.step()
	b.sim.SetInput(hw.CueLine, false)
	b.step()
	b.sim.SetInput(hw.TrialLine, false)
	b.step()

	want := []Event{ExperimentStart, TrialStart, CueOn, CueOff, TrialEnd}
	got := b.events()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if tm := b.rec.Of(stimlink.KindEvent)[1].Time; tm != 101 {
		t.Errorf("trial start time = %d, want 101", tm)
	}

	b.send(stimlink.CmdQuit)
	b.wantState(Idle)
}

func TestPhotometry_Toggle(t *testing.T) {
	b := newBench(t, map[params.ID]float64{params.PhotometryPower: 1500})

	b.send(stimlink.CmdPhotometryToggle)
	if !b.m.Photometry() || !b.sim.DigitalRead(hw.PhotometryLED) {
		t.Fatal("photometry LED not on")
	}
	if got := b.sim.Level(hw.PhotometryDAC); got != 1500 {
		t.Errorf("PhotometryDAC = %d, want 1500", got)
	}

	b.send(stimlink.CmdParamWrite, int(params.PhotometryPower), 800)
	b.tick()
	b.send(stimlink.CmdUpdateComplete)
	b.tick()
	if got := b.sim.Level(hw.PhotometryDAC); got != 800 {
		t.Errorf("PhotometryDAC after update = %d, want 800", got)
	}

	b.send(stimlink.CmdPhotometryToggle)
	if b.m.Photometry() || b.sim.DigitalRead(hw.PhotometryLED) {
		t.Error("photometry LED still on")
	}
	if got := b.sim.Level(hw.PhotometryDAC); got != 0 {
		t.Errorf("PhotometryDAC = %d, want 0", got)
	}
	if b.eventCount(PhotometryOn) != 1 || b.eventCount(PhotometryOff) != 1 {
		t.Errorf("photometry events = %v", b.events())
	}
}
