// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stim is the optostim stimulation controller.
//
// A Machine is a cooperative state machine advanced by Tick. One tick samples
// the input lines, applies the commands that are valid in any state (reset,
// analog write, help) and then runs exactly one state handler. Nothing inside a
// tick blocks: pulses, pauses between trains and pauses between phases are all
// elapsed-time checks against the millisecond clock.
package stim

import (
	"fmt"

	"github.com/Thermoquad/optostim/pkg/hw"
	"github.com/Thermoquad/optostim/pkg/params"
	"github.com/Thermoquad/optostim/pkg/pulse"
	"github.com/Thermoquad/optostim/pkg/stimlink"
)

// DefaultIdentity is the device name sent with the online marker
const DefaultIdentity = "optostim"

type paramWrite struct {
	id    params.ID
	value float64
}

// Machine is the stimulation controller. It is not safe for concurrent use;
// Runner owns one on a single goroutine.
type Machine struct {
	io       hw.IO
	params   *params.Store
	boot     params.Store
	out      stimlink.Sink
	identity string
	gates    [2]pulse.Gate

	state State
	prev  State
	// home is where finished sessions and programs return to
	home State
	// resume is restored when a parameter update completes
	resume  State
	holding bool
	write   *paramWrite

	edges hw.Edges
	now   uint32
	epoch uint32
	cmd   *stimlink.Command

	sessions [2]Session
	requests [2]Origin
	program  programRun

	photometry      bool
	photometryLevel int

	last Result
}

// New creates a machine in Init. The parameter values of store at this point
// are restored by the reset command.
func New(io hw.IO, store *params.Store, out stimlink.Sink) *Machine {
	m := &Machine{
		io:       io,
		params:   store,
		boot:     *store,
		out:      out,
		identity: DefaultIdentity,
		state:    Init,
		prev:     noState,
		home:     Idle,
	}
	for _, ch := range Channels {
		pin := pinsOf[ch].gate
		m.gates[ch] = pulse.GateFunc(func(on bool) { m.io.DigitalWrite(pin, on) })
	}
	return m
}

// SetIdentity changes the name sent with the online marker
func (m *Machine) SetIdentity(name string) {
	m.identity = name
}

// State returns the current state
func (m *Machine) State() State { return m.state }

// Holding reports whether a parameter update is in progress
func (m *Machine) Holding() bool { return m.holding }

// LastResult returns the most recently reported result code
func (m *Machine) LastResult() Result { return m.last }

// Photometry reports whether the photometry LED is on
func (m *Machine) Photometry() bool { return m.photometry }

// Session returns the session of ch for inspection
func (m *Machine) Session(ch params.Channel) *Session { return &m.sessions[ch] }

// ProgramActive reports whether a ladder or tag program is running
func (m *Machine) ProgramActive() bool { return m.program.Active() }

// Params returns the parameter store
func (m *Machine) Params() *params.Store { return m.params }

// Tick runs one scheduler pass with cmd as the pending command (nil for none)
func (m *Machine) Tick(cmd *stimlink.Command) {
	m.now = m.io.Millis()
	m.edges.Sample(m.io)
	m.cmd = cmd

	if m.cmd != nil {
		switch m.cmd.Code {
		case stimlink.CmdReset:
			*m.params = m.boot
			m.state, m.prev = Init, noState
			m.cmd = nil
		case stimlink.CmdAnalogWrite:
			m.analogWrite(m.cmd.Args[0], m.cmd.Args[1])
			m.cmd = nil
		case stimlink.CmdHelp:
			m.help()
			m.cmd = nil
		}
	}

	switch m.state {
	case Init:
		m.handleInit()
	case Idle:
		m.handleIdle()
	case ExperimentInit:
		m.handleExperimentInit()
	case WaitRequest:
		m.handleWaitRequest()
	case ChrimsonStim:
		m.handleStim(params.Chrimson)
	case Chr2Stim:
		m.handleStim(params.Chr2)
	case OptoLadder, DanTag:
		m.handleProgram()
	case UpdateParams:
		m.handleUpdate()
	default:
		m.diagnose(fmt.Sprintf("invalid state %d, restarting", int(m.state)))
		m.state, m.prev = Init, noState
	}
	m.cmd = nil
}

// Reject reports a command the decoder could not accept
func (m *Machine) Reject(err error) {
	m.diagnose(err.Error())
}

// entering reports whether the current state's entry action is due
func (m *Machine) entering() bool {
	if m.state == m.prev {
		return false
	}
	m.prev = m.state
	return true
}

func (m *Machine) code() stimlink.Code {
	if m.cmd == nil {
		return 0
	}
	return m.cmd.Code
}

// ============================================================
// State handlers
// ============================================================

func (m *Machine) handleInit() {
	m.entering()
	m.resetSessions()
	m.resetOutputs()
	m.holding = false
	m.write = nil
	m.epoch = m.now
	m.edges.Reset()
	m.edges.Sample(m.io)

	m.announce()
	m.reportState()

	// Only the first tick after New can carry a command here
	if code := m.code(); code != 0 {
		m.diagnose(fmt.Sprintf("%s ignored: controller starting", code))
	}
	m.state = Idle
}

func (m *Machine) handleIdle() {
	// Init has just announced when it hands over to Idle
	fromInit := m.prev == Init
	if m.entering() {
		m.resetSessions()
		m.resetOutputs()
		m.home = Idle
		if !fromInit {
			m.announce()
		}
		m.reportState()
	}

	switch m.code() {
	case stimlink.CmdGo:
		m.state = ExperimentInit
	case stimlink.CmdChrimsonRequest:
		m.request(params.Chrimson, OriginHost)
	case stimlink.CmdChr2Request:
		m.request(params.Chr2, OriginHost)
	case stimlink.CmdLadderStart:
		m.state = OptoLadder
	case stimlink.CmdDualTagStart:
		m.state = DanTag
	case stimlink.CmdParamWrite:
		m.beginUpdate()
	case stimlink.CmdUpdateComplete:
		m.diagnose("update-complete ignored: no update in progress")
	}
	if m.state == Idle {
		m.maintainPhotometry()
	}
}

func (m *Machine) handleExperimentInit() {
	m.entering()
	m.reportState()
	m.epoch = m.now
	m.emitEvent(ExperimentStart)
	m.home = WaitRequest
	m.state = WaitRequest
}

func (m *Machine) handleWaitRequest() {
	if m.entering() {
		m.home = WaitRequest
		m.reportState()
	}

	code := m.code()
	if code == stimlink.CmdQuit {
		m.state = Idle
		return
	}

	if m.edges.Rising(hw.TrialLine) {
		m.emitEvent(TrialStart)
	}
	if m.edges.Falling(hw.TrialLine) {
		m.emitEvent(TrialEnd)
	}
	if m.edges.Rising(hw.CueLine) {
		m.emitEvent(CueOn)
	}
	if m.edges.Falling(hw.CueLine) {
		m.emitEvent(CueOff)
	}

	if code == stimlink.CmdParamWrite {
		m.beginUpdate()
		return
	}

	for _, ch := range Channels {
		if origin := m.requestOrigin(ch); origin != 0 {
			m.request(ch, origin)
			return
		}
	}

	m.maintainPhotometry()

	switch code {
	case stimlink.CmdLadderStart:
		m.state = OptoLadder
	case stimlink.CmdDualTagStart:
		m.state = DanTag
	case stimlink.CmdUpdateComplete:
		m.diagnose("update-complete ignored: no update in progress")
	}
}

func (m *Machine) handleStim(ch params.Channel) {
	s := &m.sessions[ch]
	if m.entering() {
		m.reportState()
		s.start(m.now, m.requests[ch])
		m.requests[ch] = 0
		m.ack(ch)
	}

	code := m.code()
	if code == stimlink.CmdQuit {
		m.finishSession(ch, true)
		m.state = Idle
		return
	}
	if m.cancelRequested() {
		m.emitEvent(CancelSignal)
		m.finishSession(ch, true)
		m.state = m.home
		return
	}

	// Last request wins: the remainder of the running train is discarded
	if origin := m.requestOrigin(ch); origin != 0 {
		s.stop(m.gates[ch])
		s.start(m.now, origin)
		m.ack(ch)
		return
	}
	if origin := m.requestOrigin(other(ch)); origin != 0 {
		m.finishSession(ch, true)
		m.request(other(ch), origin)
		return
	}

	if step := s.Train.Advance(m.now, m.params.Timing(ch), m.gates[ch]); step.TrainDone {
		m.finishSession(ch, false)
		m.state = m.home
		return
	}

	switch code {
	case stimlink.CmdParamWrite:
		m.beginUpdate()
		return
	case stimlink.CmdUpdateComplete:
		m.diagnose("update-complete ignored: no update in progress")
	}
	m.maintainPhotometry()
}

func (m *Machine) handleProgram() {
	restart := stimlink.CmdLadderStart
	if m.state == DanTag {
		restart = stimlink.CmdDualTagStart
	}

	if m.entering() {
		m.reportState()
		m.startProgram()
	}

	code := m.code()
	if code == stimlink.CmdQuit {
		m.finishProgram(true)
		m.state = Idle
		return
	}
	if m.cancelRequested() {
		m.emitEvent(CancelSignal)
		m.finishProgram(true)
		m.state = m.home
		return
	}
	if code == restart {
		m.program.stop(m.slotEnv)
		m.allGatesOff()
		m.startProgram()
	}

	if m.advanceProgram() {
		m.finishProgram(false)
		m.state = m.home
		return
	}

	switch code {
	case stimlink.CmdParamWrite:
		m.beginUpdate()
		return
	case stimlink.CmdUpdateComplete:
		m.diagnose("update-complete ignored: no update in progress")
	}
	m.maintainPhotometry()
}

// handleUpdate holds the machine until the host signals completion. The
// session or program being resumed keeps running so in-flight timing is not
// disturbed; new values apply from its next cycle.
func (m *Machine) handleUpdate() {
	m.entering()
	if !m.holding {
		m.holding = true
		m.reportState()
		if m.write != nil {
			m.applyWrite(*m.write)
			m.write = nil
		}
		if m.sessionActive() {
			m.emitEvent(ParamWarning)
		}
	}

	switch code := m.code(); code {
	case 0:
	case stimlink.CmdParamWrite:
		id, value := params.ID(m.cmd.Args[0]), float64(m.cmd.Args[1])
		if err := m.params.Check(id, value); err != nil {
			m.diagnose(fmt.Sprintf("param-write rejected: %v", err))
		} else {
			m.applyWrite(paramWrite{id: id, value: value})
		}
	case stimlink.CmdUpdateComplete:
		m.holding = false
		m.state, m.prev = m.resume, m.resume
		m.reportState()
		return
	case stimlink.CmdCancel:
		// handled by keepRunning
	default:
		m.diagnose(fmt.Sprintf("%s ignored: parameter update in progress", code))
	}

	m.keepRunning()
}

// keepRunning advances the session or program owned by the resume state
func (m *Machine) keepRunning() {
	switch m.resume {
	case ChrimsonStim, Chr2Stim:
		ch := params.Chrimson
		if m.resume == Chr2Stim {
			ch = params.Chr2
		}
		s := &m.sessions[ch]
		if !s.Active() {
			return
		}
		if m.cancelRequested() {
			m.emitEvent(CancelSignal)
			m.finishSession(ch, true)
			m.resume = m.home
			return
		}
		if step := s.Train.Advance(m.now, m.params.Timing(ch), m.gates[ch]); step.TrainDone {
			m.finishSession(ch, false)
			m.resume = m.home
		}

	case OptoLadder, DanTag:
		if !m.program.Active() {
			return
		}
		if m.cancelRequested() {
			m.emitEvent(CancelSignal)
			m.finishProgram(true)
			m.resume = m.home
			return
		}
		if m.advanceProgram() {
			m.finishProgram(false)
			m.resume = m.home
		}
	}
}

// ============================================================
// Sessions and programs
// ============================================================

func requestCode(ch params.Channel) stimlink.Code {
	if ch == params.Chr2 {
		return stimlink.CmdChr2Request
	}
	return stimlink.CmdChrimsonRequest
}

func other(ch params.Channel) params.Channel {
	if ch == params.Chr2 {
		return params.Chrimson
	}
	return params.Chr2
}

// requestOrigin samples the host command and trigger line of ch
func (m *Machine) requestOrigin(ch params.Channel) Origin {
	var o Origin
	if m.code() == requestCode(ch) {
		o |= OriginHost
	}
	if m.edges.Rising(pinsOf[ch].trigger) {
		o |= OriginTrigger
	}
	return o
}

func (m *Machine) request(ch params.Channel, origin Origin) {
	m.requests[ch] = origin
	m.state = channelState(ch)
}

// cancelRequested reports an enabled cancel from the host or the cancel line
func (m *Machine) cancelRequested() bool {
	host := m.code() == stimlink.CmdCancel
	if !host && !m.edges.Rising(hw.CancelLine) {
		return false
	}
	if !m.params.Bool(params.CancelEnabled) {
		if host {
			m.diagnose("cancel ignored: cancellation disabled")
		}
		return false
	}
	return true
}

// finishSession ends the session of ch and reports its result
func (m *Machine) finishSession(ch params.Channel, cancelled bool) {
	s := &m.sessions[ch]
	origin := s.Origin
	if origin.Ambiguous() {
		m.diagnose(fmt.Sprintf("%s session origin %s is ambiguous, reporting as trigger-initiated", ch, origin))
		m.emitEvent(OriginWarning)
	}
	s.stop(m.gates[ch])
	m.emitResult(sessionResult(ch, origin, cancelled))
}

func (m *Machine) startProgram() {
	p := LadderProgram(m.params)
	if m.state == DanTag {
		p = TagProgram(m.params)
	}
	m.program.start(p, m.now)
}

func (m *Machine) finishProgram(cancelled bool) {
	r := m.program.prog.Result(cancelled)
	m.program.stop(m.slotEnv)
	m.allGatesOff()
	m.emitResult(r)
}

// advanceProgram steps the program and reports its markers; true when it ends
func (m *Machine) advanceProgram() bool {
	st := m.program.advance(m.now, m.slotEnv)
	if st.PhaseStarted {
		m.emitEvent(PhaseStart)
	}
	if st.TrainStarted {
		m.emitEvent(TrainStart)
	}
	if st.TrainEnded {
		m.emitEvent(TrainEnd)
	}
	if st.PhaseEnded {
		m.emitEvent(PhaseEnd)
	}
	return st.Done
}

// slotEnv resolves the timing and gate of one pulse slot. Timing is read from
// the store on every call so parameter updates apply from the next pulse.
func (m *Machine) slotEnv(t Target, slot int) (pulse.Timing, pulse.Gate) {
	switch t {
	case TargetChrimson:
		return m.params.Timing(params.Chrimson), m.gates[params.Chrimson]
	case TargetChr2:
		return m.params.Timing(params.Chr2), m.gates[params.Chr2]
	}

	nA := m.params.Int(params.Chrimson.PulsesID())
	nB := m.params.Int(params.Chr2.PulsesID())
	ch, live := alternateSlot(slot, nA, nB)
	timing := m.params.Timing(ch)
	timing.Pulses = 2 * max(nA, nB)
	if !live {
		return timing, noGate
	}
	return timing, m.gates[ch]
}

func (m *Machine) sessionActive() bool {
	for i := range m.sessions {
		if m.sessions[i].Active() {
			return true
		}
	}
	return m.program.Active()
}

func (m *Machine) resetSessions() {
	for _, ch := range Channels {
		m.sessions[ch].stop(m.gates[ch])
		m.requests[ch] = 0
	}
	m.program.stop(m.slotEnv)
}

// ============================================================
// Outputs
// ============================================================

func (m *Machine) allGatesOff() {
	for _, ch := range Channels {
		m.io.DigitalWrite(pinsOf[ch].gate, false)
	}
}

// resetOutputs turns every light off and restores the channel DAC levels
func (m *Machine) resetOutputs() {
	m.allGatesOff()
	for _, ch := range Channels {
		m.io.AnalogWrite(pinsOf[ch].dac, uint16(m.params.Int(ch.PowerID())))
	}
	m.io.DigitalWrite(hw.PhotometryLED, false)
	m.io.AnalogWrite(hw.PhotometryDAC, 0)
	m.photometry = false
	m.photometryLevel = 0
}

// maintainPhotometry applies a pending toggle and keeps the LED level in step
// with the photometry power parameter
func (m *Machine) maintainPhotometry() {
	if m.code() == stimlink.CmdPhotometryToggle {
		m.photometry = !m.photometry
		m.io.DigitalWrite(hw.PhotometryLED, m.photometry)
		if m.photometry {
			m.photometryLevel = -1
			m.emitEvent(PhotometryOn)
		} else {
			m.io.AnalogWrite(hw.PhotometryDAC, 0)
			m.photometryLevel = 0
			m.emitEvent(PhotometryOff)
		}
	}

	if !m.photometry {
		return
	}
	if level := m.params.Int(params.PhotometryPower); level != m.photometryLevel {
		m.io.AnalogWrite(hw.PhotometryDAC, uint16(level))
		m.photometryLevel = level
	}
}

// analogWrite is the write-through DAC path, valid in every state
func (m *Machine) analogWrite(channel, level int) {
	if channel < 0 || channel >= len(hw.AnalogChannels) {
		m.diagnose(fmt.Sprintf("analog-write rejected: unknown channel %d (0-%d)", channel, len(hw.AnalogChannels)-1))
		return
	}
	if level < 0 || level > hw.MaxLevel {
		m.diagnose(fmt.Sprintf("analog-write rejected: level %d out of range (0-%d)", level, hw.MaxLevel))
		return
	}
	m.io.AnalogWrite(hw.AnalogChannels[channel], uint16(level))
}

// ============================================================
// Parameter updates
// ============================================================

// beginUpdate validates a param-write and parks the machine in UpdateParams.
// A rejected write leaves the state unchanged.
func (m *Machine) beginUpdate() {
	if !m.state.Updatable() {
		m.diagnose(fmt.Sprintf("param-write rejected: not permitted in %s", m.state))
		return
	}
	id, value := params.ID(m.cmd.Args[0]), float64(m.cmd.Args[1])
	if err := m.params.Check(id, value); err != nil {
		m.diagnose(fmt.Sprintf("param-write rejected: %v", err))
		return
	}
	m.write = &paramWrite{id: id, value: value}
	m.resume = m.state
	m.state = UpdateParams
}

// applyWrite writes through the store and reports every value it changed
func (m *Machine) applyWrite(w paramWrite) {
	written, err := m.params.Set(w.id, w.value)
	if err != nil {
		m.diagnose(fmt.Sprintf("param-write rejected: %v", err))
		return
	}
	for _, id := range written {
		m.out.Report(stimlink.Message{Kind: stimlink.KindParam, ID: int(id), Value: m.params.MustGet(id)})
		for _, ch := range Channels {
			if id == ch.PowerID() {
				m.io.AnalogWrite(pinsOf[ch].dac, uint16(m.params.Int(id)))
			}
		}
	}
}

// ============================================================
// Reports
// ============================================================

func (m *Machine) elapsed() uint32 {
	return m.now - m.epoch
}

func (m *Machine) announce() {
	m.out.Report(stimlink.Message{Kind: stimlink.KindOnline, Text: m.identity})
	for s := State(0); s < StateCount; s++ {
		m.out.Report(stimlink.Message{Kind: stimlink.KindStateDef, ID: int(s), Flag: s.Updatable(), Text: s.String()})
	}
	for e := Event(0); e < EventCount; e++ {
		m.out.Report(stimlink.Message{Kind: stimlink.KindEventDef, ID: int(e), Text: e.String()})
	}
	m.params.ForEach(func(id params.ID, name string, value float64) {
		m.out.Report(stimlink.Message{Kind: stimlink.KindParamDef, ID: int(id), Value: value, Text: name})
	})
	for r := Result(0); r < ResultCount; r++ {
		m.out.Report(stimlink.Message{Kind: stimlink.KindResultDef, ID: int(r), Text: r.String()})
	}
}

func (m *Machine) reportState() {
	m.out.Report(stimlink.Message{Kind: stimlink.KindState, ID: int(m.state), Time: m.elapsed()})
}

func (m *Machine) emitEvent(e Event) {
	m.out.Report(stimlink.Message{Kind: stimlink.KindEvent, ID: int(e), Time: m.elapsed()})
}

// emitResult reports r once; None is never sent
func (m *Machine) emitResult(r Result) {
	if r == None {
		return
	}
	m.out.Report(stimlink.Message{Kind: stimlink.KindResult, ID: int(r), Time: m.elapsed()})
	m.last = r
}

func (m *Machine) ack(ch params.Channel) {
	m.out.Report(stimlink.Message{Kind: stimlink.KindAck, ID: int(ch), Time: m.elapsed()})
}

func (m *Machine) diagnose(text string) {
	m.out.Report(stimlink.Diagnostic(text))
}

func (m *Machine) help() {
	for _, c := range stimlink.Commands {
		m.diagnose(fmt.Sprintf("%-22s %s", c.Usage, c.Description))
	}
}
