// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import (
	"github.com/Thermoquad/optostim/pkg/hw"
	"github.com/Thermoquad/optostim/pkg/params"
	"github.com/Thermoquad/optostim/pkg/pulse"
)

// Origin records who asked for a session
type Origin uint8

// Origin flags. A well-formed session has exactly one set.
const (
	OriginHost Origin = 1 << iota
	OriginTrigger
)

// Ambiguous reports whether o has both or neither flag set
func (o Origin) Ambiguous() bool {
	return o != OriginHost && o != OriginTrigger
}

func (o Origin) String() string {
	switch o {
	case OriginHost:
		return "host"
	case OriginTrigger:
		return "trigger"
	case OriginHost | OriginTrigger:
		return "host+trigger"
	default:
		return "none"
	}
}

// channelPins is the wiring of one excitation channel
type channelPins struct {
	gate, dac, trigger hw.Pin
}

var pinsOf = [...]channelPins{
	params.Chrimson: {hw.ChrimsonGate, hw.ChrimsonDAC, hw.ChrimsonTrigger},
	params.Chr2:     {hw.Chr2Gate, hw.Chr2DAC, hw.Chr2Trigger},
}

// Channels lists the excitation channels
var Channels = []params.Channel{params.Chrimson, params.Chr2}

// Session is the live bookkeeping of one channel's single-train stimulation
type Session struct {
	Train  pulse.Train
	Origin Origin
}

// Active reports whether the session has a train in progress
func (s *Session) Active() bool {
	return s.Train.Active()
}

// start begins a fresh single train at now
func (s *Session) start(now uint32, origin Origin) {
	s.Train.Reset(now, true)
	s.Origin = origin
}

// stop forces the gate off and clears the session
func (s *Session) stop(g pulse.Gate) {
	s.Train.Stop(g)
	s.Origin = 0
}

type resultSet struct {
	delivered, cancelled, uiDelivered, uiCancelled Result
}

var resultsOf = [...]resultSet{
	params.Chrimson: {ChrimsonDelivered, ChrimsonCancelled, UIChrimsonDelivered, UIChrimsonCancelled},
	params.Chr2:     {Chr2Delivered, Chr2Cancelled, UIChr2Delivered, UIChr2Cancelled},
}

// sessionResult picks the result code of a finished session. Ambiguous origins
// resolve to the trigger-initiated code; the caller reports the ambiguity.
func sessionResult(ch params.Channel, origin Origin, cancelled bool) Result {
	rs := resultsOf[ch]
	host := origin == OriginHost
	switch {
	case cancelled && host:
		return rs.uiCancelled
	case cancelled:
		return rs.cancelled
	case host:
		return rs.uiDelivered
	default:
		return rs.delivered
	}
}

// channelState returns the stimulation state of ch
func channelState(ch params.Channel) State {
	if ch == params.Chr2 {
		return Chr2Stim
	}
	return ChrimsonStim
}
