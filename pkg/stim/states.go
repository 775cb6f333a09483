// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import "fmt"

// State is a controller state
type State int

// States. The order is the wire order announced at boot.
const (
	Init State = iota
	Idle
	ExperimentInit
	WaitRequest
	ChrimsonStim
	Chr2Stim
	OptoLadder
	DanTag
	UpdateParams

	// StateCount is the number of states
	StateCount
)

// noState forces the entry action of whatever state is set next
const noState State = -1

type stateInfo struct {
	name string
	// updates permitted while in this state
	updatable bool
}

var states = [...]stateInfo{
	Init:           {"init", false},
	Idle:           {"idle", true},
	ExperimentInit: {"experiment_init", false},
	WaitRequest:    {"wait_request", true},
	ChrimsonStim:   {"chrimson_stim", true},
	Chr2Stim:       {"chr2_stim", true},
	OptoLadder:     {"opto_ladder", true},
	DanTag:         {"dan_tag", true},
	UpdateParams:   {"update_params", true},
}

var _ [len(states) - int(StateCount)]struct{}
var _ [int(StateCount) - len(states)]struct{}

func (s State) String() string {
	if s < 0 || s >= StateCount {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return states[s].name
}

// Updatable reports whether parameter writes are accepted in s
func (s State) Updatable() bool {
	if s < 0 || s >= StateCount {
		return false
	}
	return states[s].updatable
}
