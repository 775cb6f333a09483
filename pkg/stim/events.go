// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import "fmt"

// Event is a timestamped marker reported to the host
type Event int

// Event markers
const (
	ExperimentStart Event = iota
	TrialStart
	TrialEnd
	CueOn
	CueOff
	ParamWarning
	OriginWarning
	PhotometryOn
	PhotometryOff
	PhaseStart
	PhaseEnd
	TrainStart
	TrainEnd
	CancelSignal

	// EventCount is the number of event markers
	EventCount
)

var eventNames = [...]string{
	ExperimentStart: "experiment_start",
	TrialStart:      "trial_start",
	TrialEnd:        "trial_end",
	CueOn:           "cue_on",
	CueOff:          "cue_off",
	ParamWarning:    "param_warning",
	OriginWarning:   "origin_warning",
	PhotometryOn:    "photometry_on",
	PhotometryOff:   "photometry_off",
	PhaseStart:      "phase_start",
	PhaseEnd:        "phase_end",
	TrainStart:      "train_start",
	TrainEnd:        "train_end",
	CancelSignal:    "cancel",
}

var _ [len(eventNames) - int(EventCount)]struct{}
var _ [int(EventCount) - len(eventNames)]struct{}

func (e Event) String() string {
	if e < 0 || e >= EventCount {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}
