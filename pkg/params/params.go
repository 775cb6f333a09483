// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package params holds the stimulator's host-writable parameter table.
//
// Parameters are addressed by a contiguous integer ID and carry a float64 value.
// Set is the only mutation path; it validates the ID and the value before writing
// and recomputes the timing parameters that are defined in terms of the one written.
package params

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ID identifies a parameter. Valid IDs are contiguous in [0, Count).
type ID int

// Parameter IDs. The order is the wire order announced at boot.
const (
	ChrimsonFrequency ID = iota
	ChrimsonPeriod
	ChrimsonDutyCycle
	ChrimsonUpTime
	ChrimsonDownTime
	ChrimsonPulses
	ChrimsonPower
	Chr2Frequency
	Chr2Period
	Chr2DutyCycle
	Chr2UpTime
	Chr2DownTime
	Chr2Pulses
	Chr2Power
	LadderTrainsA
	LadderTrainsB
	LadderDelay
	LadderTrainGap
	TagTrains
	CancelEnabled
	PhotometryPower

	// Count is the number of parameters
	Count
)

// NameSize is the fixed width of a parameter label on the wire
const NameSize = 24

var names = [...]string{
	ChrimsonFrequency: "chrimson_frequency",
	ChrimsonPeriod:    "chrimson_period",
	ChrimsonDutyCycle: "chrimson_duty_cycle",
	ChrimsonUpTime:    "chrimson_up_time",
	ChrimsonDownTime:  "chrimson_down_time",
	ChrimsonPulses:    "chrimson_pulses",
	ChrimsonPower:     "chrimson_power",
	Chr2Frequency:     "chr2_frequency",
	Chr2Period:        "chr2_period",
	Chr2DutyCycle:     "chr2_duty_cycle",
	Chr2UpTime:        "chr2_up_time",
	Chr2DownTime:      "chr2_down_time",
	Chr2Pulses:        "chr2_pulses",
	Chr2Power:         "chr2_power",
	LadderTrainsA:     "ladder_trains_a",
	LadderTrainsB:     "ladder_trains_b",
	LadderDelay:       "ladder_delay",
	LadderTrainGap:    "ladder_train_gap",
	TagTrains:         "tag_trains",
	CancelEnabled:     "cancel_enabled",
	PhotometryPower:   "photometry_power",
}

// One name per ID, no more and no less.
var _ [len(names) - int(Count)]struct{}
var _ [int(Count) - len(names)]struct{}

// Sentinel errors
var (
	ErrUnknownParam = errors.New("params: unknown parameter")
	ErrOutOfRange   = errors.New("params: value out of range")
)

// MaxPower is the full-scale DAC level
const MaxPower = 4095

// MaxMillis is the longest duration a parameter may hold. The engine keeps
// time in uint32 milliseconds.
const MaxMillis = math.MaxUint32

// MaxCount bounds pulse and train counts
const MaxCount = math.MaxInt32

// String returns the parameter's label
func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("param(%d)", int(id))
	}
	return names[id]
}

// Valid reports whether id is inside [0, Count)
func (id ID) Valid() bool {
	return id >= 0 && id < Count
}

// ParseID resolves a parameter label or decimal ID
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, n := range names {
		if n == s {
			return ID(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && ID(n).Valid() {
		return ID(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, s)
}

// Store is the parameter table. The zero value is not usable; call New.
type Store struct {
	values [Count]float64
}

// New returns a store loaded with the boot defaults
func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset restores every parameter to its default
func (s *Store) Reset() {
	for _, ch := range []Channel{Chrimson, Chr2} {
		ids := ch.ids()
		s.values[ids.frequency] = 20
		s.values[ids.period] = 50
		s.values[ids.dutyCycle] = 10
		s.values[ids.upTime] = 5
		s.values[ids.downTime] = 45
		s.values[ids.pulses] = 10
		s.values[ids.power] = MaxPower
	}
	s.values[LadderTrainsA] = 2
	s.values[LadderTrainsB] = 1
	s.values[LadderDelay] = 5000
	s.values[LadderTrainGap] = 1000
	s.values[TagTrains] = 1
	s.values[CancelEnabled] = 1
	s.values[PhotometryPower] = MaxPower / 2
}

// Get returns the value of id
func (s *Store) Get(id ID) (float64, error) {
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownParam, int(id))
	}
	return s.values[id], nil
}

// MustGet returns the value of a compile-time known id. It panics on an invalid id.
func (s *Store) MustGet(id ID) float64 {
	v, err := s.Get(id)
	if err != nil {
		panic(err)
	}
	return v
}

// Int returns the value of id rounded to the nearest integer
func (s *Store) Int(id ID) int {
	return int(math.Round(s.MustGet(id)))
}

// Bool returns true when the value of id is non-zero
func (s *Store) Bool(id ID) bool {
	return s.MustGet(id) != 0
}

// ForEach visits every parameter in ID order
func (s *Store) ForEach(visit func(id ID, name string, value float64)) {
	for i := ID(0); i < Count; i++ {
		visit(i, names[i], s.values[i])
	}
}

// Set writes value to id and recomputes the parameters derived from it.
// It returns every ID written, the authoritative one first. Nothing is written
// when an error is returned.
func (s *Store) Set(id ID, value float64) ([]ID, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParam, int(id))
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: %s=%v", ErrOutOfRange, id, value)
	}

	if ch, ok := channelOf(id); ok {
		return s.setChannel(ch, id, value)
	}

	switch id {
	case LadderTrainsA, LadderTrainsB, TagTrains:
		if value < 0 || value > MaxCount || value != math.Trunc(value) {
			return nil, fmt.Errorf("%w: %s must be a whole count in [0, %d], got %v", ErrOutOfRange, id, MaxCount, value)
		}
	case LadderDelay, LadderTrainGap:
		if value < 0 || value > MaxMillis {
			return nil, fmt.Errorf("%w: %s must be in [0, %d] ms, got %v", ErrOutOfRange, id, uint32(MaxMillis), value)
		}
	case CancelEnabled:
		if value != 0 && value != 1 {
			return nil, fmt.Errorf("%w: %s must be 0 or 1, got %v", ErrOutOfRange, id, value)
		}
	case PhotometryPower:
		if value < 0 || value > MaxPower {
			return nil, fmt.Errorf("%w: %s must be in [0, %d], got %v", ErrOutOfRange, id, MaxPower, value)
		}
	}

	s.values[id] = value
	return []ID{id}, nil
}

// Check reports whether Set(id, value) would succeed, without writing
func (s *Store) Check(id ID, value float64) error {
	scratch := *s
	_, err := scratch.Set(id, value)
	return err
}
