// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package params

import (
	"fmt"
	"math"

	"github.com/Thermoquad/optostim/pkg/pulse"
)

// Channel is an excitation channel with its own timing block
type Channel int

// Excitation channels
const (
	Chrimson Channel = iota
	Chr2
)

func (c Channel) String() string {
	switch c {
	case Chrimson:
		return "Chrimson"
	case Chr2:
		return "ChR2"
	default:
		return "Unknown"
	}
}

// channelIDs is the timing block of one channel
type channelIDs struct {
	frequency, period, dutyCycle, upTime, downTime, pulses, power ID
}

var channelBlocks = [...]channelIDs{
	Chrimson: {ChrimsonFrequency, ChrimsonPeriod, ChrimsonDutyCycle, ChrimsonUpTime, ChrimsonDownTime, ChrimsonPulses, ChrimsonPower},
	Chr2:     {Chr2Frequency, Chr2Period, Chr2DutyCycle, Chr2UpTime, Chr2DownTime, Chr2Pulses, Chr2Power},
}

func (c Channel) ids() channelIDs {
	return channelBlocks[c]
}

// channelOf returns the channel whose timing block contains id
func channelOf(id ID) (Channel, bool) {
	for i, b := range channelBlocks {
		switch id {
		case b.frequency, b.period, b.dutyCycle, b.upTime, b.downTime, b.pulses, b.power:
			return Channel(i), true
		}
	}
	return 0, false
}

// PowerID returns the DAC level parameter of c
func (c Channel) PowerID() ID {
	return c.ids().power
}

// PulsesID returns the pulses-per-train parameter of c
func (c Channel) PulsesID() ID {
	return c.ids().pulses
}

// Timing returns the current pulse timing of c for the train engine
func (s *Store) Timing(c Channel) pulse.Timing {
	ids := c.ids()
	return pulse.Timing{
		Width:    toMillis(s.values[ids.upTime]),
		Interval: toMillis(s.values[ids.downTime]),
		Pulses:   int(math.Round(s.values[ids.pulses])),
	}
}

// Millis returns the value of a duration parameter as whole milliseconds
func (s *Store) Millis(id ID) uint32 {
	return toMillis(s.MustGet(id))
}

func toMillis(v float64) uint32 {
	if v <= 0 {
		return 0
	}
	return uint32(math.Round(v))
}

// setChannel writes one timing parameter of ch. Exactly one of frequency, period,
// duty cycle, up time and down time is authoritative; the other four are derived:
//
//	period   = 1000 / frequency
//	upTime   = dutyCycle / 100 * period
//	downTime = period - upTime
//
// Up and down time writes hold the period and move the duty cycle.
func (s *Store) setChannel(ch Channel, id ID, v float64) ([]ID, error) {
	ids := ch.ids()

	switch id {
	case ids.pulses:
		if v < 1 || v > MaxCount || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s must be a whole count in [1, %d], got %v", ErrOutOfRange, id, MaxCount, v)
		}
		s.values[id] = v
		return []ID{id}, nil

	case ids.power:
		if v < 0 || v > MaxPower {
			return nil, fmt.Errorf("%w: %s must be in [0, %d], got %v", ErrOutOfRange, id, MaxPower, v)
		}
		s.values[id] = v
		return []ID{id}, nil
	}

	period := s.values[ids.period]
	duty := s.values[ids.dutyCycle]
	var up float64

	switch id {
	case ids.frequency:
		if v < 1000.0/MaxMillis {
			return nil, fmt.Errorf("%w: %s must be >= %v, got %v", ErrOutOfRange, id, 1000.0/MaxMillis, v)
		}
		period = 1000 / v
		up = duty / 100 * period

	case ids.period:
		if v <= 0 || v > MaxMillis {
			return nil, fmt.Errorf("%w: %s must be in (0, %d] ms, got %v", ErrOutOfRange, id, uint32(MaxMillis), v)
		}
		period = v
		up = duty / 100 * period

	case ids.dutyCycle:
		if v < 0 || v > 100 {
			return nil, fmt.Errorf("%w: %s must be in [0, 100], got %v", ErrOutOfRange, id, v)
		}
		duty = v
		up = duty / 100 * period

	case ids.upTime:
		if v < 0 || v > period {
			return nil, fmt.Errorf("%w: %s must be in [0, %v], got %v", ErrOutOfRange, id, period, v)
		}
		up = v
		duty = 100 * up / period

	case ids.downTime:
		if v < 0 || v > period {
			return nil, fmt.Errorf("%w: %s must be in [0, %v], got %v", ErrOutOfRange, id, period, v)
		}
		up = period - v
		duty = 100 * up / period
	}

	s.values[ids.frequency] = 1000 / period
	s.values[ids.period] = period
	s.values[ids.dutyCycle] = duty
	s.values[ids.upTime] = up
	s.values[ids.downTime] = period - up
	s.values[id] = v

	written := []ID{id}
	for _, d := range []ID{ids.frequency, ids.period, ids.dutyCycle, ids.upTime, ids.downTime} {
		if d != id {
			written = append(written, d)
		}
	}
	return written, nil
}
