// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hw

import (
	"fmt"
	"sync"
	"time"
)

// Write is one recorded output change on a Sim
type Write struct {
	Time   uint32
	Pin    Pin
	High   bool
	Level  uint16
	Analog bool
}

func (w Write) String() string {
	if w.Analog {
		return fmt.Sprintf("%8d %s=%d", w.Time, w.Pin, w.Level)
	}
	state := "LOW"
	if w.High {
		state = "HIGH"
	}
	return fmt.Sprintf("%8d %s %s", w.Time, w.Pin, state)
}

// Sim is an in-memory board with a manually advanced clock.
// It is safe for concurrent use so a bench harness can flip inputs while a
// runner ticks.
type Sim struct {
	mu      sync.Mutex
	now     uint32
	digital [PinCount]bool
	analog  [PinCount]uint16
	log     []Write
	keepLog bool
	wall    time.Time
}

// NewSim returns a board at time start with every line low
func NewSim(start uint32) *Sim {
	return &Sim{now: start, keepLog: true}
}

// DisableLog stops recording output writes. Long bench runs use this.
func (s *Sim) DisableLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepLog = false
	s.log = nil
}

// FollowWallClock makes the clock track real time from now on; Advance still
// shifts it. Used for interactive bench runs.
func (s *Sim) FollowWallClock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wall = time.Now()
}

// Millis returns the simulated clock
func (s *Sim) Millis() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.millisLocked()
}

func (s *Sim) millisLocked() uint32 {
	if !s.wall.IsZero() {
		return s.now + uint32(time.Since(s.wall).Milliseconds())
	}
	return s.now
}

// Advance moves the clock forward by ms
func (s *Sim) Advance(ms uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += ms
}

// DigitalRead returns the current level of p
func (s *Sim) DigitalRead(p Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digital[p]
}

// DigitalWrite drives p and records the change
func (s *Sim) DigitalWrite(p Pin, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digital[p] = high
	if s.keepLog {
		s.log = append(s.log, Write{Time: s.millisLocked(), Pin: p, High: high})
	}
}

// AnalogWrite sets the DAC level of p and records the change
func (s *Sim) AnalogWrite(p Pin, level uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analog[p] = level
	if s.keepLog {
		s.log = append(s.log, Write{Time: s.millisLocked(), Pin: p, Level: level, Analog: true})
	}
}

// SetInput sets the level an input pin will read. Inputs are not logged.
func (s *Sim) SetInput(p Pin, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digital[p] = high
}

// Level returns the last DAC level written to p
func (s *Sim) Level(p Pin) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analog[p]
}

// Writes returns a copy of the recorded writes
func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.log))
	copy(out, s.log)
	return out
}

// WritesTo returns the recorded digital writes to p
func (s *Sim) WritesTo(p Pin) []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Write
	for _, w := range s.log {
		if w.Pin == p && !w.Analog {
			out = append(out, w)
		}
	}
	return out
}

// ClearLog drops the recorded writes
func (s *Sim) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = s.log[:0]
}
