// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package periphio drives the stimulator pins through Linux GPIO using periph.io.
//
// DAC outputs are realised as PWM duty cycles on the mapped line; an external RC
// filter or LED driver with a PWM dimming input turns that into a level.
package periphio

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/Thermoquad/optostim/pkg/hw"
)

// Sentinel errors
var (
	ErrPinNotFound = errors.New("periphio: gpio line not found")
	ErrBadMapping  = errors.New("periphio: bad pin mapping")
)

// DefaultPWMFrequency is the carrier used for DAC pins
const DefaultPWMFrequency = 20 * physic.KiloHertz

// PinMap maps logical pins to gpioreg line names (e.g. "GPIO17")
type PinMap map[hw.Pin]string

// DefaultPinMap is the Raspberry Pi wiring of the reference rig
func DefaultPinMap() PinMap {
	return PinMap{
		hw.ChrimsonGate:    "GPIO17",
		hw.Chr2Gate:        "GPIO27",
		hw.PhotometryLED:   "GPIO22",
		hw.ChrimsonDAC:     "GPIO12",
		hw.Chr2DAC:         "GPIO13",
		hw.PhotometryDAC:   "GPIO18",
		hw.ChrimsonTrigger: "GPIO5",
		hw.Chr2Trigger:     "GPIO6",
		hw.CancelLine:      "GPIO16",
		hw.TrialLine:       "GPIO20",
		hw.CueLine:         "GPIO21",
	}
}

// ParseMapping applies a "pin=LINE" override to m
func (m PinMap) ParseMapping(spec string) error {
	name, line, ok := strings.Cut(spec, "=")
	if !ok || strings.TrimSpace(line) == "" {
		return fmt.Errorf("%w: %q (want pin=LINE)", ErrBadMapping, spec)
	}
	p, err := hw.ParsePin(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMapping, err)
	}
	m[p] = strings.TrimSpace(line)
	return nil
}

// Board implements hw.IO over periph.io GPIO lines
type Board struct {
	mu    sync.Mutex
	pins  [hw.PinCount]gpio.PinIO
	start time.Time
	pwm   physic.Frequency
}

// Open initialises the host drivers and claims every mapped line.
// Unmapped pins read low and ignore writes.
func Open(m PinMap) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise periph host: %w", err)
	}

	b := &Board{start: time.Now(), pwm: DefaultPWMFrequency}
	for p, line := range m {
		pin := gpioreg.ByName(line)
		if pin == nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrPinNotFound, line, p)
		}

		var err error
		switch {
		case p.IsInput():
			err = pin.In(gpio.PullDown, gpio.NoEdge)
		case p.IsAnalog():
			err = pin.PWM(0, b.pwm)
		default:
			err = pin.Out(gpio.Low)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to configure %s on %s: %w", p, line, err)
		}
		b.pins[p] = pin
	}
	return b, nil
}

// Millis returns milliseconds since Open on the monotonic clock
func (b *Board) Millis() uint32 {
	return uint32(time.Since(b.start).Milliseconds())
}

// DigitalRead samples an input line
func (b *Board) DigitalRead(p hw.Pin) bool {
	pin := b.pin(p)
	if pin == nil {
		return false
	}
	return pin.Read() == gpio.High
}

// DigitalWrite drives an output line
func (b *Board) DigitalWrite(p hw.Pin, high bool) {
	pin := b.pin(p)
	if pin == nil {
		return
	}
	if err := pin.Out(gpio.Level(high)); err != nil {
		log.Printf("Failed to write %s: %v", p, err)
	}
}

// AnalogWrite sets a DAC pin's PWM duty from a 12-bit level
func (b *Board) AnalogWrite(p hw.Pin, level uint16) {
	pin := b.pin(p)
	if pin == nil {
		return
	}
	if err := pin.PWM(LevelToDuty(level), b.pwm); err != nil {
		log.Printf("Failed to set %s level %d: %v", p, level, err)
	}
}

// Close drives every output low
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for i, pin := range b.pins {
		p := hw.Pin(i)
		if pin == nil || p.IsInput() {
			continue
		}
		if err := pin.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Board) pin(p hw.Pin) gpio.PinIO {
	if p < 0 || p >= hw.PinCount {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pins[p]
}

// LevelToDuty scales a DAC level in [0, hw.MaxLevel] to a PWM duty
func LevelToDuty(level uint16) gpio.Duty {
	if level >= hw.MaxLevel {
		return gpio.DutyMax
	}
	return gpio.Duty(uint64(level) * uint64(gpio.DutyMax) / hw.MaxLevel)
}

var _ hw.IO = (*Board)(nil)
