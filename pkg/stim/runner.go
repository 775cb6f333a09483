// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stim

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
)

// DefaultTickPeriod is the scheduler period of a hosted controller
const DefaultTickPeriod = time.Millisecond

// DefaultInboxDepth is the number of commands buffered between ticks
const DefaultInboxDepth = 32

type inboxItem struct {
	cmd *stimlink.Command
	err error
}

// Runner drives a Machine from a ticker and feeds it at most one host command
// per tick. Only the Run goroutine touches the machine.
type Runner struct {
	m      *Machine
	period time.Duration
	inbox  chan inboxItem
}

// NewRunner creates a runner for m. Zero period or depth selects the default.
func NewRunner(m *Machine, period time.Duration, depth int) *Runner {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	if depth <= 0 {
		depth = DefaultInboxDepth
	}
	return &Runner{
		m:      m,
		period: period,
		inbox:  make(chan inboxItem, depth),
	}
}

// Submit queues cmd for a later tick. It never blocks; a full inbox drops the
// command and returns false.
func (r *Runner) Submit(cmd stimlink.Command) bool {
	select {
	case r.inbox <- inboxItem{cmd: &cmd}:
		return true
	default:
		log.Printf("Command inbox full, dropped %s", cmd)
		return false
	}
}

// Reject queues a decode error to be reported as a diagnostic
func (r *Runner) Reject(err error) bool {
	select {
	case r.inbox <- inboxItem{err: err}:
		return true
	default:
		log.Printf("Command inbox full, dropped error: %v", err)
		return false
	}
}

// Feed decodes commands from rd until it ends or fails. io.EOF is reported as
// a nil error.
func (r *Runner) Feed(rd io.Reader) error {
	decoder := stimlink.NewCommandDecoder()
	buf := make([]byte, 256)
	for {
		n, err := rd.Read(buf)
		for i := 0; i < n; i++ {
			cmd, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				r.Reject(derr)
				continue
			}
			if cmd != nil {
				r.Submit(*cmd)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Step runs one tick, consuming at most one queued item
func (r *Runner) Step() {
	select {
	case item := <-r.inbox:
		if item.err != nil {
			r.m.Tick(nil)
			r.m.Reject(item.err)
			return
		}
		r.m.Tick(item.cmd)
	default:
		r.m.Tick(nil)
	}
}

// Run ticks the machine until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Step()
		}
	}
}
