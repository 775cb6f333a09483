// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives outbound reports. Report must not block the caller for long;
// the controller calls it from its tick.
type Sink interface {
	Report(m Message)
}

// Encoder turns a message into wire bytes
type Encoder interface {
	Encode(m Message) ([]byte, error)
}

// MessageDecoder turns a byte stream back into messages
type MessageDecoder interface {
	DecodeByte(b byte) (*Message, error)
	Reset()
}

// NewEncoder returns the encoder for f
func NewEncoder(f Format) Encoder {
	if f == FormatCBOR {
		return FrameEncoder{}
	}
	return LineEncoder{}
}

// NewMessageDecoder returns the decoder for f
func NewMessageDecoder(f Format) MessageDecoder {
	if f == FormatCBOR {
		return NewFrameDecoder()
	}
	return NewLineDecoder()
}

// Writer is a Sink that encodes each message onto an io.Writer
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	enc Encoder
	err error
}

// NewWriter creates a sink writing enc-encoded messages to w
func NewWriter(w io.Writer, enc Encoder) *Writer {
	return &Writer{w: w, enc: enc}
}

// Report encodes and writes m. The first failure is kept and later reports
// are dropped; see Err.
func (s *Writer) Report(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	data, err := s.enc.Encode(m)
	if err != nil {
		s.err = fmt.Errorf("failed to encode %s: %w", m.Kind, err)
		return
	}
	if _, err := s.w.Write(data); err != nil {
		s.err = fmt.Errorf("failed to write %s: %w", m.Kind, err)
	}
}

// Err returns the first encode or write failure
func (s *Writer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Recorder is a Sink that keeps every message in memory
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

// Report appends m
func (r *Recorder) Report(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

// Messages returns a copy of everything recorded
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Of returns the recorded messages of kind k
func (r *Recorder) Of(k Kind) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.msgs {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

// Count returns how many messages of kind k with id were recorded
func (r *Recorder) Count(k Kind, id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Kind == k && m.ID == id {
			n++
		}
	}
	return n
}

// Reset drops everything recorded
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

// MultiSink fans each report out to several sinks
type MultiSink []Sink

// Report forwards m to every sink in order
func (ms MultiSink) Report(m Message) {
	for _, s := range ms {
		s.Report(m)
	}
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(m Message)

// Report calls f(m)
func (f SinkFunc) Report(m Message) { f(m) }

// Discard is a Sink that drops every message
var Discard Sink = SinkFunc(func(Message) {})
