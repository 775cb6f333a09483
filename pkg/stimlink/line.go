// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrMalformedLine is returned for report lines that do not parse
var ErrMalformedLine = errors.New("malformed report line")

// LineEncoder renders messages as "<sigil><field> <field>...\n".
// Text, when present, is always the last field and may contain spaces.
type LineEncoder struct{}

// Encode renders m as one terminated line
func (LineEncoder) Encode(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("cannot encode %s", m.Kind)
	}

	fs := m.Kind.fields()
	parts := make([]string, 0, 4)
	if fs&fieldID != 0 {
		parts = append(parts, strconv.Itoa(m.ID))
	}
	if fs&fieldFlag != 0 {
		parts = append(parts, boolField(m.Flag))
	}
	if fs&fieldValue != 0 {
		parts = append(parts, strconv.FormatFloat(m.Value, 'g', -1, 64))
	}
	if fs&fieldTime != 0 {
		parts = append(parts, strconv.FormatUint(uint64(m.Time), 10))
	}
	if fs&fieldText != 0 {
		parts = append(parts, sanitizeText(m.Text))
	}

	line := string(m.Kind.Sigil()) + strings.Join(parts, " ")
	return []byte(strings.TrimRight(line, " ") + "\n"), nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// sanitizeText keeps text on one line, valid UTF-8 and within MaxTextSize.
// Truncation never splits a rune.
func sanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
	if len(s) > MaxTextSize {
		n := MaxTextSize
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s
}

// ParseLine decodes one report line; a trailing terminator is ignored
func ParseLine(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Message{}, fmt.Errorf("%w: empty", ErrMalformedLine)
	}

	kind, ok := kindForSigil(line[0])
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown sigil %q", ErrMalformedLine, line[0])
	}

	m := Message{Kind: kind}
	rest := line[1:]
	fs := kind.fields()

	next := func(name string) (string, error) {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return "", fmt.Errorf("%w: %s missing %s", ErrMalformedLine, kind, name)
		}
		field, tail, _ := strings.Cut(rest, " ")
		rest = tail
		return field, nil
	}

	if fs&fieldID != 0 {
		f, err := next("id")
		if err != nil {
			return Message{}, err
		}
		if m.ID, err = strconv.Atoi(f); err != nil {
			return Message{}, fmt.Errorf("%w: %s id %q", ErrMalformedLine, kind, f)
		}
	}
	if fs&fieldFlag != 0 {
		f, err := next("flag")
		if err != nil {
			return Message{}, err
		}
		switch f {
		case "0":
		case "1":
			m.Flag = true
		default:
			return Message{}, fmt.Errorf("%w: %s flag %q", ErrMalformedLine, kind, f)
		}
	}
	if fs&fieldValue != 0 {
		f, err := next("value")
		if err != nil {
			return Message{}, err
		}
		if m.Value, err = strconv.ParseFloat(f, 64); err != nil {
			return Message{}, fmt.Errorf("%w: %s value %q", ErrMalformedLine, kind, f)
		}
	}
	if fs&fieldTime != 0 {
		f, err := next("time")
		if err != nil {
			return Message{}, err
		}
		t, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %s time %q", ErrMalformedLine, kind, f)
		}
		m.Time = uint32(t)
	}
	if fs&fieldText != 0 {
		m.Text = strings.TrimLeft(rest, " ")
	} else if strings.TrimSpace(rest) != "" {
		return Message{}, fmt.Errorf("%w: %s trailing %q", ErrMalformedLine, kind, rest)
	}

	m.Received = time.Now()
	return m, nil
}

// LineDecoder assembles report lines from a byte stream
type LineDecoder struct {
	line     []byte
	overflow bool
}

// NewLineDecoder creates a new report line decoder
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{line: make([]byte, 0, 2*MaxTextSize)}
}

// Reset discards any partial line
func (d *LineDecoder) Reset() {
	d.line = d.line[:0]
	d.overflow = false
}

// DecodeByte processes one byte and returns a message at each line end
func (d *LineDecoder) DecodeByte(b byte) (*Message, error) {
	if b != '\n' {
		if len(d.line) >= 4*MaxTextSize {
			d.overflow = true
			return nil, nil
		}
		d.line = append(d.line, b)
		return nil, nil
	}

	defer d.Reset()
	if d.overflow {
		return nil, fmt.Errorf("%w: line too long", ErrMalformedLine)
	}
	if len(strings.TrimSpace(string(d.line))) == 0 {
		return nil, nil
	}
	m, err := ParseLine(string(d.line))
	if err != nil {
		return nil, err
	}
	return &m, nil
}
