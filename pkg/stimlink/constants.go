// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stimlink implements the host link of the optostim stimulator.
//
// Inbound traffic is a line-oriented command stream: a single command letter and
// up to two integer arguments per line. Outbound traffic is a stream of report
// messages, either as sigil-prefixed text lines or as CBOR payloads carried in
// byte-stuffed, CRC-protected frames.
package stimlink

import "fmt"

// Frame bytes for the binary report format
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Size limits
const (
	MaxLineSize    = 64  // inbound command line, terminator excluded
	MaxPayloadSize = 240 // CBOR payload of one frame
	MaxFrameSize   = 1 + MaxPayloadSize + 2
	MaxTextSize    = 160 // name or diagnostic text carried by a message
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Frame decoder states (internal)
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// Kind is the class of a report message
type Kind uint8

// Report kinds. Definition kinds are sent once at boot; the rest at runtime.
const (
	KindOnline Kind = iota
	KindStateDef
	KindEventDef
	KindParamDef
	KindResultDef
	KindState
	KindEvent
	KindResult
	KindParam
	KindDiagnostic
	KindAck

	// KindCount is the number of report kinds
	KindCount
)

var kindSigils = [...]byte{
	KindOnline:     '!',
	KindStateDef:   '$',
	KindEventDef:   '#',
	KindParamDef:   '%',
	KindResultDef:  '&',
	KindState:      '~',
	KindEvent:      '@',
	KindResult:     '*',
	KindParam:      '=',
	KindDiagnostic: '>',
	KindAck:        '^',
}

var kindNames = [...]string{
	KindOnline:     "ONLINE",
	KindStateDef:   "STATE_DEF",
	KindEventDef:   "EVENT_DEF",
	KindParamDef:   "PARAM_DEF",
	KindResultDef:  "RESULT_DEF",
	KindState:      "STATE",
	KindEvent:      "EVENT",
	KindResult:     "RESULT",
	KindParam:      "PARAM",
	KindDiagnostic: "DIAGNOSTIC",
	KindAck:        "ACK",
}

var _ [len(kindSigils) - int(KindCount)]struct{}
var _ [int(KindCount) - len(kindSigils)]struct{}
var _ [len(kindNames) - int(KindCount)]struct{}
var _ [int(KindCount) - len(kindNames)]struct{}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k < KindCount
}

// Sigil returns the line prefix of k
func (k Kind) Sigil() byte {
	if !k.Valid() {
		return '?'
	}
	return kindSigils[k]
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
	return kindNames[k]
}

// IsDefinition reports whether k is a boot-time enumeration kind
func (k Kind) IsDefinition() bool {
	switch k {
	case KindStateDef, KindEventDef, KindParamDef, KindResultDef:
		return true
	}
	return false
}

// kindForSigil returns the kind whose sigil is c
func kindForSigil(c byte) (Kind, bool) {
	for i, s := range kindSigils {
		if s == c {
			return Kind(i), true
		}
	}
	return 0, false
}

// Format selects the outbound wire encoding
type Format int

// Wire formats
const (
	FormatLine Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatLine:
		return "line"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat resolves "line" or "cbor"
func ParseFormat(s string) (Format, error) {
	switch s {
	case "line", "text", "":
		return FormatLine, nil
	case "cbor", "frame":
		return FormatCBOR, nil
	}
	return 0, fmt.Errorf("unknown report format %q (want line or cbor)", s)
}
