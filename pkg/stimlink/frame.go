// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrCRCMismatch is returned by FrameDecoder when a frame fails its checksum
var ErrCRCMismatch = errors.New("CRC mismatch")

// CBOR payload map keys
const (
	keyID    = 0
	keyValue = 1
	keyTime  = 2
	keyFlag  = 3
	keyText  = 4
)

// FrameEncoder renders messages as binary frames:
//
//	START | stuffed(length | CBOR [kind, {fields}] | CRC16 big-endian) | END
type FrameEncoder struct{}

// Encode renders m as one frame
func (FrameEncoder) Encode(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("cannot encode %s", m.Kind)
	}

	payload, err := encodeCBORPayload(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	data := make([]byte, 0, 1+len(payload)+2)
	data = append(data, uint8(len(payload)))
	data = append(data, payload...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)
	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)
	return frame, nil
}

// encodeCBORPayload builds [kind, map]; only the fields the kind carries are written
func encodeCBORPayload(m Message) ([]byte, error) {
	fs := m.Kind.fields()
	fields := map[int]interface{}{}
	if fs&fieldID != 0 {
		fields[keyID] = int64(m.ID)
	}
	if fs&fieldValue != 0 {
		fields[keyValue] = m.Value
	}
	if fs&fieldTime != 0 {
		fields[keyTime] = uint64(m.Time)
	}
	if fs&fieldFlag != 0 {
		fields[keyFlag] = m.Flag
	}
	if fs&fieldText != 0 {
		fields[keyText] = sanitizeText(m.Text)
	}
	return cbor.Marshal([]interface{}{uint64(m.Kind), fields})
}

// stuffBytes escapes START, END and ESC as ESC + (byte ^ EscXor)
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// ParseCBORMessage decodes a [kind, map] payload into a Message
func ParseCBORMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("empty CBOR payload")
	}

	var raw []interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(raw) != 2 {
		return Message{}, fmt.Errorf("expected 2-element array, got %d elements", len(raw))
	}

	k, ok := raw[0].(uint64)
	if !ok {
		return Message{}, fmt.Errorf("expected uint for message kind, got %T", raw[0])
	}
	if k >= uint64(KindCount) {
		return Message{}, fmt.Errorf("message kind out of range: %d", k)
	}

	fields, err := toIntMap(raw[1])
	if err != nil {
		return Message{}, err
	}

	m := Message{Kind: Kind(k)}
	if id, ok := GetMapInt(fields, keyID); ok {
		m.ID = int(id)
	}
	if v, ok := GetMapFloat(fields, keyValue); ok {
		m.Value = v
	}
	if t, ok := GetMapUint(fields, keyTime); ok {
		m.Time = uint32(t)
	}
	if f, ok := GetMapBool(fields, keyFlag); ok {
		m.Flag = f
	}
	if s, ok := GetMapString(fields, keyText); ok {
		m.Text = s
	}
	return m, nil
}

func toIntMap(v interface{}) (map[int]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	src, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map or nil for payload, got %T", v)
	}
	out := make(map[int]interface{}, len(src))
	for key, val := range src {
		switch k := key.(type) {
		case uint64:
			out[int(k)] = val
		case int64:
			out[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return out, nil
}

// FrameDecoder implements the binary frame decoder state machine
type FrameDecoder struct {
	state      int
	buffer     []byte
	length     int
	crc        uint16
	escapeNext bool
}

// NewFrameDecoder creates a new frame decoder
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		state:  stateIdle,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset returns the decoder to idle
func (d *FrameDecoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.length = 0
	d.crc = 0
	d.escapeNext = false
}

// DecodeByte processes a single byte. It returns a message when a valid frame
// ends, an error when a frame is rejected, and nil, nil otherwise.
func (d *FrameDecoder) DecodeByte(b byte) (*Message, error) {
	// Framing bytes are never escaped, so they resynchronise immediately
	switch b {
	case StartByte:
		d.Reset()
		d.state = stateLength
		return nil, nil
	case EndByte:
		defer d.Reset()
		if d.state != stateEnd || d.escapeNext {
			if d.state == stateIdle {
				return nil, nil
			}
			return nil, fmt.Errorf("unexpected END byte in state %d", d.state)
		}
		calculated := CalculateCRC(d.buffer)
		if calculated != d.crc {
			return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, d.crc)
		}
		m, err := ParseCBORMessage(d.buffer[1:])
		if err != nil {
			return nil, err
		}
		m.Received = time.Now()
		return &m, nil
	case EscByte:
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if int(b) > MaxPayloadSize || b == 0 {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.buffer = append(d.buffer, b)
		d.state = statePayload
		return nil, nil

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer)-1 >= d.length {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("frame overrun: data after CRC")
	}
}

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	switch val := m[key].(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	case float64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapInt extracts an int64 from a CBOR map by key
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	switch val := m[key].(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	case float64:
		return int64(val), true
	}
	return 0, false
}

// GetMapFloat extracts a float64 from a CBOR map by key
func GetMapFloat(m map[int]interface{}, key int) (float64, bool) {
	switch val := m[key].(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	val, ok := m[key].(bool)
	return val, ok
}

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	val, ok := m[key].(string)
	return val, ok
}
