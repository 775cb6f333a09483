// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import "time"

// Message is one outbound report.
//
// Field use by kind:
//
//	Online      Text = device identity
//	StateDef    ID, Flag = updates permitted, Text = name
//	EventDef    ID, Text = name
//	ParamDef    ID, Value = default, Text = name
//	ResultDef   ID, Text = name
//	State       ID, Time
//	Event       ID, Time
//	Result      ID, Time
//	Param       ID, Value
//	Diagnostic  Text
//	Ack         ID = acknowledged channel, Time
//
// Time is milliseconds since the experiment epoch, or since boot before the
// first experiment.
type Message struct {
	Kind  Kind
	ID    int
	Value float64
	Time  uint32
	Flag  bool
	Text  string

	// Received is set by decoders, never transmitted
	Received time.Time
}

// Diagnostic builds a free-text diagnostic message
func Diagnostic(text string) Message {
	return Message{Kind: KindDiagnostic, Text: text}
}

// Field layout per kind, used by the line codec
type fieldSet uint8

const (
	fieldID fieldSet = 1 << iota
	fieldValue
	fieldTime
	fieldFlag
	fieldText
)

var kindFields = [...]fieldSet{
	KindOnline:     fieldText,
	KindStateDef:   fieldID | fieldFlag | fieldText,
	KindEventDef:   fieldID | fieldText,
	KindParamDef:   fieldID | fieldValue | fieldText,
	KindResultDef:  fieldID | fieldText,
	KindState:      fieldID | fieldTime,
	KindEvent:      fieldID | fieldTime,
	KindResult:     fieldID | fieldTime,
	KindParam:      fieldID | fieldValue,
	KindDiagnostic: fieldText,
	KindAck:        fieldID | fieldTime,
}

var _ [len(kindFields) - int(KindCount)]struct{}
var _ [int(KindCount) - len(kindFields)]struct{}

func (k Kind) fields() fieldSet {
	if !k.Valid() {
		return 0
	}
	return kindFields[k]
}
