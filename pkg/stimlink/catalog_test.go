// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"fmt"
	"strings"
	"testing"
)

func bootStream() []Message {
	return []Message{
		{Kind: KindOnline, Text: "optostim"},
		{Kind: KindStateDef, ID: 0, Text: "init"},
		{Kind: KindStateDef, ID: 1, Flag: true, Text: "idle"},
		{Kind: KindEventDef, ID: 0, Text: "experiment_start"},
		{Kind: KindEventDef, ID: 1, Text: "param_warning"},
		{Kind: KindParamDef, ID: 0, Value: 20, Text: "chrimson_frequency"},
		{Kind: KindResultDef, ID: 0, Text: "none"},
		{Kind: KindResultDef, ID: 1, Text: "chrimson_delivered"},
	}
}

func TestCatalog_Observe(t *testing.T) {
	c := NewCatalog()
	for _, m := range bootStream() {
		c.Observe(m)
	}
	c.Observe(Message{Kind: KindState, ID: 1, Time: 5})
	c.Observe(Message{Kind: KindParam, ID: 0, Value: 40})
	c.Observe(Message{Kind: KindResult, ID: 1, Time: 9})

	if c.Device != "optostim" {
		t.Errorf("Device = %q, want optostim", c.Device)
	}
	if !c.Enumerated() || c.StateName(1) != "idle" || !c.States[1].Updatable {
		t.Errorf("state 1 = %+v", c.States[1])
	}
	if c.StateName(9) != "state(9)" {
		t.Errorf("StateName(9) = %q", c.StateName(9))
	}
	if !c.HasState || c.State != 1 {
		t.Errorf("live state = %d (has %v), want 1", c.State, c.HasState)
	}
	p := c.Params[0]
	if p.Default != 20 || p.Value != 40 {
		t.Errorf("param 0 = %+v, want default 20 value 40", p)
	}
	if !c.HasResult || c.ResultName(c.LastResult) != "chrimson_delivered" {
		t.Errorf("last result = %d", c.LastResult)
	}

	// A new online marker starts over
	c.Observe(Message{Kind: KindOnline, Text: "optostim"})
	if c.Enumerated() || c.HasState {
		t.Error("online marker did not reset the catalog")
	}
}

func TestValidator(t *testing.T) {
	c := NewCatalog()
	v := NewValidator(c)
	check := func(m Message) []ValidationError {
		errs := v.Validate(m)
		c.Observe(m)
		return errs
	}

	for _, m := range bootStream() {
		if errs := check(m); len(errs) != 0 {
			t.Fatalf("boot message %+v: %v", m, errs)
		}
	}

	tests := []struct {
		name string
		msg  Message
		want []AnomalyType
	}{
		{"valid state", Message{Kind: KindState, ID: 1, Time: 100}, nil},
		{"unknown state", Message{Kind: KindState, ID: 7, Time: 110}, []AnomalyType{AnomalyUnknownID}},
		{"time reversal", Message{Kind: KindEvent, ID: 0, Time: 50}, []AnomalyType{AnomalyTimeReversal}},
		{"epoch restart", Message{Kind: KindEvent, ID: 0, Time: 0}, nil},
		{"null result", Message{Kind: KindResult, ID: 0, Time: 5}, []AnomalyType{AnomalyNullResult}},
		{"empty diagnostic", Message{Kind: KindDiagnostic}, []AnomalyType{AnomalyEmptyText}},
		{"late definition", Message{Kind: KindEventDef, ID: 5, Text: "x"}, []AnomalyType{AnomalyLateDefinition}},
		{"unknown kind", Message{Kind: KindCount}, []AnomalyType{AnomalyUnknownKind}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := check(tt.msg)
			if len(errs) != len(tt.want) {
				t.Fatalf("anomalies = %v, want %v", errs, tt.want)
			}
			for i, e := range errs {
				if e.Type != tt.want[i] {
					t.Errorf("anomaly %d = %v, want %v", i, e.Type, tt.want[i])
				}
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	c := NewCatalog()
	for _, m := range bootStream() {
		c.Observe(m)
	}

	s := NewStatistics()
	s.Update(&Message{Kind: KindResult, ID: 1}, nil, nil, c)
	s.Update(&Message{Kind: KindEvent, ID: 1}, nil, nil, c)
	s.Update(&Message{Kind: KindDiagnostic, Text: "x"}, nil, nil, c)
	s.Update(nil, fmt.Errorf("wrap: %w", ErrCRCMismatch), nil, c)
	s.Update(nil, ErrMalformedLine, nil, c)
	s.Update(&Message{Kind: KindState, ID: 9}, nil, []ValidationError{{Type: AnomalyUnknownID}}, c)

	if s.TotalMessages != 6 || s.ValidMessages != 3 {
		t.Errorf("total/valid = %d/%d, want 6/3", s.TotalMessages, s.ValidMessages)
	}
	if s.CRCErrors != 1 || s.DecodeErrors != 1 || s.Anomalies != 1 {
		t.Errorf("crc/decode/anomalies = %d/%d/%d, want 1/1/1", s.CRCErrors, s.DecodeErrors, s.Anomalies)
	}
	if s.Warnings != 1 || s.Diagnostics != 1 || s.Results[1] != 1 {
		t.Errorf("warnings/diagnostics/results = %d/%d/%v", s.Warnings, s.Diagnostics, s.Results)
	}

	out := s.Format(c)
	if !strings.Contains(out, "chrimson_delivered") {
		t.Errorf("summary does not name results:\n%s", out)
	}

	s.Reset()
	if s.TotalMessages != 0 || len(s.Results) != 0 {
		t.Error("Reset did not clear counters")
	}
}

func TestFormatMessage(t *testing.T) {
	c := NewCatalog()
	for _, m := range bootStream() {
		c.Observe(m)
	}
	tests := []struct {
		msg  Message
		want string
	}{
		{Message{Kind: KindState, ID: 1, Time: 1500}, "-> idle"},
		{Message{Kind: KindResult, ID: 1, Time: 2}, "chrimson_delivered"},
		{Message{Kind: KindParam, ID: 0, Value: 40}, "chrimson_frequency = 40"},
		{Message{Kind: KindEvent, ID: 7}, "event(7)"},
	}
	for _, tt := range tests {
		if got := FormatMessage(tt.msg, c); !strings.Contains(got, tt.want) {
			t.Errorf("FormatMessage(%+v) = %q, want it to contain %q", tt.msg, got, tt.want)
		}
	}
	if got := FormatMillis(61005); got != "61.005s" {
		t.Errorf("FormatMillis(61005) = %q, want 61.005s", got)
	}
}
