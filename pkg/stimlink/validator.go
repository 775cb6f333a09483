// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import "fmt"

// AnomalyType represents different types of report anomalies
type AnomalyType int

const (
	AnomalyUnknownKind AnomalyType = iota
	AnomalyUnknownID
	AnomalyTimeReversal
	AnomalyNullResult
	AnomalyEmptyText
	AnomalyLateDefinition
)

// ValidationError represents a report validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Validator checks a report stream against the device's own enumerations.
// It is stateful: timestamps are compared with the previous runtime message.
type Validator struct {
	catalog  *Catalog
	lastTime uint32
	hasTime  bool
	runtime  bool
}

// NewValidator creates a validator reading names from c. c should be fed the
// same stream, after each Validate call.
func NewValidator(c *Catalog) *Validator {
	return &Validator{catalog: c}
}

// Validate returns the anomalies found in m (empty if m is valid)
func (v *Validator) Validate(m Message) []ValidationError {
	errors := []ValidationError{}

	if !m.Kind.Valid() {
		return []ValidationError{{
			Type:    AnomalyUnknownKind,
			Message: fmt.Sprintf("Unknown message kind %d", uint8(m.Kind)),
			Details: map[string]interface{}{"kind": uint8(m.Kind)},
		}}
	}

	switch {
	case m.Kind == KindOnline:
		v.hasTime = false
		v.runtime = false
		return errors
	case m.Kind.IsDefinition():
		if v.runtime {
			errors = append(errors, ValidationError{
				Type:    AnomalyLateDefinition,
				Message: fmt.Sprintf("%s id=%d after runtime traffic without an online marker", m.Kind, m.ID),
				Details: map[string]interface{}{"kind": m.Kind.String(), "id": m.ID},
			})
		}
	default:
		v.runtime = true
	}

	if v.catalog != nil && v.catalog.Enumerated() {
		if known, table := v.knownID(m); !known {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnknownID,
				Message: fmt.Sprintf("%s references unknown %s id=%d", m.Kind, table, m.ID),
				Details: map[string]interface{}{"kind": m.Kind.String(), "id": m.ID},
			})
		}
	}

	if m.Kind.fields()&fieldTime != 0 {
		// A zero timestamp marks a new experiment epoch
		if v.hasTime && m.Time < v.lastTime && m.Time != 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyTimeReversal,
				Message: fmt.Sprintf("%s time went backwards (%d < %d)", m.Kind, m.Time, v.lastTime),
				Details: map[string]interface{}{"time": m.Time, "previous": v.lastTime},
			})
		}
		v.lastTime = m.Time
		v.hasTime = true
	}

	if m.Kind == KindResult && m.ID == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyNullResult,
			Message: "Result message carries the null result code",
			Details: map[string]interface{}{"id": m.ID},
		})
	}

	if m.Kind == KindDiagnostic && m.Text == "" {
		errors = append(errors, ValidationError{
			Type:    AnomalyEmptyText,
			Message: "Empty diagnostic",
		})
	}

	return errors
}

func (v *Validator) knownID(m Message) (bool, string) {
	var ok bool
	switch m.Kind {
	case KindState:
		_, ok = v.catalog.States[m.ID]
		return ok, "state"
	case KindEvent:
		_, ok = v.catalog.Events[m.ID]
		return ok, "event"
	case KindResult:
		_, ok = v.catalog.Results[m.ID]
		return ok, "result"
	case KindParam:
		_, ok = v.catalog.Params[m.ID]
		return ok, "param"
	}
	return true, ""
}
