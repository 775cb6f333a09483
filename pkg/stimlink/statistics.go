// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Statistics tracks report counts and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalMessages uint64
	ValidMessages uint64
	CRCErrors     uint64
	DecodeErrors  uint64
	Anomalies     uint64
	PerKind       [KindCount]uint64
	Diagnostics   uint64
	Warnings      uint64
	Results       map[int]uint64

	// Rates (calculated)
	MessageRate float64 // messages/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		Results:        map[int]uint64{},
	}
}

// Update updates statistics from one decoded message or decode failure.
// c is used to recognise warning events by name and may be nil.
func (s *Statistics) Update(m *Message, decodeErr error, anomalies []ValidationError, c *Catalog) {
	s.TotalMessages++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}
	if m == nil {
		return
	}

	if m.Kind.Valid() {
		s.PerKind[m.Kind]++
	}
	switch m.Kind {
	case KindDiagnostic:
		s.Diagnostics++
	case KindResult:
		s.Results[m.ID]++
	case KindEvent:
		if c != nil && strings.Contains(c.EventName(m.ID), "warning") {
			s.Warnings++
		}
	}

	if len(anomalies) > 0 {
		s.Anomalies += uint64(len(anomalies))
	} else {
		s.ValidMessages++
	}
}

// CalculateRates calculates message and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.MessageRate = float64(s.TotalMessages) / elapsed
		s.ErrorRate = float64(s.CRCErrors+s.DecodeErrors+s.Anomalies) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Format(nil)
}

// Format returns the statistics summary, naming results through c when given
func (s *Statistics) Format(c *Catalog) string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalMessages > 0 {
		validPercent = float64(s.ValidMessages) * 100.0 / float64(s.TotalMessages)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Messages:  %8d\n", s.TotalMessages)
	result += fmt.Sprintf("Valid Messages:  %8d (%.1f%%)\n", s.ValidMessages, validPercent)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}
	if s.Diagnostics > 0 {
		result += fmt.Sprintf("Diagnostics:     %8d\n", s.Diagnostics)
	}
	if s.Warnings > 0 {
		result += fmt.Sprintf("Warnings:        %8d\n", s.Warnings)
	}

	for k := Kind(0); k < KindCount; k++ {
		if s.PerKind[k] > 0 {
			result += fmt.Sprintf("  %-14s %5d\n", k.String()+":", s.PerKind[k])
		}
	}
	for _, id := range sortedKeys(s.Results) {
		name := fmt.Sprintf("result(%d)", id)
		if c != nil {
			name = c.ResultName(id)
		}
		result += fmt.Sprintf("  %-24s %5d\n", name+":", s.Results[id])
	}

	result += fmt.Sprintf("Message Rate:    %8.1f msgs/sec\n", s.MessageRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
