// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"fmt"
	"strconv"
)

// FormatMessage formats a message into a human-readable line. c may be nil, in
// which case IDs are shown without names.
func FormatMessage(m Message, c *Catalog) string {
	if c == nil {
		c = NewCatalog()
	}

	prefix := ""
	if !m.Received.IsZero() {
		prefix = "[" + m.Received.Format("15:04:05.000") + "] "
	}
	head := fmt.Sprintf("%s%-10s", prefix, m.Kind)

	switch m.Kind {
	case KindOnline:
		return fmt.Sprintf("%s device %q online", head, m.Text)
	case KindStateDef:
		updates := "locked"
		if m.Flag {
			updates = "updatable"
		}
		return fmt.Sprintf("%s %2d %-18s %s", head, m.ID, m.Text, updates)
	case KindEventDef, KindResultDef:
		return fmt.Sprintf("%s %2d %s", head, m.ID, m.Text)
	case KindParamDef:
		return fmt.Sprintf("%s %2d %-24s default=%s", head, m.ID, m.Text, formatValue(m.Value))
	case KindState:
		return fmt.Sprintf("%s t=%-10s -> %s", head, FormatMillis(m.Time), c.StateName(m.ID))
	case KindEvent:
		return fmt.Sprintf("%s t=%-10s %s", head, FormatMillis(m.Time), c.EventName(m.ID))
	case KindResult:
		return fmt.Sprintf("%s t=%-10s %s", head, FormatMillis(m.Time), c.ResultName(m.ID))
	case KindParam:
		return fmt.Sprintf("%s %s = %s", head, c.ParamName(m.ID), formatValue(m.Value))
	case KindDiagnostic:
		return fmt.Sprintf("%s %s", head, m.Text)
	case KindAck:
		return fmt.Sprintf("%s t=%-10s channel %d", head, FormatMillis(m.Time), m.ID)
	default:
		return fmt.Sprintf("%s id=%d value=%v time=%d", head, m.ID, m.Value, m.Time)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// FormatMillis renders a millisecond timestamp as seconds with three decimals
func FormatMillis(ms uint32) string {
	return fmt.Sprintf("%d.%03ds", ms/1000, ms%1000)
}
