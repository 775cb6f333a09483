// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// TUI model for the validate command
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	catalog       *stimlink.Catalog
	validator     *stimlink.Validator
	stats         *stimlink.Statistics
	eventLog      []logEntry
	maxLogEntries int
	synchronized  bool
	skipped       int
	lastTime      uint32
	hasTime       bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type reportMsg struct {
	message   *stimlink.Message
	decodeErr error
}
type syncMsg struct {
	skipped int
}

// formatUptime formats a duration in milliseconds to a human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		unit string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
	} {
		if u.n == 1 {
			parts = append(parts, "1 "+u.unit)
		} else if u.n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.unit))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	catalog := stimlink.NewCatalog()
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		catalog:       catalog,
		validator:     stimlink.NewValidator(catalog),
		stats:         stimlink.NewStatistics(),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.skipped = msg.skipped
		if msg.skipped > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d undecodable reports", msg.skipped), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case reportMsg:
		m.handleReport(msg)
	}

	return m, nil
}

func (m *model) handleReport(msg reportMsg) {
	if msg.decodeErr != nil {
		if m.synchronized {
			m.stats.Update(nil, msg.decodeErr, nil, m.catalog)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		}
		return
	}
	if msg.message == nil {
		return
	}

	r := *msg.message
	anomalies := m.validator.Validate(r)
	m.catalog.Observe(r)
	m.stats.Update(&r, nil, anomalies, m.catalog)

	switch r.Kind {
	case stimlink.KindOnline:
		m.hasTime = false
		m.addLogEntry(fmt.Sprintf("Device %q online", r.Text), false)
	case stimlink.KindState, stimlink.KindEvent, stimlink.KindResult, stimlink.KindAck:
		m.lastTime = r.Time
		m.hasTime = true
	}

	for _, a := range anomalies {
		m.addLogEntry(fmt.Sprintf("%s: %s", r.Kind, a.Message), true)
	}
	if len(anomalies) > 0 {
		return
	}
	switch {
	case r.Kind == stimlink.KindDiagnostic:
		m.addLogEntry("diagnostic: "+r.Text, false)
	case r.Kind == stimlink.KindEvent && strings.Contains(m.catalog.EventName(r.ID), "warning"):
		m.addLogEntry("warning: "+m.catalog.EventName(r.ID), true)
	case m.showAll:
		m.addLogEntry(stimlink.FormatMessage(r, m.catalog), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// Styles shared by the validate and monitor views
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("OPTOSTIM - REPORT VALIDATION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All reports"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats, 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	if !m.synchronized {
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d undecodable reports)", m.skipped)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(renderStats(m.stats)))
	s.WriteString("\n\n")

	// Live view (only shown once the device has announced itself)
	if m.catalog.Enumerated() || m.catalog.HasState {
		s.WriteString(statsLabelStyle.Render("Controller:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderLive()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(renderLog(m.eventLog, logHeight)))

	return s.String()
}

func (m model) renderLive() string {
	var b strings.Builder
	device := m.catalog.Device
	if device == "" {
		device = "(unknown)"
	}
	state := "(unknown)"
	if m.catalog.HasState {
		state = m.catalog.StateName(m.catalog.State)
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("Device:"), statsValueStyle.Render(device),
		statsLabelStyle.Render("State:"), statsValueStyle.Render(state),
	))
	if m.catalog.HasResult {
		b.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Last result:"), statsValueStyle.Render(m.catalog.ResultName(m.catalog.LastResult)),
		))
	}
	if m.hasTime {
		b.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Experiment time:"), statsValueStyle.Render(formatUptime(uint64(m.lastTime))),
		))
	}
	b.WriteString(fmt.Sprintf("%s %d states, %d events, %d results, %d parameters",
		statsLabelStyle.Render("Enumerated:"),
		len(m.catalog.States), len(m.catalog.Events), len(m.catalog.Results), len(m.catalog.Params),
	))
	return b.String()
}

// renderStats renders the statistics box content
func renderStats(stats *stimlink.Statistics) string {
	stats.CalculateRates()
	totalErrors := stats.CRCErrors + stats.DecodeErrors + stats.Anomalies
	var validPercent, errorPercent float64
	if stats.TotalMessages > 0 {
		validPercent = float64(stats.ValidMessages) * 100.0 / float64(stats.TotalMessages)
		errorPercent = float64(totalErrors) * 100.0 / float64(stats.TotalMessages)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.TotalMessages)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidMessages, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if stats.CRCErrors > 0 || stats.DecodeErrors > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", stats.CRCErrors)),
			statsLabelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", stats.DecodeErrors)),
		))
	}
	if stats.Anomalies > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", stats.Anomalies)),
		))
	}
	if stats.Diagnostics > 0 || stats.Warnings > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Diagnostics:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.Diagnostics)),
			statsLabelStyle.Render("Warnings:"), warningStyle.Render(fmt.Sprintf("%d", stats.Warnings)),
		))
	}

	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	if stats.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Message Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", stats.MessageRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
	))
	return b.String()
}

// renderLog renders the last height entries of entries
func renderLog(entries []logEntry, height int) string {
	if len(entries) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	startIdx := len(entries) - height
	if startIdx < 0 {
		startIdx = 0
	}

	var b strings.Builder
	for _, entry := range entries[startIdx:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return b.String()
}
