// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusCommandList = iota
	focusCommandLine
	focusCount
)

const monitorLogLines = 8

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// commandItem is one entry of the command table shown in the list
type commandItem struct {
	info stimlink.CommandInfo
}

// Implement list.Item interface
func (c commandItem) Title() string       { return c.info.Usage }
func (c commandItem) Description() string { return c.info.Description }
func (c commandItem) FilterValue() string { return c.info.Name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Controller view
	catalog   *stimlink.Catalog
	validator *stimlink.Validator
	lastTime  uint32
	hasTime   bool

	// Monitoring
	stats         *stimlink.Statistics
	eventLog      []logEntry
	maxLogEntries int

	// Control
	commandList  list.Model
	commandLine  textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	synchronized   bool
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorDataMsg struct {
	message   *stimlink.Message
	decodeErr error
}

type monitorBatchMsg struct {
	messages []monitorDataMsg
	sync     *syncMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "P 3 40"
	ti.CharLimit = stimlink.MaxLineSize
	ti.Width = 24

	items := make([]list.Item, 0, len(stimlink.Commands))
	for _, info := range stimlink.Commands {
		items = append(items, commandItem{info: info})
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	commandList := list.New(items, delegate, 34, 14)
	commandList.Title = "Commands"
	commandList.SetShowStatusBar(false)
	commandList.SetShowHelp(false)
	commandList.SetFilteringEnabled(false)

	catalog := stimlink.NewCatalog()
	return monitorModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		catalog:       catalog,
		validator:     stimlink.NewValidator(catalog),
		stats:         stimlink.NewStatistics(),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		commandList:   commandList,
		commandLine:   ti,
		focusedField:  focusCommandList,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.commandList, cmd = m.commandList.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case monitorBatchMsg:
		if msg.sync != nil {
			m.synchronized = true
			if msg.sync.skipped > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d undecodable reports", msg.sync.skipped), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}
		for _, data := range msg.messages {
			m.processReport(data)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.synchronized = false
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusCommandList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	// Pass through to focused component
	var cmd tea.Cmd
	switch m.focusedField {
	case focusCommandList:
		m.commandList, cmd = m.commandList.Update(msg)
	case focusCommandLine:
		m.commandLine, cmd = m.commandLine.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) cycleFocus(delta int) {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusCommandLine {
		m.commandLine.Focus()
	} else {
		m.commandLine.Blur()
	}
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.focusedField {
	case focusCommandList:
		item, ok := m.commandList.SelectedItem().(commandItem)
		if !ok {
			return m, nil
		}
		if item.info.Args > 0 {
			// Prefill the command line and let the user supply arguments
			m.commandLine.SetValue(string(rune(item.info.Code)) + " ")
			m.commandLine.CursorEnd()
			m.focusedField = focusCommandLine
			m.commandLine.Focus()
			return m, nil
		}
		cmd, err := stimlink.NewCommand(item.info.Code)
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		m.send(cmd)

	case focusCommandLine:
		line := strings.TrimSpace(m.commandLine.Value())
		if line == "" {
			return m, nil
		}
		cmd, err := parseCommandLine(line)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid command %q: %v", line, err), true)
			return m, nil
		}
		if m.send(cmd) {
			m.commandLine.SetValue("")
		}
	}
	return m, nil
}

// send transmits cmd, logging the outcome
func (m *monitorModel) send(cmd stimlink.Command) bool {
	// Don't send commands while connection is lost
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return false
	}
	if err := m.connMgr.send(cmd); err != nil {
		m.addLogEntry(err.Error(), true)
		return false
	}
	m.addLogEntry(fmt.Sprintf("Sent %s (%s)", cmd, cmd.Code), false)
	return true
}

func (m *monitorModel) updateListSize() {
	height := m.height - monitorLogLines - 12
	if height < 6 {
		height = 6
	}
	m.commandList.SetSize(34, height)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processReport(data monitorDataMsg) {
	if data.decodeErr != nil {
		if m.synchronized {
			m.stats.Update(nil, data.decodeErr, nil, m.catalog)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", data.decodeErr), true)
		}
		return
	}
	if data.message == nil {
		return
	}

	r := *data.message
	anomalies := m.validator.Validate(r)
	m.catalog.Observe(r)
	m.stats.Update(&r, nil, anomalies, m.catalog)

	for _, a := range anomalies {
		m.addLogEntry(fmt.Sprintf("%s: %s", r.Kind, a.Message), true)
	}

	switch r.Kind {
	case stimlink.KindOnline:
		m.hasTime = false
		m.addLogEntry(fmt.Sprintf("Device %q online", r.Text), false)
	case stimlink.KindState:
		m.setTime(r.Time)
		m.addLogEntry("State "+m.catalog.StateName(r.ID), false)
	case stimlink.KindEvent:
		m.setTime(r.Time)
		name := m.catalog.EventName(r.ID)
		m.addLogEntry("Event "+name, strings.Contains(name, "warning"))
	case stimlink.KindResult:
		m.setTime(r.Time)
		m.addLogEntry("Result "+m.catalog.ResultName(r.ID), false)
	case stimlink.KindAck:
		m.setTime(r.Time)
	case stimlink.KindParam:
		m.addLogEntry(fmt.Sprintf("%s = %g", m.catalog.ParamName(r.ID), r.Value), false)
	case stimlink.KindDiagnostic:
		m.addLogEntry(r.Text, false)
	}
}

func (m *monitorModel) setTime(t uint32) {
	m.lastTime = t
	m.hasTime = true
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	focusedBoxStyle := boxStyle.BorderForeground(lipgloss.Color("12"))

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("OPTOSTIM MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Tab=switch Enter=send q=quit", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (commands) | right panel (controller)
	leftWidth := 36
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusCommandList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	commandPanel := listStyle.Render(m.commandList.View())
	controllerPanel := boxStyle.Width(rightWidth).Render(m.renderController())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, commandPanel, " ", controllerPanel))
	s.WriteString("\n")

	// Command line
	lineStyle := boxStyle.Width(m.width - 4)
	if m.focusedField == focusCommandLine {
		lineStyle = focusedBoxStyle.Width(m.width - 4)
	}
	s.WriteString(lineStyle.Render(statsLabelStyle.Render("Command: ") + m.commandLine.View()))
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.renderStatisticsBar()))
	s.WriteString("\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(renderLog(m.eventLog, monitorLogLines)))

	return s.String()
}

func (m monitorModel) renderController() string {
	var b strings.Builder

	device := m.catalog.Device
	if device == "" {
		device = "(not enumerated)"
	}
	b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Device:"), statsValueStyle.Render(device)))

	state := headerStyle.Render("(unknown)")
	if m.catalog.HasState {
		state = statsValueStyle.Render(m.catalog.StateName(m.catalog.State))
		if def, ok := m.catalog.States[m.catalog.State]; ok && def.Updatable {
			state += headerStyle.Render(" (accepts parameter writes)")
		}
	}
	b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("State:"), state))

	if m.catalog.HasResult {
		b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Last result:"),
			statsValueStyle.Render(m.catalog.ResultName(m.catalog.LastResult))))
	}
	if m.hasTime {
		b.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Time:"),
			statsValueStyle.Render(stimlink.FormatMillis(m.lastTime))))
	}

	ids := m.catalog.ParamIDs()
	if len(ids) == 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("No parameters known yet"))
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(statsLabelStyle.Render("PARAMETERS"))
	b.WriteString("\n")
	for _, id := range ids {
		p := m.catalog.Params[id]
		value := fmt.Sprintf("%g", p.Value)
		if p.Value != p.Default {
			value = warningStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%2d %-24s %s\n", id, p.Name, value))
	}
	return b.String()
}

func (m monitorModel) renderStatisticsBar() string {
	m.stats.CalculateRates()
	totalErrors := m.stats.CRCErrors + m.stats.DecodeErrors + m.stats.Anomalies
	var validPercent, errorPercent float64
	if m.stats.TotalMessages > 0 {
		validPercent = float64(m.stats.ValidMessages) * 100.0 / float64(m.stats.TotalMessages)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalMessages)
	}

	errors := statsValueStyle.Render("0.0%")
	if errorPercent > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}
	return fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalMessages)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), errors,
		statsLabelStyle.Render("Warnings:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.Warnings)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", m.stats.MessageRate)),
	)
}
