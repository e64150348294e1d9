// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sertag/internal/config"
	"github.com/Thermoquad/sertag/pkg/dsmser"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for losses and errors, false for notices
}

// TUI model
type model struct {
	connInfo string
	port     *dsmser.Port
	showAll  bool
	started  time.Time

	status     dsmser.Status // latest snapshot
	prevStatus dsmser.Status // snapshot of the previous tick
	recordRate float64
	byteRate   float64
	lastTick   time.Time

	records    table.Model
	maxRecords int

	eventLog      []eventLogEntry
	maxLogEntries int

	sendInput textinput.Model

	closed   bool
	width    int
	height   int
	quitting bool
}

// Messages
type tickMsg time.Time
type recordMsg struct {
	sample dsmser.Sample
}
type closedMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// formatUptime formats a duration to a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
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

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialModel(connInfo string, port *dsmser.Port, showAll bool) model {
	columns := []table.Column{
		{Title: "Time", Width: 12},
		{Title: "Len", Width: 5},
		{Title: "Data", Width: 54},
	}
	records := table.New(
		table.WithColumns(columns),
		table.WithHeight(10),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()
	records.SetStyles(styles)

	ti := textinput.New()
	ti.Placeholder = `text to send, e.g. ?\r`
	ti.CharLimit = 256
	ti.Width = 40

	now := time.Now()
	return model{
		connInfo:      connInfo,
		port:          port,
		showAll:       showAll,
		started:       now,
		lastTick:      now,
		records:       records,
		maxRecords:    100,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		sendInput:     ti,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

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
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeRecords()

	case tickMsg:
		m.updateStatus(time.Time(msg))
		return m, tickCmd()

	case recordMsg:
		m.addRecord(msg.sample)

	case closedMsg:
		m.closed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Read error: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}
	}

	return m, nil
}

func (m model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.sendInput.Focused() {
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.sendInput.Blur()
			return m, nil
		case "enter":
			m.send(m.sendInput.Value())
			m.sendInput.SetValue("")
			return m, nil
		}
		var cmd tea.Cmd
		m.sendInput, cmd = m.sendInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "i", "tab":
		cmd := m.sendInput.Focus()
		return m, cmd

	case "p":
		m.togglePrompter()

	case "a":
		m.showAll = !m.showAll
	}

	return m, nil
}

//////////////////////////////////////////////////////////////
// State Updates
//////////////////////////////////////////////////////////////

// updateStatus takes a status snapshot, computes rates and logs new losses
func (m *model) updateStatus(now time.Time) {
	m.prevStatus = m.status
	m.status = m.port.Status()

	elapsed := now.Sub(m.lastTick).Seconds()
	m.lastTick = now
	if elapsed > 0 {
		m.recordRate = float64(m.status.RecordsDelivered-m.prevStatus.RecordsDelivered) / elapsed
		m.byteRate = float64(m.status.BytesDelivered-m.prevStatus.BytesDelivered) / elapsed
	}

	prev, cur := m.prevStatus, m.status
	if d := cur.Errors() - prev.Errors(); d > 0 {
		m.addLogEntry(fmt.Sprintf("%d line errors (parity %d, overrun %d, framing %d)", d,
			cur.ParityErrors-prev.ParityErrors, cur.OverrunErrors-prev.OverrunErrors, cur.FramingErrors-prev.FramingErrors), true)
	}
	if d := cur.InputBytesLost - prev.InputBytesLost; d > 0 {
		m.addLogEntry(fmt.Sprintf("Input lost: %d bytes", d), true)
	}
	if d := cur.OutputBytesLost - prev.OutputBytesLost; d > 0 {
		m.addLogEntry(fmt.Sprintf("Output lost: %d bytes", d), true)
	}
	if d := cur.XmitBytesLost - prev.XmitBytesLost; d > 0 {
		m.addLogEntry(fmt.Sprintf("Transmit lost: %d bytes", d), true)
	}
	if d := cur.RecordOverflows - prev.RecordOverflows; d > 0 {
		m.addLogEntry(fmt.Sprintf("%d records forced at %d bytes", d, dsmser.MaxRecordSize), false)
	}
	if d := cur.ScanOverflows - prev.ScanOverflows; d > 0 {
		m.addLogEntry(fmt.Sprintf("%d scans truncated", d), false)
	}
}

// addRecord appends a record to the recent records table
func (m *model) addRecord(s dsmser.Sample) {
	if !m.showAll {
		return
	}
	rows := append(m.records.Rows(), table.Row{
		dsmser.FormatTimetag(s.Timetag),
		fmt.Sprintf("%d", len(s.Data)),
		truncate(dsmser.Escape(s.Data), m.dataWidth()),
	})
	if len(rows) > m.maxRecords {
		rows = rows[len(rows)-m.maxRecords:]
	}
	m.records.SetRows(rows)
	m.records.GotoBottom()
}

// send queues text, with Go escapes, for transmission to the instrument
func (m *model) send(text string) {
	if text == "" {
		return
	}
	b, err := config.ParseEscapes(text)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Send: %v", err), true)
		return
	}
	n, err := m.port.Write(b)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Send: %v", err), true)
		return
	}
	if n < len(b) {
		m.addLogEntry(fmt.Sprintf("Sent %d of %d bytes", n, len(b)), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Sent %q", b), false)
}

// togglePrompter starts or stops the prompter
func (m *model) togglePrompter() {
	if m.port.Prompting() {
		m.port.StopPrompter()
		m.addLogEntry("Prompter stopped", false)
		return
	}
	if err := m.port.StartPrompter(); err != nil {
		m.addLogEntry(fmt.Sprintf("Prompter: %v", err), true)
		return
	}
	pr := m.port.Prompt()
	m.addLogEntry(fmt.Sprintf("Prompting %q every %v", pr.Text, pr.Rate), false)
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
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

func (m *model) dataWidth() int {
	w := m.width - 12 - 5 - 12
	if w < 16 {
		w = 16
	}
	return w
}

func (m *model) resizeRecords() {
	m.records.SetColumns([]table.Column{
		{Title: "Time", Width: 12},
		{Title: "Len", Width: 5},
		{Title: "Data", Width: m.dataWidth()},
	})
	h := (m.height - 20) / 2
	if h < 5 {
		h = 5
	}
	m.records.SetHeight(h)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	counter := func(n uint64) string {
		if n > 0 {
			return errorStyle.Render(fmt.Sprintf("%d", n))
		}
		return statsValueStyle.Render("0")
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("SERTAG - MONITOR"))
	s.WriteString("\n")
	mode := "Loss events only"
	if m.showAll {
		mode = "All records"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Mode: %s",
		m.connInfo, m.port.RecordSeparator(), mode)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("q quit | a toggle records | i send | p toggle prompter"))
	s.WriteString("\n\n")

	// Connection state
	if m.closed {
		s.WriteString(errorStyle.Render("✗ Connection closed"))
	} else {
		s.WriteString(statsValueStyle.Render("✓ Receiving"))
		s.WriteString(headerStyle.Render(" for " + formatUptime(time.Since(m.started))))
	}
	if m.port.Prompting() {
		s.WriteString(headerStyle.Render(fmt.Sprintf(" | prompting %q", m.port.Prompt().Text)))
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.status
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Records:"), statsValueStyle.Render(fmt.Sprintf("%d", st.RecordsDelivered)),
		statsLabelStyle.Render("Bytes:"), statsValueStyle.Render(fmt.Sprintf("%d", st.BytesDelivered)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f rec/s, %.0f B/s", m.recordRate, m.byteRate)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Line Errors:"), counter(st.Errors()),
		statsLabelStyle.Render("Input Lost:"), counter(st.InputBytesLost),
		statsLabelStyle.Render("Output Lost:"), counter(st.OutputBytesLost),
		statsLabelStyle.Render("Xmit Lost:"), counter(st.XmitBytesLost),
	))
	if st.RecordOverflows > 0 || st.ScanOverflows > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Record Overflows:"), warningStyle.Render(fmt.Sprintf("%d", st.RecordOverflows)),
			statsLabelStyle.Render("Scan Overflows:"), warningStyle.Render(fmt.Sprintf("%d", st.ScanOverflows)),
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("FIFO:"), statsValueStyle.Render(fmt.Sprintf("%d-%d chars", st.MinFifoUsage, st.MaxFifoUsage)),
		statsLabelStyle.Render("Queue Avail:"), statsValueStyle.Render(fmt.Sprintf("raw %d, out %d, xmit %d",
			st.RawQueueAvail, st.OutputQueueAvail, st.XmitQueueAvail)),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Recent records
	if m.showAll {
		s.WriteString(statsLabelStyle.Render("Recent Records:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.records.View()))
		s.WriteString("\n\n")
	}

	// Send input
	if m.sendInput.Focused() {
		s.WriteString(statsLabelStyle.Render("Send: "))
		s.WriteString(m.sendInput.View())
		s.WriteString(headerStyle.Render("  (enter send, esc cancel)"))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 // Reserve space for header and stats
	if m.showAll {
		logHeight -= m.records.Height() + 4
	}
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
