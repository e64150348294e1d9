// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/sertag/pkg/dsmser"
	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel(t *testing.T, dev *syncBuffer) model {
	t.Helper()
	cfg := dsmser.PortConfig{Name: "mon", LineMode: line9600}
	if dev != nil {
		cfg.Device = dev
	}
	port, err := dsmser.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { port.Close() })
	return initialModel("Serial: /dev/null", port, true)
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("Update returned %T, want model", next)
	}
	return nm
}

func hasEvent(m model, text string) bool {
	for _, e := range m.eventLog {
		if strings.Contains(e.message, text) {
			return true
		}
	}
	return false
}

// ============================================================
// Monitor Model
// ============================================================

func TestModel_RecordsTable(t *testing.T) {
	m := newTestModel(t, nil)

	m = update(t, m, recordMsg{sample: dsmser.Sample{Timetag: 1000, Data: []byte("T=21.5\r\n")}})
	rows := m.records.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0][0] != "00:00:01.000" || rows[0][1] != "8" || rows[0][2] != `T=21.5\r\n` {
		t.Errorf("row = %q", rows[0])
	}

	// Hidden records are not collected
	m = update(t, m, runeKey("a"))
	m = update(t, m, recordMsg{sample: dsmser.Sample{Data: []byte("x")}})
	if len(m.records.Rows()) != 1 {
		t.Errorf("rows with records hidden = %d, want 1", len(m.records.Rows()))
	}
}

func TestModel_RecordsTableBounded(t *testing.T) {
	m := newTestModel(t, nil)
	for i := 0; i < m.maxRecords+10; i++ {
		m = update(t, m, recordMsg{sample: dsmser.Sample{Data: []byte("r")}})
	}
	if len(m.records.Rows()) != m.maxRecords {
		t.Errorf("rows = %d, want %d", len(m.records.Rows()), m.maxRecords)
	}
}

func TestModel_TickLogsLosses(t *testing.T) {
	m := newTestModel(t, nil)

	m.port.ReportLineStatus(dsmser.ParityError | dsmser.FramingError)
	m = update(t, m, tickMsg(time.Now()))

	if !hasEvent(m, "2 line errors") {
		t.Errorf("events = %+v, want line error event", m.eventLog)
	}
	if m.status.ParityErrors != 1 || m.status.FramingErrors != 1 {
		t.Errorf("status = %+v", m.status)
	}

	// Unchanged counters log nothing new
	n := len(m.eventLog)
	m = update(t, m, tickMsg(time.Now()))
	if len(m.eventLog) != n {
		t.Errorf("events grew without new errors: %+v", m.eventLog[n:])
	}
}

func TestModel_SendInput(t *testing.T) {
	var dev syncBuffer
	m := newTestModel(t, &dev)

	m = update(t, m, runeKey("i"))
	if !m.sendInput.Focused() {
		t.Fatal("send input not focused after i")
	}
	for _, k := range []string{"?", `\`, "r"} {
		m = update(t, m, runeKey(k))
	}
	// Keys go to the input while it is focused
	m = update(t, m, runeKey("q"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.sendInput.Value() != "" {
		t.Errorf("input not cleared: %q", m.sendInput.Value())
	}
	waitUntil(t, "transmit", func() bool { return dev.String() == "?\r" })
	if !hasEvent(m, "Sent") {
		t.Errorf("events = %+v, want send event", m.eventLog)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.sendInput.Focused() {
		t.Error("send input still focused after esc")
	}
}

func TestModel_TogglePrompter(t *testing.T) {
	var dev syncBuffer
	m := newTestModel(t, &dev)

	// No prompt configured yet
	m = update(t, m, runeKey("p"))
	if m.port.Prompting() || !hasEvent(m, "Prompter") {
		t.Errorf("prompter started without a prompt, events %+v", m.eventLog)
	}

	if err := m.port.SetPrompt(dsmser.Prompt{Text: []byte("P\r"), Rate: 5 * time.Millisecond}); err != nil {
		t.Fatalf("SetPrompt failed: %v", err)
	}
	m = update(t, m, runeKey("p"))
	if !m.port.Prompting() {
		t.Fatal("prompter not running after p")
	}
	waitUntil(t, "prompts", func() bool { return strings.Count(dev.String(), "P\r") >= 2 })

	m = update(t, m, runeKey("p"))
	if m.port.Prompting() {
		t.Error("prompter still running after second p")
	}
}

func TestModel_ViewAndQuit(t *testing.T) {
	m := newTestModel(t, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, closedMsg{})

	view := m.View()
	for _, want := range []string{"SERTAG - MONITOR", "Serial: /dev/null", "Connection closed", "Recent Records:"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	next, cmd := m.Update(runeKey("q"))
	if cmd == nil || !next.(model).quitting {
		t.Error("q did not quit")
	}
}
