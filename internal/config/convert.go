// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/sertag/pkg/dsmser"
)

func msec(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func parseAnchor(s string) (dsmser.Anchor, error) {
	switch strings.ToLower(s) {
	case "", "eom":
		return dsmser.EndOfMessage, nil
	case "bom":
		return dsmser.BeginOfMessage, nil
	default:
		return 0, fmt.Errorf("anchor %q must be eom or bom", s)
	}
}

// ParseEscapes interprets Go string escapes such as \r, \n and \x02 in s.
// It lets separators and prompts be given on the command line.
func ParseEscapes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	out, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid escape in %q: %w", s, err)
	}
	return []byte(out), nil
}

// Separator returns the framing configuration of a normalized port.
func (p PortConfig) Separator() dsmser.SeparatorConfig {
	anchor, _ := parseAnchor(p.Record.Anchor)
	return dsmser.SeparatorConfig{
		Separator: []byte(p.Record.Separator),
		Anchor:    anchor,
		RecordLen: uint16(p.Record.Length),
		AddNull:   p.Record.AddNull,
	}
}

// LineMode returns the character format of a normalized port.
func (p PortConfig) LineMode() dsmser.LineMode {
	return dsmser.LineMode{
		Baud:     p.Line.Baud,
		DataBits: p.Line.DataBits,
		Parity:   p.Line.Parity != "none",
		StopBits: p.Line.StopBits,
	}
}

// ReadLatency returns the read latency of a normalized port.
func (p PortConfig) ReadLatency() time.Duration {
	return msec(p.LatencyMs)
}

// PromptSettings returns the port's prompt, if it has one.
func (p PortConfig) PromptSettings() (dsmser.Prompt, bool) {
	if p.Prompt == nil {
		return dsmser.Prompt{}, false
	}
	return dsmser.Prompt{Text: []byte(p.Prompt.Text), Rate: msec(p.Prompt.RateMs)}, true
}
