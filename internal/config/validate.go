// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/sertag/pkg/dsmser"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Zero values are accepted where Normalize supplies a default.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("empty configuration")
	}
	s := cfg.Sertag

	switch strings.ToLower(s.Format) {
	case "", "text", "hex", "cbor":
	default:
		return fmt.Errorf("format %q: must be text, hex or cbor", s.Format)
	}
	if s.StatusIntervalSec < 0 {
		return fmt.Errorf("status_interval_s must not be negative")
	}
	if len(s.Ports) == 0 {
		return fmt.Errorf("no ports configured")
	}

	names := make(map[string]bool)
	devices := make(map[string]string)

	for i, p := range s.Ports {
		// ------------------------------------------------------------
		// IDENTITY AND SOURCE
		// ------------------------------------------------------------

		if p.Name == "" {
			return fmt.Errorf("port %d: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("port %q: duplicate name", p.Name)
		}
		names[p.Name] = true

		if (p.Device == "") == (p.URL == "") {
			return fmt.Errorf("port %q: exactly one of device or url is required", p.Name)
		}
		if p.Device != "" {
			if prev, exists := devices[p.Device]; exists {
				return fmt.Errorf("device %s used by ports %q and %q", p.Device, prev, p.Name)
			}
			devices[p.Device] = p.Name
		}
		if p.Auth != nil && p.URL == "" {
			return fmt.Errorf("port %q: auth is only valid with url", p.Name)
		}

		// ------------------------------------------------------------
		// LINE MODE
		// ------------------------------------------------------------

		if p.Line.Baud < 0 {
			return fmt.Errorf("port %q: baud must not be negative", p.Name)
		}
		if p.Line.DataBits != 0 && (p.Line.DataBits < 5 || p.Line.DataBits > 8) {
			return fmt.Errorf("port %q: data_bits %d not in 5..8", p.Name, p.Line.DataBits)
		}
		if p.Line.StopBits != 0 && p.Line.StopBits != 1 && p.Line.StopBits != 2 {
			return fmt.Errorf("port %q: stop_bits %d must be 1 or 2", p.Name, p.Line.StopBits)
		}
		switch strings.ToLower(p.Line.Parity) {
		case "", "none", "even", "odd":
		default:
			return fmt.Errorf("port %q: parity %q must be none, even or odd", p.Name, p.Line.Parity)
		}

		// ------------------------------------------------------------
		// RECORD FRAMING
		// ------------------------------------------------------------

		anchor, err := parseAnchor(p.Record.Anchor)
		if err != nil {
			return fmt.Errorf("port %q: %w", p.Name, err)
		}
		if p.Record.Length < 0 || p.Record.Length > dsmser.MaxRecordSize {
			return fmt.Errorf("port %q: record length %d out of range", p.Name, p.Record.Length)
		}
		sep := dsmser.SeparatorConfig{
			Separator: []byte(p.Record.Separator),
			Anchor:    anchor,
			RecordLen: uint16(p.Record.Length),
			AddNull:   p.Record.AddNull,
		}
		if err := sep.Validate(); err != nil {
			return fmt.Errorf("port %q: %w", p.Name, err)
		}

		// ------------------------------------------------------------
		// TIMING AND PROMPT
		// ------------------------------------------------------------

		if p.LatencyMs < 0 || p.LatencyChars < 0 || p.ClockResMs < 0 {
			return fmt.Errorf("port %q: latency and clock settings must not be negative", p.Name)
		}
		if p.Prompt != nil {
			pr := dsmser.Prompt{Text: []byte(p.Prompt.Text), Rate: msec(p.Prompt.RateMs)}
			if err := pr.Validate(); err != nil {
				return fmt.Errorf("port %q: prompt: %w", p.Name, err)
			}
		}
	}

	return nil
}
