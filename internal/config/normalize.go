// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"strings"

	"github.com/Thermoquad/sertag/pkg/dsmser"
)

// Defaults applied by Normalize
const (
	DefaultFormat            = "text"
	DefaultStatusIntervalSec = 60
	DefaultLatencyChars      = 4
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	s := &cfg.Sertag
	s.Format = strings.ToLower(s.Format)
	if s.Format == "" {
		s.Format = DefaultFormat
	}
	if s.StatusIntervalSec == 0 {
		s.StatusIntervalSec = DefaultStatusIntervalSec
	}

	line := dsmser.DefaultLineMode()
	for i := range s.Ports {
		p := &s.Ports[i]

		// ---- line ----
		if p.Line.Baud == 0 {
			p.Line.Baud = line.Baud
		}
		if p.Line.DataBits == 0 {
			p.Line.DataBits = line.DataBits
		}
		if p.Line.StopBits == 0 {
			p.Line.StopBits = line.StopBits
		}
		p.Line.Parity = strings.ToLower(p.Line.Parity)
		if p.Line.Parity == "" {
			p.Line.Parity = "none"
		}

		// ---- record ----
		p.Record.Anchor = strings.ToLower(p.Record.Anchor)
		if p.Record.Anchor == "" {
			p.Record.Anchor = "eom"
		}

		// ---- timing ----
		if p.LatencyMs == 0 {
			p.LatencyMs = int(dsmser.DefaultReadLatency.Milliseconds())
		}
		if p.LatencyChars == 0 {
			p.LatencyChars = DefaultLatencyChars
		}
		if p.ClockResMs == 0 {
			p.ClockResMs = 1
		}
	}
}
