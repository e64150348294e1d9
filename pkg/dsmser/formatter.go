// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"fmt"
	"strings"
)

// FormatTimetag formats a time of day as HH:MM:SS.mmm
func FormatTimetag(t Millis) string {
	ms := uint32(t) % MillisPerDay
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// FormatSample formats a sample as one line of text, escaping control
// characters.
func FormatSample(s Sample) string {
	return fmt.Sprintf("[%s] len=%d %s\n", FormatTimetag(s.Timetag), len(s.Data), Escape(s.Data))
}

// FormatSampleHex formats a sample header followed by a hex dump of its
// data, 16 bytes per line.
func FormatSampleHex(s Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] len=%d\n", FormatTimetag(s.Timetag), len(s.Data))
	for off := 0; off < len(s.Data); off += 16 {
		end := min(off+16, len(s.Data))
		fmt.Fprintf(&b, "  %04X ", off)
		for i := off; i < off+16; i++ {
			if i < end {
				fmt.Fprintf(&b, " %02X", s.Data[i])
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteString("  ")
		for _, c := range s.Data[off:end] {
			if c >= 0x20 && c < 0x7F {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Escape renders data printable. Common control characters use their C
// escapes, others \xNN.
func Escape(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		switch {
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		case c == 0:
			b.WriteString(`\0`)
		case c == '\\':
			b.WriteString(`\\`)
		case c >= 0x20 && c < 0x7F:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02X`, c)
		}
	}
	return b.String()
}
