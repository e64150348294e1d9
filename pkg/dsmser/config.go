// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Anchor selects where the separator sits in a record.
type Anchor uint8

const (
	// EndOfMessage: the separator terminates the record it belongs to.
	EndOfMessage Anchor = iota
	// BeginOfMessage: the separator starts a new record.
	BeginOfMessage
)

func (a Anchor) String() string {
	switch a {
	case EndOfMessage:
		return "EOM"
	case BeginOfMessage:
		return "BOM"
	default:
		return fmt.Sprintf("Anchor(%d)", uint8(a))
	}
}

// SeparatorConfig describes how records are separated in the byte stream.
//
// With an empty Separator every record is exactly RecordLen bytes. With a
// separator, RecordLen is the number of bytes taken without looking for the
// separator (after the separator for BOM records), 0 for purely variable
// length records.
type SeparatorConfig struct {
	Separator []byte
	Anchor    Anchor
	RecordLen uint16
	AddNull   bool // append a NUL to each separator-terminated record
}

// DefaultSeparator is the configuration of a newly opened port: newline
// terminated records.
func DefaultSeparator() SeparatorConfig {
	return SeparatorConfig{Separator: []byte{'\n'}, Anchor: EndOfMessage}
}

// Validate checks the configuration without modifying it.
func (c SeparatorConfig) Validate() error {
	sepLen := len(c.Separator)
	if sepLen > MaxSeparatorLen {
		return fmt.Errorf("%w: separator length %d exceeds %d", ErrInvalidConfig, sepLen, MaxSeparatorLen)
	}
	if int(c.RecordLen)+sepLen+1 >= MaxRecordSize {
		return fmt.Errorf("%w: record size=%d + separator size=%d + 1 exceeds maximum = %d",
			ErrInvalidConfig, c.RecordLen, sepLen, MaxRecordSize)
	}
	if sepLen == 0 && c.RecordLen == 0 {
		return fmt.Errorf("%w: no separator and no record length", ErrInvalidConfig)
	}
	if c.Anchor != EndOfMessage && c.Anchor != BeginOfMessage {
		return fmt.Errorf("%w: unknown anchor %d", ErrInvalidConfig, c.Anchor)
	}
	return nil
}

// Equal reports whether two configurations frame identically.
func (c SeparatorConfig) Equal(o SeparatorConfig) bool {
	return bytes.Equal(c.Separator, o.Separator) && c.Anchor == o.Anchor &&
		c.RecordLen == o.RecordLen && c.AddNull == o.AddNull
}

func (c SeparatorConfig) String() string {
	if len(c.Separator) == 0 {
		return fmt.Sprintf("fixed length %d", c.RecordLen)
	}
	s := fmt.Sprintf("%s separator %s", c.Anchor, strconv.Quote(string(c.Separator)))
	if c.RecordLen > 0 {
		s += fmt.Sprintf(", record length %d", c.RecordLen)
	}
	if c.AddNull {
		s += ", NUL terminated"
	}
	return s
}

// LineMode is the character format of the serial line. It sets the time a
// character takes on the wire, which the time tagger uses to backdate bytes.
type LineMode struct {
	Baud     int
	DataBits int
	Parity   bool
	StopBits int
}

// DefaultLineMode is 38400 baud, 8 data bits, no parity, 1 stop bit.
func DefaultLineMode() LineMode {
	return LineMode{Baud: 38400, DataBits: 8, StopBits: 1}
}

// Validate checks the line mode.
func (m LineMode) Validate() error {
	if m.Baud <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, m.Baud)
	}
	if m.DataBits < 5 || m.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidConfig, m.DataBits)
	}
	if m.StopBits < 1 || m.StopBits > 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, m.StopBits)
	}
	return nil
}

// UsecsPerChar returns the wire time of one character in this mode.
func (m LineMode) UsecsPerChar() int {
	return UsecsPerChar(m.Baud, m.DataBits, m.Parity, m.StopBits)
}

// Prompt is a string sent to the instrument at a fixed rate.
type Prompt struct {
	Text []byte
	Rate time.Duration
}

// Validate checks the prompt.
func (p Prompt) Validate() error {
	if len(p.Text) == 0 || len(p.Text) > MaxPromptLen {
		return fmt.Errorf("%w: prompt length %d not in [1, %d]", ErrInvalidConfig, len(p.Text), MaxPromptLen)
	}
	if p.Rate <= 0 {
		return fmt.Errorf("%w: prompt rate %v", ErrInvalidConfig, p.Rate)
	}
	return nil
}
