// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import "encoding/binary"

// RawScan is one chunk of characters drained from the hardware at one time.
type RawScan struct {
	Timetag Millis // clock reading when the chunk was drained
	Latency uint16 // characters of estimated delay between the last byte and Timetag
	Length  uint16
	Data    [ScanSize]byte
}

// ByteTimetag returns the estimated receipt time of byte k of the scan.
// Bytes later in the scan arrived later, so only the characters after k
// (plus the drain latency) are backed out.
func (s *RawScan) ByteTimetag(k, usecsPerChar int, res Millis) Millis {
	remaining := int(s.Length) - 1 - k
	return TimeTag(s.Timetag, remaining+int(s.Latency), usecsPerChar, res)
}

// Record is one framed record waiting in the output queue.
type Record struct {
	Timetag Millis
	Length  uint16
	Data    [MaxRecordSize]byte
}

// Bytes returns the record data. The slice aliases the record.
func (r *Record) Bytes() []byte {
	return r.Data[:r.Length]
}

func (r *Record) reset() {
	r.Timetag = 0
	r.Length = 0
}

func (r *Record) append(p ...byte) {
	r.Length += uint16(copy(r.Data[r.Length:], p))
}

// putHeader writes the sample header for r into b.
func (r *Record) putHeader(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Timetag))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Length))
}
