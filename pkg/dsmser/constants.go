// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dsmser frames, time-tags and queues records from serial
// instrument ports.
//
// Each open Port has two sides. The producer side (Receive) is called from
// whatever drains the hardware: it stamps the chunk with the clock, copies
// it into a preallocated raw scan slot and returns without blocking. The
// consumer side (Read) runs the framing state machine over queued raw
// scans, backdates each record to the receipt time of its first byte, and
// hands the encoded records to the caller.
//
// Records are delivered as a byte stream of samples: an 8 byte header
// (little-endian uint32 time tag in milliseconds of the day, little-endian
// uint32 data length) followed by the record data. SampleReader decodes the
// stream.
package dsmser

import "time"

// Queue and buffer sizes
const (
	ScanSize        = 132  // at least one byte bigger than the largest hardware FIFO
	MaxRecordSize   = 2048 // largest record, including separator
	MaxSeparatorLen = 16
	MaxPromptLen    = 128

	RawQueueSize    = 32
	OutputQueueSize = 16
	XmitQueueSize   = 4096

	RecordHeaderSize = 8
)

// Clock and timing
const (
	MillisPerDay  = 24 * 60 * 60 * 1000
	usecsPerMilli = 1000
	usecsPerSec   = 1000000

	MinReadLatency     = time.Millisecond
	DefaultReadLatency = 100 * time.Millisecond
)

// Millis is a time of day in milliseconds, [0, MillisPerDay).
type Millis uint32
