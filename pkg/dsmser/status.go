// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"fmt"
	"math"

	"go.uber.org/atomic"
)

// LineStatus flags transceiver signal errors reported with received data.
type LineStatus uint8

const (
	ParityError LineStatus = 1 << iota
	OverrunError
	FramingError
)

// fifoUnset marks a minimum watermark that has not seen a scan.
const fifoUnset = math.MaxUint32

// counters is updated from both sides of a port without locks.
type counters struct {
	parityErrors    atomic.Uint64
	overrunErrors   atomic.Uint64
	framingErrors   atomic.Uint64
	inputBytesLost  atomic.Uint64 // raw scan queue full, truncated scans, discarded partial records
	outputBytesLost atomic.Uint64 // records dropped because the output queue was full
	xmitBytesLost   atomic.Uint64 // bytes that did not fit the transmit queue
	recordOverflows atomic.Uint64 // records force-finalized at MaxRecordSize
	scanOverflows   atomic.Uint64 // scans longer than ScanSize

	recordsDelivered atomic.Uint64
	bytesDelivered   atomic.Uint64

	maxFifo atomic.Uint32
	minFifo atomic.Uint32
}

func newCounters() *counters {
	c := &counters{}
	c.minFifo.Store(fifoUnset)
	return c
}

// add increments c by n, saturating at the maximum value.
func add(c *atomic.Uint64, n uint64) {
	if n == 0 {
		return
	}
	for {
		old := c.Load()
		next := old + n
		if next < old {
			next = math.MaxUint64
		}
		if c.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *counters) lineStatus(ls LineStatus) {
	if ls&ParityError != 0 {
		add(&c.parityErrors, 1)
	}
	if ls&OverrunError != 0 {
		add(&c.overrunErrors, 1)
	}
	if ls&FramingError != 0 {
		add(&c.framingErrors, 1)
	}
}

// fifoDepth records the number of characters drained in one scan.
func (c *counters) fifoDepth(n int) {
	d := uint32(n)
	for {
		old := c.maxFifo.Load()
		if d <= old || c.maxFifo.CompareAndSwap(old, d) {
			break
		}
	}
	for {
		old := c.minFifo.Load()
		if d >= old || c.minFifo.CompareAndSwap(old, d) {
			break
		}
	}
}

// snapshot copies the counters and restarts the FIFO watermarks.
func (c *counters) snapshot() Status {
	s := Status{
		ParityErrors:     c.parityErrors.Load(),
		OverrunErrors:    c.overrunErrors.Load(),
		FramingErrors:    c.framingErrors.Load(),
		InputBytesLost:   c.inputBytesLost.Load(),
		OutputBytesLost:  c.outputBytesLost.Load(),
		XmitBytesLost:    c.xmitBytesLost.Load(),
		RecordOverflows:  c.recordOverflows.Load(),
		ScanOverflows:    c.scanOverflows.Load(),
		RecordsDelivered: c.recordsDelivered.Load(),
		BytesDelivered:   c.bytesDelivered.Load(),
		MaxFifoUsage:     int(c.maxFifo.Swap(0)),
	}
	if lo := c.minFifo.Swap(fifoUnset); lo != fifoUnset {
		s.MinFifoUsage = int(lo)
	}
	return s
}

// Status is a snapshot of a port's counters.
type Status struct {
	ParityErrors    uint64
	OverrunErrors   uint64
	FramingErrors   uint64
	InputBytesLost  uint64
	OutputBytesLost uint64
	XmitBytesLost   uint64
	RecordOverflows uint64
	ScanOverflows   uint64

	RecordsDelivered uint64
	BytesDelivered   uint64 // record data bytes, headers excluded

	// FIFO watermarks since the previous snapshot
	MaxFifoUsage int
	MinFifoUsage int

	RawQueueAvail    int
	OutputQueueAvail int
	XmitQueueAvail   int
}

// Errors returns the sum of the transceiver signal error counters.
func (s Status) Errors() uint64 {
	return s.ParityErrors + s.OverrunErrors + s.FramingErrors
}

// Lost returns the total number of bytes lost on the input side.
func (s Status) Lost() uint64 {
	return s.InputBytesLost + s.OutputBytesLost
}

// String returns a formatted status summary
func (s Status) String() string {
	result := "=== Port Status ===\n"
	result += fmt.Sprintf("Records:         %8d (%d bytes)\n", s.RecordsDelivered, s.BytesDelivered)

	if s.Errors() > 0 {
		result += fmt.Sprintf("Line Errors:     %8d\n", s.Errors())
		if s.ParityErrors > 0 {
			result += fmt.Sprintf("  Parity:           %5d\n", s.ParityErrors)
		}
		if s.OverrunErrors > 0 {
			result += fmt.Sprintf("  Overrun:          %5d\n", s.OverrunErrors)
		}
		if s.FramingErrors > 0 {
			result += fmt.Sprintf("  Framing:          %5d\n", s.FramingErrors)
		}
	}
	if s.InputBytesLost > 0 {
		result += fmt.Sprintf("Input Lost:      %8d bytes\n", s.InputBytesLost)
	}
	if s.OutputBytesLost > 0 {
		result += fmt.Sprintf("Output Lost:     %8d bytes\n", s.OutputBytesLost)
	}
	if s.XmitBytesLost > 0 {
		result += fmt.Sprintf("Xmit Lost:       %8d bytes\n", s.XmitBytesLost)
	}
	if s.RecordOverflows > 0 {
		result += fmt.Sprintf("Rec Overflows:   %8d\n", s.RecordOverflows)
	}
	if s.ScanOverflows > 0 {
		result += fmt.Sprintf("Scan Overflows:  %8d\n", s.ScanOverflows)
	}

	result += fmt.Sprintf("FIFO Usage:      %8d - %d\n", s.MinFifoUsage, s.MaxFifoUsage)
	result += fmt.Sprintf("Queue Avail:     raw=%d out=%d xmit=%d\n",
		s.RawQueueAvail, s.OutputQueueAvail, s.XmitQueueAvail)
	result += "===================\n"

	return result
}
