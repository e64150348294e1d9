// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"time"

	"go.uber.org/atomic"
)

// Clock supplies the millisecond time of day used to tag raw scans.
type Clock interface {
	// Millis returns the current time of day in milliseconds.
	Millis() Millis
	// Resolution returns the granularity of Millis, at least 1.
	Resolution() Millis
}

// SystemClock reads the host's UTC wall clock.
type SystemClock struct {
	res Millis
}

// NewSystemClock returns a clock with the given resolution. A resolution
// of 0 is treated as 1 ms.
func NewSystemClock(res Millis) *SystemClock {
	if res == 0 {
		res = 1
	}
	return &SystemClock{res: res}
}

func (c *SystemClock) Millis() Millis {
	now := time.Now().UTC()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ms := Millis(now.Sub(midnight) / time.Millisecond)
	return ms - ms%c.res
}

func (c *SystemClock) Resolution() Millis {
	return c.res
}

// ManualClock is a clock that only moves when told to. It drives offline
// replay of captured streams.
type ManualClock struct {
	now atomic.Uint32
	res Millis
}

// NewManualClock returns a clock reading start with the given resolution.
func NewManualClock(start, res Millis) *ManualClock {
	if res == 0 {
		res = 1
	}
	c := &ManualClock{res: res}
	c.now.Store(uint32(start % MillisPerDay))
	return c
}

func (c *ManualClock) Millis() Millis {
	return Millis(c.now.Load())
}

func (c *ManualClock) Resolution() Millis {
	return c.res
}

// Set moves the clock to t.
func (c *ManualClock) Set(t Millis) {
	c.now.Store(uint32(t % MillisPerDay))
}

// Advance moves the clock forward by d milliseconds, wrapping at midnight.
func (c *ManualClock) Advance(d Millis) {
	for {
		old := c.now.Load()
		next := uint32((uint64(old) + uint64(d)) % MillisPerDay)
		if c.now.CompareAndSwap(old, next) {
			return
		}
	}
}
