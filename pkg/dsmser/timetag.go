// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

// TimeTag backdates scanEnd by the transmission time of nchars characters.
//
// The adjustment is rounded to the nearest millisecond and then to the
// nearest multiple of the clock resolution, so that no more precision is
// claimed than the clock has. The result wraps at midnight.
func TimeTag(scanEnd Millis, nchars, usecsPerChar int, res Millis) Millis {
	if res == 0 {
		res = 1
	}
	adj := (int64(nchars)*int64(usecsPerChar) + usecsPerMilli/2) / usecsPerMilli
	adj += int64(res / 2)
	adj -= adj % int64(res)

	t := (int64(scanEnd) - adj) % MillisPerDay
	if t < 0 {
		t += MillisPerDay
	}
	return Millis(t)
}

// UsecsPerChar returns the time on the wire of one character, in
// microseconds, rounded to nearest. A character is a start bit, the data
// bits, an optional parity bit and the stop bits.
func UsecsPerChar(baud, dataBits int, parity bool, stopBits int) int {
	if baud <= 0 {
		baud = 9600
	}
	bits := 1 + dataBits + stopBits
	if parity {
		bits++
	}
	return (bits*usecsPerSec + baud/2) / baud
}
