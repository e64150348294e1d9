// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ringq

import "go.uber.org/atomic"

// Bytes is a byte-granular SPSC circular buffer, used for characters
// waiting to be transmitted.
type Bytes struct {
	buf  []byte
	mask uint32
	head atomic.Uint32
	tail atomic.Uint32
}

// NewBytes creates a byte queue of size bytes (size-1 usable).
// size must be a power of two.
func NewBytes(size int) (*Bytes, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return &Bytes{
		buf:  make([]byte, size),
		mask: uint32(size - 1),
	}, nil
}

// Write copies as much of p as fits and returns the count.
// It never blocks. At most two copies are made, one on each side of the
// wrap point.
func (b *Bytes) Write(p []byte) int {
	written := 0
	for pass := 0; pass < 2 && len(p) > 0; pass++ {
		h := b.head.Load()
		space := (b.tail.Load() - h - 1) & b.mask
		toEnd := uint32(len(b.buf)) - h
		n := min(space, toEnd, uint32(len(p)))
		if n == 0 {
			break
		}
		copy(b.buf[h:h+n], p[:n])
		b.head.Store((h + n) & b.mask)
		p = p[n:]
		written += int(n)
	}
	return written
}

// Read copies up to len(p) queued bytes into p and returns the count.
func (b *Bytes) Read(p []byte) int {
	read := 0
	for pass := 0; pass < 2 && len(p) > 0; pass++ {
		t := b.tail.Load()
		count := (b.head.Load() - t) & b.mask
		toEnd := uint32(len(b.buf)) - t
		n := min(count, toEnd, uint32(len(p)))
		if n == 0 {
			break
		}
		copy(p[:n], b.buf[t:t+n])
		b.tail.Store((t + n) & b.mask)
		p = p[n:]
		read += int(n)
	}
	return read
}

// Len returns the number of queued bytes.
func (b *Bytes) Len() int {
	return int((b.head.Load() - b.tail.Load()) & b.mask)
}

// Space returns the number of bytes that can be written.
func (b *Bytes) Space() int {
	return int((b.tail.Load() - b.head.Load() - 1) & b.mask)
}

// Reset discards all queued bytes. Neither side may be active.
func (b *Bytes) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
}
