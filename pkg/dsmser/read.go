// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"errors"
	"io"
	"time"
)

// Read fills buf with encoded samples: for each record an 8 byte header
// (little-endian uint32 time tag, uint32 length) followed by the record
// data. A record that does not fit is continued on the next call.
//
// Read returns when buf is full or the absolute deadline passes. If the
// deadline passes before a single byte was written it returns ErrTimeout.
// Closing the port wakes Read with ErrCancelled.
func (p *Port) Read(buf []byte, deadline time.Time) (int, error) {
	return p.read(buf, deadline, true)
}

// TryRead is Read without waiting. It returns ErrWouldBlock if nothing
// could be delivered.
func (p *Port) TryRead(buf []byte) (int, error) {
	return p.read(buf, time.Time{}, false)
}

func (p *Port) read(buf []byte, deadline time.Time, block bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for {
		if p.closed.Load() {
			if n > 0 {
				return n, nil
			}
			return 0, ErrCancelled
		}

		n += p.deliver(buf[n:])
		if n == len(buf) {
			return n, nil
		}

		// A token per published scan; take one that is already there.
		select {
		case <-p.sem:
			p.scanOne()
			continue
		default:
		}

		if !block {
			if n > 0 {
				return n, nil
			}
			return 0, ErrWouldBlock
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			if n > 0 {
				return n, nil
			}
			return 0, ErrTimeout
		}

		p.mu.Unlock()
		got := p.wait(wait)
		p.mu.Lock()
		if got {
			p.scanOne()
		}
	}
}

// wait blocks for one scan token, the deadline, or Close. It reports
// whether a token was taken.
func (p *Port) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.sem:
		return true
	case <-p.done:
		return false
	case <-timer.C:
		return false
	}
}

// scanOne runs the framer over the oldest raw scan.
func (p *Port) scanOne() {
	s := p.raw.Tail()
	if s == nil {
		return
	}
	p.fr.scan(s)
	p.raw.Pop()
}

// deliver copies queued records into buf, continuing a partially delivered
// record first. It returns the number of bytes written.
func (p *Port) deliver(buf []byte) int {
	n := 0
	for n < len(buf) {
		if p.cosamp == nil {
			r := p.out.Tail()
			if r == nil {
				break
			}
			p.cosamp = r
			p.coff = 0
			r.putHeader(p.hdr[:])
		}

		if p.coff < RecordHeaderSize {
			c := copy(buf[n:], p.hdr[p.coff:])
			n += c
			p.coff += c
			continue
		}

		c := copy(buf[n:], p.cosamp.Data[p.coff-RecordHeaderSize:p.cosamp.Length])
		n += c
		p.coff += c
		if p.coff == RecordHeaderSize+int(p.cosamp.Length) {
			add(&p.stats.recordsDelivered, 1)
			add(&p.stats.bytesDelivered, uint64(p.cosamp.Length))
			p.cosamp = nil
			p.coff = 0
			p.out.Pop()
		}
	}
	return n
}

// Stream returns a reader over the encoded sample stream. Each Read waits
// at most the port's read latency once data is flowing and retries
// silently on timeouts; it returns io.EOF after Close.
func (p *Port) Stream() io.Reader {
	return streamReader{p: p}
}

type streamReader struct {
	p *Port
}

func (r streamReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := r.p.Read(b, time.Now().Add(r.p.ReadLatency()))
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrCancelled):
			return n, io.EOF
		}
		return n, err
	}
}
