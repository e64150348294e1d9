// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import "github.com/Thermoquad/sertag/pkg/ringq"

// scanMode is the framing strategy, selected when the separator is set.
type scanMode int

const (
	modeLength scanMode = iota // fixed length records, no separator
	modeBOM                    // separator begins each record
	modeEOM                    // separator ends each record
)

// framer splits raw scans into records. It is owned by the consumer side
// of a port and is never touched by the producer.
type framer struct {
	cfg    SeparatorConfig
	sep    [MaxSeparatorLen]byte
	sepLen int
	mode   scanMode
	limit  int // record length that forces a finalize

	sepCnt int    // separator characters matched so far
	bomtt  Millis // receipt time of the first matched separator character
	cur    Record // record in progress

	usecsPerChar int
	res          Millis

	out   *ringq.Queue[Record]
	stats *counters
}

func newFramer(out *ringq.Queue[Record], stats *counters, usecsPerChar int, res Millis) *framer {
	f := &framer{
		out:          out,
		stats:        stats,
		usecsPerChar: usecsPerChar,
		res:          res,
	}
	f.configure(DefaultSeparator())
	return f
}

// configure installs a validated separator configuration and starts
// parsing from a clean state. Bytes of a partial record are counted as
// lost input.
func (f *framer) configure(cfg SeparatorConfig) {
	f.discard()

	f.cfg = cfg
	f.cfg.Separator = append([]byte(nil), cfg.Separator...)
	f.sepLen = copy(f.sep[:], cfg.Separator)

	switch {
	case f.sepLen == 0:
		f.mode = modeLength
	case cfg.Anchor == BeginOfMessage:
		f.mode = modeBOM
	default:
		f.mode = modeEOM
	}

	f.limit = MaxRecordSize
	if cfg.AddNull && f.sepLen > 0 {
		f.limit--
	}
}

// pending returns the number of bytes taken in but not yet part of a
// finalized record.
func (f *framer) pending() int {
	n := int(f.cur.Length)
	if f.mode == modeBOM && f.sepCnt < f.sepLen {
		n += f.sepCnt
	}
	return n
}

// discard drops the partial record and separator match.
func (f *framer) discard() {
	add(&f.stats.inputBytesLost, uint64(f.pending()))
	f.cur.reset()
	f.sepCnt = 0
}

func (f *framer) timetag(s *RawScan, k int) Millis {
	return s.ByteTimetag(k, f.usecsPerChar, f.res)
}

// finalize moves the record in progress to the output queue. If the queue
// is full the record is dropped and counted; either way a new record
// starts.
func (f *framer) finalize() {
	if f.cur.Length > 0 {
		slot := f.out.Head()
		if slot == nil {
			add(&f.stats.outputBytesLost, uint64(f.cur.Length))
		} else {
			slot.Timetag = f.cur.Timetag
			slot.Length = uint16(copy(slot.Data[:], f.cur.Bytes()))
			f.out.Publish()
		}
	}
	f.cur.reset()
}

// terminate finalizes a record whose separator was recognized.
func (f *framer) terminate() {
	if f.cfg.AddNull {
		f.cur.append(0)
	}
	f.finalize()
}

// overflow force-finalizes a record that reached the size limit and starts
// a fresh one at byte k. With AddNull the forced record is NUL terminated
// too, in the byte the limit keeps free.
func (f *framer) overflow(s *RawScan, k int) {
	add(&f.stats.recordOverflows, 1)
	if f.cfg.AddNull && f.sepLen > 0 {
		f.cur.append(0)
	}
	f.finalize()
	f.cur.Timetag = f.timetag(s, k)
}

// scan runs the state machine over every byte of s.
func (f *framer) scan(s *RawScan) {
	switch f.mode {
	case modeBOM:
		f.scanBOM(s)
	case modeEOM:
		f.scanEOM(s)
	default:
		f.scanLength(s)
	}
}

// scanBOM breaks records at a beginning of message separator. A record is
// time tagged with the receipt time of the first separator character.
func (f *framer) scanBOM(s *RawScan) {
	n := int(s.Length)
	for k := 0; k < n; {
		c := s.Data[k]

		// Loop until byte k has been dealt with. A failed partial match
		// retests the same byte once with sepCnt == 0, so this terminates.
		for {
			if f.sepCnt < f.sepLen {
				// Looking for the separator.
				if c == f.sep[f.sepCnt] {
					if f.sepCnt == 0 {
						f.bomtt = f.timetag(s, k)
					}
					k++
					f.sepCnt++
					if f.sepCnt == f.sepLen {
						if f.cur.Length > 0 {
							f.terminate()
						}
						f.cur.Timetag = f.bomtt
						f.cur.append(f.sep[:f.sepLen]...)
					}
					break
				}

				if f.sepCnt > 0 {
					// False start: the matched characters are data.
					if int(f.cur.Length)+f.sepCnt > f.limit {
						f.overflow(s, k)
					}
					if f.cur.Length == 0 {
						f.cur.Timetag = f.bomtt
					}
					f.cur.append(f.sep[:f.sepCnt]...)
					f.sepCnt = 0
					continue
				}

				if int(f.cur.Length) >= f.limit {
					f.overflow(s, k)
				}
				if f.cur.Length == 0 {
					f.cur.Timetag = f.timetag(s, k)
				}
				f.cur.append(c)
				k++
				break
			}

			// Separator matched, filling the record.
			if fill := int(f.cfg.RecordLen) + f.sepLen; int(f.cur.Length) < fill {
				nc := min(fill-int(f.cur.Length), n-k)
				f.cur.append(s.Data[k : k+nc]...)
				k += nc
				break
			}
			if c == f.sep[0] {
				f.sepCnt = 0
				continue
			}
			if int(f.cur.Length) >= f.limit {
				f.overflow(s, k)
				f.sepCnt = 0
			}
			f.cur.append(c)
			k++
			break
		}
	}
}

// scanEOM breaks records at an end of message separator, which stays in
// the record. A record is time tagged with the receipt time of its first
// byte.
func (f *framer) scanEOM(s *RawScan) {
	n := int(s.Length)
	recLen := int(f.cfg.RecordLen)
	for k := 0; k < n; {
		if f.cur.Length == 0 {
			f.cur.Timetag = f.timetag(s, k)
		}

		if int(f.cur.Length) < recLen {
			nc := min(recLen-int(f.cur.Length), n-k)
			f.cur.append(s.Data[k : k+nc]...)
			k += nc
			continue
		}

		if int(f.cur.Length) >= f.limit {
			f.overflow(s, k)
			f.sepCnt = 0
			continue
		}

		c := s.Data[k]
		k++
		f.cur.append(c)

		if c == f.sep[f.sepCnt] {
			f.sepCnt++
			if f.sepCnt == f.sepLen {
				f.terminate()
				f.sepCnt = 0
			}
		} else if f.sepCnt > 0 {
			// sepCnt > 0 means sepLen > 1, so one character can't
			// complete a restarted match.
			f.sepCnt = 0
			if c == f.sep[0] {
				f.sepCnt = 1
			}
		}
	}
}

// scanLength breaks records every RecordLen bytes.
func (f *framer) scanLength(s *RawScan) {
	n := int(s.Length)
	recLen := int(f.cfg.RecordLen)
	for k := 0; k < n; {
		if f.cur.Length == 0 {
			f.cur.Timetag = f.timetag(s, k)
		}
		nc := min(recLen-int(f.cur.Length), n-k)
		f.cur.append(s.Data[k : k+nc]...)
		k += nc
		if int(f.cur.Length) == recLen {
			f.finalize()
		}
	}
}
