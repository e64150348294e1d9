// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/sertag/pkg/ringq"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// closePollInterval is how often Close checks for producers still inside
// Receive.
const closePollInterval = time.Millisecond

// PortConfig holds the settings a port is opened with.
type PortConfig struct {
	Name      string
	Clock     Clock       // defaults to a 1 ms SystemClock
	Logger    *zap.Logger // defaults to a no-op logger
	Device    io.Writer   // destination of Write and prompts; nil disables transmit
	LineMode  LineMode    // zero value means DefaultLineMode
	Separator *SeparatorConfig
	Latency   time.Duration // read latency; zero means DefaultReadLatency
}

// Port is one open serial channel: a raw scan queue filled by the producer,
// a framer and output queue drained by the consumer.
type Port struct {
	name  string
	log   *zap.Logger
	clock Clock

	raw   *ringq.Queue[RawScan]
	out   *ringq.Queue[Record]
	stats *counters

	sem      chan struct{} // one token per published raw scan
	done     chan struct{} // closed by Close
	closed   atomic.Bool
	inflight atomic.Int32 // producers inside Receive
	warned   atomic.Bool  // scan overflow already logged

	// set by Close once every byte is accounted
	final atomic.Pointer[Status]

	latency atomic.Duration

	// consumer side
	mu       sync.Mutex
	fr       *framer
	lineMode LineMode
	cosamp   *Record // record being delivered
	coff     int     // bytes of cosamp already delivered, header included
	hdr      [RecordHeaderSize]byte

	// transmit side
	xmit     *ringq.Bytes
	xmitMu   sync.Mutex
	xmitKick chan struct{}
	dev      io.Writer

	promptMu   sync.Mutex
	prompt     Prompt
	promptStop chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open allocates every queue slot of a port and returns it ready to
// receive. No allocation happens on the receive or read paths afterwards.
func Open(cfg PortConfig) (*Port, error) {
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock(1)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.LineMode == (LineMode{}) {
		cfg.LineMode = DefaultLineMode()
	}
	if err := cfg.LineMode.Validate(); err != nil {
		return nil, err
	}
	sep := DefaultSeparator()
	if cfg.Separator != nil {
		sep = *cfg.Separator
	}
	if err := sep.Validate(); err != nil {
		return nil, err
	}

	raw, err := ringq.New[RawScan](RawQueueSize)
	if err != nil {
		return nil, fmt.Errorf("raw scan queue: %w", err)
	}
	out, err := ringq.New[Record](OutputQueueSize)
	if err != nil {
		return nil, fmt.Errorf("output queue: %w", err)
	}
	xmit, err := ringq.NewBytes(XmitQueueSize)
	if err != nil {
		return nil, fmt.Errorf("transmit queue: %w", err)
	}

	p := &Port{
		name:     cfg.Name,
		log:      cfg.Logger.With(zap.String("port", cfg.Name)),
		clock:    cfg.Clock,
		raw:      raw,
		out:      out,
		stats:    newCounters(),
		sem:      make(chan struct{}, RawQueueSize),
		done:     make(chan struct{}),
		lineMode: cfg.LineMode,
		xmit:     xmit,
		xmitKick: make(chan struct{}, 1),
		dev:      cfg.Device,
	}
	p.fr = newFramer(out, p.stats, cfg.LineMode.UsecsPerChar(), cfg.Clock.Resolution())
	p.fr.configure(sep)
	p.SetReadLatency(cfg.Latency)

	if p.dev != nil {
		p.wg.Add(1)
		go p.transmitter()
	}

	p.log.Info("port opened",
		zap.Stringer("separator", sep),
		zap.Int("baud", cfg.LineMode.Baud),
		zap.Int("usecs_per_char", p.fr.usecsPerChar),
		zap.Uint32("clock_res_ms", uint32(p.fr.res)),
	)
	return p, nil
}

// Name returns the port name given at open.
func (p *Port) Name() string {
	return p.name
}

// Receive is the producer entry point, called with each chunk of characters
// drained from the hardware. latencyChars estimates how many character
// times passed between the last character and this call (for example 4 for
// a UART receive-timeout interrupt).
//
// Receive never blocks: if the raw scan queue is full the characters are
// counted as lost. Chunks longer than ScanSize are truncated and counted.
// It returns ErrClosed once the port is closed.
func (p *Port) Receive(data []byte, latencyChars int) error {
	p.inflight.Inc()
	defer p.inflight.Dec()

	if p.closed.Load() {
		add(&p.stats.inputBytesLost, uint64(len(data)))
		return ErrClosed
	}

	now := p.clock.Millis()
	if len(data) == 0 {
		return nil
	}

	scan := p.raw.Head()
	if scan == nil {
		add(&p.stats.inputBytesLost, uint64(len(data)))
		return nil
	}

	if len(data) > ScanSize {
		add(&p.stats.scanOverflows, 1)
		add(&p.stats.inputBytesLost, uint64(len(data)-ScanSize))
		if !p.warned.Swap(true) {
			p.log.Error("scan exceeds buffer, characters dropped",
				zap.Int("length", len(data)), zap.Int("max", ScanSize))
		}
		data = data[:ScanSize]
	}

	scan.Timetag = now
	scan.Latency = uint16(max(latencyChars, 0))
	scan.Length = uint16(copy(scan.Data[:], data))
	p.stats.fifoDepth(len(data))

	p.raw.Publish()
	select {
	case p.sem <- struct{}{}:
	default:
	}
	return nil
}

// ReportLineStatus counts transceiver signal errors. The affected
// characters are still passed to Receive.
func (p *Port) ReportLineStatus(ls LineStatus) {
	p.stats.lineStatus(ls)
}

// SetRecordSeparator validates and installs a new separator configuration.
// Any partial record is discarded and counted as lost input. On error the
// port is unchanged.
func (p *Port) SetRecordSeparator(cfg SeparatorConfig) error {
	if err := cfg.Validate(); err != nil {
		p.log.Error("rejected record separator", zap.Error(err))
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fr.configure(cfg)
	p.log.Debug("record separator set", zap.Stringer("separator", cfg))
	return nil
}

// RecordSeparator returns the current separator configuration.
func (p *Port) RecordSeparator() SeparatorConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.fr.cfg
	cfg.Separator = append([]byte(nil), cfg.Separator...)
	return cfg
}

// SetLineMode changes the character format used to backdate bytes.
func (p *Port) SetLineMode(m LineMode) error {
	if err := m.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineMode = m
	p.fr.usecsPerChar = m.UsecsPerChar()
	return nil
}

// LineMode returns the current character format.
func (p *Port) LineMode() LineMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineMode
}

// SetReadLatency sets the longest time the Stream reader waits before
// returning buffered records. Values below MinReadLatency are raised to it;
// the second result reports whether that happened.
func (p *Port) SetReadLatency(d time.Duration) (time.Duration, bool) {
	if d == 0 {
		d = DefaultReadLatency
	}
	clamped := false
	if d < MinReadLatency {
		p.log.Warn("illegal read latency, using minimum",
			zap.Duration("requested", d), zap.Duration("latency", MinReadLatency))
		d = MinReadLatency
		clamped = true
	}
	p.latency.Store(d)
	return d, clamped
}

// ReadLatency returns the current read latency.
func (p *Port) ReadLatency() time.Duration {
	return p.latency.Load()
}

// Status returns a snapshot of the counters and queue space, and restarts
// the FIFO watermarks. While Close is running it keeps returning live
// counters; afterwards it returns the final status.
func (p *Port) Status() Status {
	if final := p.final.Load(); final != nil {
		return *final
	}
	s := p.stats.snapshot()
	s.RawQueueAvail = p.raw.Space()
	s.OutputQueueAvail = p.out.Space()
	s.XmitQueueAvail = p.xmit.Space()
	return s
}

// Pending returns the number of raw scans and records waiting for a
// reader. The partial record being framed is not included.
func (p *Port) Pending() int {
	if p.final.Load() != nil {
		return 0
	}
	return p.raw.Len() + p.out.Len()
}

// Close stops the port. Further Receive calls fail, blocked readers return
// ErrCancelled, and every byte still queued is added to the loss counters
// before the slots are released. It returns the final status.
func (p *Port) Close() Status {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.StopPrompter()

		// Wait out a producer that passed the closed check.
		for p.inflight.Load() > 0 {
			time.Sleep(closePollInterval)
		}
		p.wg.Wait()

		p.mu.Lock()
		defer p.mu.Unlock()

		for s := p.raw.Tail(); s != nil; s = p.raw.Tail() {
			add(&p.stats.inputBytesLost, uint64(s.Length))
			p.raw.Pop()
		}
		p.fr.discard()
		if p.cosamp != nil {
			delivered := max(p.coff-RecordHeaderSize, 0)
			add(&p.stats.outputBytesLost, uint64(int(p.cosamp.Length)-delivered))
			p.out.Pop()
			p.cosamp = nil
		}
		for r := p.out.Tail(); r != nil; r = p.out.Tail() {
			add(&p.stats.outputBytesLost, uint64(r.Length))
			p.out.Pop()
		}
		p.xmitMu.Lock()
		add(&p.stats.xmitBytesLost, uint64(p.xmit.Len()))
		p.xmit.Reset()
		p.xmitMu.Unlock()

		p.raw.Reset()
		p.out.Reset()

		final := p.stats.snapshot()
		final.RawQueueAvail = p.raw.Space()
		final.OutputQueueAvail = p.out.Space()
		final.XmitQueueAvail = p.xmit.Space()
		p.final.Store(&final)

		p.log.Info("port closed",
			zap.Uint64("records", final.RecordsDelivered),
			zap.Uint64("input_bytes_lost", final.InputBytesLost),
			zap.Uint64("output_bytes_lost", final.OutputBytesLost),
			zap.Uint64("record_overflows", final.RecordOverflows),
		)
	})
	return p.Status()
}
