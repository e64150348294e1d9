// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the transmitter goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func openTestPort(t *testing.T, sep *SeparatorConfig, dev io.Writer) (*Port, *ManualClock) {
	t.Helper()
	clock := NewManualClock(1000, 1)
	p, err := Open(PortConfig{
		Name:      "test",
		Clock:     clock,
		Device:    dev,
		LineMode:  LineMode{Baud: 9600, DataBits: 8, StopBits: 1},
		Separator: sep,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, clock
}

func mustReceive(t *testing.T, p *Port, data string) {
	t.Helper()
	if err := p.Receive([]byte(data), 0); err != nil {
		t.Fatalf("Receive(%q) failed: %v", data, err)
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// ============================================================
// Open
// ============================================================

func TestOpen_Defaults(t *testing.T) {
	p, err := Open(PortConfig{Name: "ttyS1"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if !p.RecordSeparator().Equal(DefaultSeparator()) {
		t.Errorf("separator = %v, want %v", p.RecordSeparator(), DefaultSeparator())
	}
	if p.LineMode() != DefaultLineMode() {
		t.Errorf("line mode = %+v, want %+v", p.LineMode(), DefaultLineMode())
	}
	if p.ReadLatency() != DefaultReadLatency {
		t.Errorf("latency = %v, want %v", p.ReadLatency(), DefaultReadLatency)
	}
	s := p.Status()
	if s.RawQueueAvail != RawQueueSize-1 || s.OutputQueueAvail != OutputQueueSize-1 {
		t.Errorf("queue space raw=%d out=%d", s.RawQueueAvail, s.OutputQueueAvail)
	}
}

func TestOpen_RejectsInvalidSeparator(t *testing.T) {
	_, err := Open(PortConfig{Separator: &SeparatorConfig{}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open with empty separator and no length: err = %v, want ErrInvalidConfig", err)
	}
}

// ============================================================
// Read Dispatcher
// ============================================================

func TestRead_PastDeadlineEmpty(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	buf := make([]byte, 64)
	n, err := p.Read(buf, time.Now().Add(-time.Second))
	if n != 0 || !errors.Is(err, ErrTimeout) {
		t.Errorf("Read = %d, %v; want 0, ErrTimeout", n, err)
	}
}

func TestRead_DeliversQueuedScanAfterDeadline(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	mustReceive(t, p, "hello\n")

	buf := make([]byte, 64)
	n, err := p.Read(buf, time.Now().Add(-time.Millisecond))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != RecordHeaderSize+6 {
		t.Errorf("Read = %d bytes, want %d", n, RecordHeaderSize+6)
	}
}

func TestRead_WakesOnArrival(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = p.Receive([]byte("ok\n"), 0)
	}()

	buf := make([]byte, RecordHeaderSize+3)
	start := time.Now()
	n, err := p.Read(buf, start.Add(5*time.Second))
	if err != nil || n != len(buf) {
		t.Fatalf("Read = %d, %v; want %d, nil", n, err, len(buf))
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Read waited for the deadline with a full buffer")
	}
	if !bytes.Equal(buf[RecordHeaderSize:], []byte("ok\n")) {
		t.Errorf("data = %q", buf[RecordHeaderSize:])
	}
}

func TestRead_ReturnsPartialAtDeadline(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	mustReceive(t, p, "a\n")

	buf := make([]byte, 256)
	n, err := p.Read(buf, time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != RecordHeaderSize+2 {
		t.Errorf("Read = %d, want %d", n, RecordHeaderSize+2)
	}
}

func TestRead_SampleHeader(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	// 10 bytes at 9600 baud ending at 1000 ms: the first byte arrived at 991
	mustReceive(t, p, "abcdefghi\n")

	buf := make([]byte, RecordHeaderSize+10)
	n, err := p.TryRead(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("TryRead = %d, %v", n, err)
	}
	if tt := binary.LittleEndian.Uint32(buf[0:4]); tt != 991 {
		t.Errorf("time tag = %d, want 991", tt)
	}
	if l := binary.LittleEndian.Uint32(buf[4:8]); l != 10 {
		t.Errorf("length = %d, want 10", l)
	}
}

func TestRead_PartialDelivery(t *testing.T) {
	p, _ := openTestPort(t, &SeparatorConfig{RecordLen: 6}, nil)
	mustReceive(t, p, "abcdef")

	first := make([]byte, 10)
	n, err := p.TryRead(first)
	if err != nil || n != 10 {
		t.Fatalf("first TryRead = %d, %v; want 10, nil", n, err)
	}
	if !bytes.Equal(first[8:], []byte("ab")) {
		t.Errorf("first data = %q, want %q", first[8:], "ab")
	}

	second := make([]byte, 4)
	n, err = p.TryRead(second)
	if err != nil || n != 4 {
		t.Fatalf("second TryRead = %d, %v; want 4, nil", n, err)
	}
	if !bytes.Equal(second, []byte("cdef")) {
		t.Errorf("second data = %q, want %q", second, "cdef")
	}

	if _, err := p.TryRead(second); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("third TryRead err = %v, want ErrWouldBlock", err)
	}
	s := p.Status()
	if s.RecordsDelivered != 1 || s.BytesDelivered != 6 {
		t.Errorf("delivered %d records %d bytes, want 1/6", s.RecordsDelivered, s.BytesDelivered)
	}
}

func TestTryRead_WouldBlock(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	mustReceive(t, p, "no separator yet")

	n, err := p.TryRead(make([]byte, 32))
	if n != 0 || !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryRead = %d, %v; want 0, ErrWouldBlock", n, err)
	}
}

func TestRead_CancelledByClose(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 32), time.Now().Add(10*time.Second))
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Read err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read not woken by Close")
	}

	if _, err := p.Read(make([]byte, 8), time.Now()); !errors.Is(err, ErrCancelled) {
		t.Errorf("Read after Close err = %v, want ErrCancelled", err)
	}
}

func TestStream_DecodesSamples(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	p.SetReadLatency(5 * time.Millisecond)

	mustReceive(t, p, "one\ntwo\n")
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = p.Receive([]byte("three\n"), 0)
		time.Sleep(20 * time.Millisecond)
		p.Close()
	}()

	sr := NewSampleReader(p.Stream())
	var got []string
	for {
		s, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, string(s.Data))
	}
	want := []string{"one\n", "two\n", "three\n"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// ============================================================
// Producer
// ============================================================

func TestReceive_RawQueueFull(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	for i := 0; i < RawQueueSize-1; i++ {
		mustReceive(t, p, "abcd")
	}
	mustReceive(t, p, "lost")

	s := p.Status()
	if s.InputBytesLost != 4 {
		t.Errorf("InputBytesLost = %d, want 4", s.InputBytesLost)
	}
	if s.RawQueueAvail != 0 {
		t.Errorf("RawQueueAvail = %d, want 0", s.RawQueueAvail)
	}
}

func TestReceive_ScanOverflow(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	if err := p.Receive(bytes.Repeat([]byte("z"), ScanSize+8), 0); err != nil {
		t.Fatal(err)
	}
	s := p.Status()
	if s.ScanOverflows != 1 || s.InputBytesLost != 8 {
		t.Errorf("ScanOverflows=%d InputBytesLost=%d, want 1/8", s.ScanOverflows, s.InputBytesLost)
	}
	if s.MaxFifoUsage != ScanSize {
		t.Errorf("MaxFifoUsage = %d, want %d", s.MaxFifoUsage, ScanSize)
	}
}

func TestReceive_AfterClose(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	p.Close()

	if err := p.Receive([]byte("late"), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive after Close err = %v, want ErrClosed", err)
	}
}

// ============================================================
// Status
// ============================================================

func TestStatus_FifoWatermarks(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	mustReceive(t, p, "abc")
	mustReceive(t, p, "0123456789")
	mustReceive(t, p, "xyzzy")

	s := p.Status()
	if s.MaxFifoUsage != 10 || s.MinFifoUsage != 3 {
		t.Errorf("FIFO usage %d-%d, want 3-10", s.MinFifoUsage, s.MaxFifoUsage)
	}

	s = p.Status()
	if s.MaxFifoUsage != 0 || s.MinFifoUsage != 0 {
		t.Errorf("FIFO usage after snapshot %d-%d, want 0-0", s.MinFifoUsage, s.MaxFifoUsage)
	}
}

func TestStatus_LineErrors(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	p.ReportLineStatus(ParityError | FramingError)
	p.ReportLineStatus(OverrunError)
	p.ReportLineStatus(ParityError)

	s := p.Status()
	if s.ParityErrors != 2 || s.OverrunErrors != 1 || s.FramingErrors != 1 {
		t.Errorf("errors parity=%d overrun=%d framing=%d", s.ParityErrors, s.OverrunErrors, s.FramingErrors)
	}
	if s.Errors() != 4 {
		t.Errorf("Errors() = %d, want 4", s.Errors())
	}

	// error counters are cumulative
	if p.Status().ParityErrors != 2 {
		t.Error("snapshot reset the error counters")
	}
}

// ============================================================
// Configuration
// ============================================================

func TestSetRecordSeparator_InvalidLeavesConfig(t *testing.T) {
	p, _ := openTestPort(t, &SeparatorConfig{Separator: []byte("\r"), Anchor: EndOfMessage}, nil)
	before := p.RecordSeparator()

	bad := []SeparatorConfig{
		{Separator: bytes.Repeat([]byte("-"), MaxSeparatorLen+1)},
		{Separator: []byte("\n"), RecordLen: MaxRecordSize - 2},
		{},
		{Separator: []byte("\n"), Anchor: Anchor(7)},
	}
	for _, cfg := range bad {
		if err := p.SetRecordSeparator(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("SetRecordSeparator(%v) err = %v, want ErrInvalidConfig", cfg, err)
		}
		if !p.RecordSeparator().Equal(before) {
			t.Fatalf("rejected config changed separator to %v", p.RecordSeparator())
		}
	}
}

func TestSetRecordSeparator_ResetsParsing(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	mustReceive(t, p, "partial")
	if _, err := p.TryRead(make([]byte, 64)); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryRead err = %v", err)
	}

	if err := p.SetRecordSeparator(SeparatorConfig{Separator: []byte(";"), Anchor: EndOfMessage}); err != nil {
		t.Fatal(err)
	}
	mustReceive(t, p, "next;")

	buf := make([]byte, 64)
	n, err := p.TryRead(buf)
	if err != nil {
		t.Fatalf("TryRead failed: %v", err)
	}
	if !bytes.Equal(buf[RecordHeaderSize:n], []byte("next;")) {
		t.Errorf("record = %q, want %q", buf[RecordHeaderSize:n], "next;")
	}
	if lost := p.Status().InputBytesLost; lost != 7 {
		t.Errorf("InputBytesLost = %d, want 7", lost)
	}
}

func TestSetReadLatency_Clamp(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	got, clamped := p.SetReadLatency(500 * time.Microsecond)
	if got != MinReadLatency || !clamped {
		t.Errorf("SetReadLatency(500us) = %v, %v; want %v, true", got, clamped, MinReadLatency)
	}
	got, clamped = p.SetReadLatency(50 * time.Millisecond)
	if got != 50*time.Millisecond || clamped {
		t.Errorf("SetReadLatency(50ms) = %v, %v", got, clamped)
	}
	if p.ReadLatency() != 50*time.Millisecond {
		t.Errorf("ReadLatency = %v", p.ReadLatency())
	}
}

func TestSetLineMode(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	if err := p.SetLineMode(LineMode{Baud: 1200, DataBits: 8, StopBits: 1}); err != nil {
		t.Fatal(err)
	}
	// 2 bytes at 1200 baud: the first arrived 8 ms before the end
	mustReceive(t, p, "a\n")
	buf := make([]byte, RecordHeaderSize+2)
	if _, err := p.TryRead(buf); err != nil {
		t.Fatal(err)
	}
	if tt := binary.LittleEndian.Uint32(buf[0:4]); tt != 992 {
		t.Errorf("time tag = %d, want 992", tt)
	}

	if err := p.SetLineMode(LineMode{Baud: 9600, DataBits: 9, StopBits: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("9 data bits err = %v, want ErrInvalidConfig", err)
	}
}

// ============================================================
// Close
// ============================================================

func TestClose_AccountsInFlightBytes(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	mustReceive(t, p, "rec1\n")
	if n, err := p.TryRead(make([]byte, 10)); err != nil || n != 10 {
		t.Fatalf("TryRead = %d, %v", n, err)
	}
	mustReceive(t, p, "rec2\n") // framed into the output queue below
	mustReceive(t, p, "xyz")
	p.mu.Lock()
	p.scanOne()
	p.mu.Unlock()

	s := p.Close()
	// "c1\n" of the partly delivered record and all of "rec2\n"
	if s.OutputBytesLost != 3+5 {
		t.Errorf("OutputBytesLost = %d, want 8", s.OutputBytesLost)
	}
	if s.InputBytesLost != 3 {
		t.Errorf("InputBytesLost = %d, want 3", s.InputBytesLost)
	}
	if s.RawQueueAvail != RawQueueSize-1 || s.OutputQueueAvail != OutputQueueSize-1 {
		t.Errorf("queues not released: raw=%d out=%d", s.RawQueueAvail, s.OutputQueueAvail)
	}
	if again := p.Close(); again != s {
		t.Errorf("second Close = %+v, want %+v", again, s)
	}
}

// gateClock blocks Millis while the gate is shut, holding a producer
// inside Receive.
type gateClock struct {
	mu      sync.Mutex
	gate    chan struct{} // nil when open
	waiting chan struct{}
}

func (c *gateClock) shut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
	c.waiting = make(chan struct{}, 1)
}

func (c *gateClock) open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.gate)
	c.gate = nil
}

func (c *gateClock) Millis() Millis {
	c.mu.Lock()
	gate, waiting := c.gate, c.waiting
	c.mu.Unlock()
	if gate != nil {
		waiting <- struct{}{}
		<-gate
	}
	return 1000
}

func (c *gateClock) Resolution() Millis {
	return 1
}

func TestClose_StatusNeverGoesBackwards(t *testing.T) {
	clock := &gateClock{}
	p, err := Open(PortConfig{Name: "test", Clock: clock})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	p.ReportLineStatus(ParityError)
	mustReceive(t, p, "abc")
	// A full raw queue drops input
	for i := 0; i < RawQueueSize; i++ {
		if err := p.Receive([]byte("0123456789"), 0); err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
	}
	before := p.Status()
	if before.InputBytesLost == 0 || before.ParityErrors != 1 {
		t.Fatalf("status before close = %+v", before)
	}

	clock.shut()
	go func() { _ = p.Receive([]byte("x"), 0) }()
	<-clock.waiting

	closed := make(chan Status, 1)
	go func() { closed <- p.Close() }()
	waitFor(t, "close to start", func() bool { return p.closed.Load() })

	during := p.Status()
	if during.InputBytesLost < before.InputBytesLost || during.ParityErrors != 1 {
		t.Errorf("status during close went backwards: lost %d -> %d, parity %d",
			before.InputBytesLost, during.InputBytesLost, during.ParityErrors)
	}
	if p.Pending() == 0 {
		t.Error("Pending = 0 while queued scans are not yet accounted")
	}

	clock.open()
	var final Status
	select {
	case final = <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the producer left Receive")
	}
	if final.InputBytesLost < during.InputBytesLost || final.ParityErrors != 1 {
		t.Errorf("final status went backwards: lost %d -> %d", during.InputBytesLost, final.InputBytesLost)
	}
	// Everything received is lost: the dropped scans, the queued ones and "x"
	if want := before.InputBytesLost + 3 + uint64(RawQueueSize-2)*10 + 1; final.InputBytesLost != want {
		t.Errorf("final InputBytesLost = %d, want %d", final.InputBytesLost, want)
	}
	if p.Status() != final || p.Pending() != 0 {
		t.Errorf("status after close = %+v, pending %d", p.Status(), p.Pending())
	}
}

// ============================================================
// Transmit
// ============================================================

func TestWrite_ReachesDevice(t *testing.T) {
	dev := &syncBuffer{}
	p, _ := openTestPort(t, nil, dev)

	n, err := p.Write([]byte("*IDN?\r"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	waitFor(t, "transmit", func() bool { return dev.String() == "*IDN?\r" })
}

func TestWrite_NoDevice(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)

	if _, err := p.Write([]byte("x")); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Write err = %v, want ErrNoDevice", err)
	}
	if err := p.StartPrompter(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("StartPrompter err = %v, want ErrNoDevice", err)
	}
}

func TestPrompter(t *testing.T) {
	dev := &syncBuffer{}
	p, _ := openTestPort(t, nil, dev)

	if err := p.StartPrompter(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("StartPrompter without prompt err = %v, want ErrInvalidConfig", err)
	}
	if err := p.SetPrompt(Prompt{Text: []byte("?\r"), Rate: 2 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	if err := p.StartPrompter(); err != nil {
		t.Fatal(err)
	}
	if !p.Prompting() {
		t.Error("Prompting() = false after start")
	}
	waitFor(t, "three prompts", func() bool {
		return bytes.Count([]byte(dev.String()), []byte("?\r")) >= 3
	})
	p.StopPrompter()
	if p.Prompting() {
		t.Error("Prompting() = true after stop")
	}
	if got := p.Prompt(); string(got.Text) != "?\r" || got.Rate != 2*time.Millisecond {
		t.Errorf("Prompt() = %+v", got)
	}
}

func TestSetPrompt_Invalid(t *testing.T) {
	p, _ := openTestPort(t, nil, &syncBuffer{})

	if err := p.SetPrompt(Prompt{Text: nil, Rate: time.Second}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty prompt err = %v", err)
	}
	if err := p.SetPrompt(Prompt{Text: []byte("x"), Rate: 0}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero rate err = %v", err)
	}
}

func TestPending(t *testing.T) {
	p, _ := openTestPort(t, nil, nil)
	if got := p.Pending(); got != 0 {
		t.Fatalf("Pending on new port = %d, want 0", got)
	}

	mustReceive(t, p, "a\nb\n")
	if got := p.Pending(); got != 1 {
		t.Errorf("Pending with one raw scan = %d, want 1", got)
	}

	// Reading a header frames the scan into two records
	if _, err := p.TryRead(make([]byte, RecordHeaderSize)); err != nil {
		t.Fatalf("TryRead failed: %v", err)
	}
	if got := p.Pending(); got != 2 {
		t.Errorf("Pending with two records = %d, want 2", got)
	}

	if _, err := p.TryRead(make([]byte, 64)); err != nil {
		t.Fatalf("TryRead failed: %v", err)
	}
	if got := p.Pending(); got != 0 {
		t.Errorf("Pending after reading everything = %d, want 0", got)
	}

	mustReceive(t, p, "c\n")
	p.Close()
	if got := p.Pending(); got != 0 {
		t.Errorf("Pending after Close = %d, want 0", got)
	}
}
