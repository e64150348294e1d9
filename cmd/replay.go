// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/sertag/pkg/dsmser"
	"github.com/spf13/cobra"
)

var (
	replayScanSize int
	replayStart    string
	replayFormat   string
	replayOutput   string
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Frame a captured byte stream offline",
	Long: `Feed a file of raw instrument bytes through the framer and print the records.

The file is delivered in scans of --scan-size bytes, as a UART interrupt
handler would drain its FIFO. A simulated clock advances by the wire time of
each scan at the configured line mode, starting at --start, so the time tags
show how records would be stamped live.

Use it to check --sep, --bom and --record-len settings against a capture
before pointing sertag at the instrument.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().IntVar(&replayScanSize, "scan-size", 16, "Bytes per simulated scan")
	replayCmd.Flags().StringVar(&replayStart, "start", "00:00:00", "Simulated time of day of the first byte (HH:MM:SS)")
	replayCmd.Flags().StringVar(&replayFormat, "format", "text", "Output format: text, hex, cbor")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "Write records to file instead of stdout")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayScanSize < 1 || replayScanSize > dsmser.ScanSize {
		return fmt.Errorf("--scan-size must be in 1..%d", dsmser.ScanSize)
	}
	start, err := time.Parse("15:04:05", replayStart)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}

	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer in.Close()

	out, closeOut, err := openOutput(replayOutput)
	if err != nil {
		return err
	}
	defer closeOut()

	sw, err := newSampleWriter(out, replayFormat)
	if err != nil {
		return err
	}

	cfg, err := flagPortConfig("replay")
	if err != nil {
		return err
	}
	startMs := dsmser.Millis((start.Hour()*3600 + start.Minute()*60 + start.Second()) * 1000)
	clock := dsmser.NewManualClock(startMs, dsmser.Millis(clockRes))
	cfg.Clock = clock

	port, err := dsmser.Open(cfg)
	if err != nil {
		return err
	}

	err = replay(in, port, clock, replayScanSize, latencyChars, func(s dsmser.Sample) error {
		return sw.Write("", s)
	})
	st := port.Close()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprint(os.Stderr, st.String())
	return nil
}

// replay delivers r to port in scans of scanSize bytes, moving clock on by
// each scan's wire time, and passes every record produced to emit. Bytes of
// a trailing unterminated record stay in the port.
func replay(r io.Reader, port *dsmser.Port, clock *dsmser.ManualClock, scanSize, latencyChars int, emit func(dsmser.Sample) error) error {
	upc := int64(port.LineMode().UsecsPerChar())
	sr := dsmser.NewSampleReader(readerFunc(port.TryRead))
	buf := make([]byte, scanSize)

	var usecs int64 // wire time not yet on the clock
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			usecs += int64(n) * upc
			clock.Advance(dsmser.Millis(usecs / 1000))
			usecs %= 1000

			if rerr := port.Receive(buf[:n], latencyChars); rerr != nil {
				return rerr
			}
			if derr := drainSamples(sr, emit); derr != nil {
				return derr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
	}
}

// drainSamples emits every sample available without waiting
func drainSamples(sr *dsmser.SampleReader, emit func(dsmser.Sample) error) error {
	for {
		s, err := sr.Next()
		if errors.Is(err, dsmser.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(s); err != nil {
			return err
		}
	}
}
