// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/sertag/pkg/dsmser"
	"github.com/spf13/cobra"
)

var (
	logFormat string
	logOutput string
)

var recordLogCmd = &cobra.Command{
	Use:   "record_log",
	Short: "Display framed, time tagged records as they arrive",
	Long: `Continuously frame and display records as they arrive.

Each record is shown with the estimated receipt time of its first byte
(time of day, UTC) and its length. Formats:
  text - one line per record, control characters escaped
  hex  - hex dump of each record
  cbor - a stream of CBOR encoded records, for archiving

A status summary is printed on exit.

Supports both serial and WebSocket connections.`,
	RunE: runRecordLog,
}

func init() {
	rootCmd.AddCommand(recordLogCmd)
	recordLogCmd.Flags().StringVar(&logFormat, "format", "text", "Output format: text, hex, cbor")
	recordLogCmd.Flags().StringVarP(&logOutput, "output", "o", "", "Write records to file instead of stdout")
}

// sampleWriter writes samples in one of the output formats
type sampleWriter struct {
	w      io.Writer
	format string
	enc    *dsmser.SampleEncoder
}

func newSampleWriter(w io.Writer, format string) (*sampleWriter, error) {
	sw := &sampleWriter{w: w, format: format}
	switch format {
	case "text", "hex":
	case "cbor":
		sw.enc = dsmser.NewSampleEncoder(w)
	default:
		return nil, fmt.Errorf("unknown format: %s (use text, hex or cbor)", format)
	}
	return sw, nil
}

func (sw *sampleWriter) Write(port string, s dsmser.Sample) error {
	var err error
	switch sw.format {
	case "cbor":
		err = sw.enc.Encode(port, s)
	case "hex":
		dump := dsmser.FormatSampleHex(s)
		if port != "" {
			dump = port + " " + dump
		}
		_, err = io.WriteString(sw.w, dump)
	default:
		line := dsmser.FormatSample(s)
		if port != "" {
			line = port + " " + line
		}
		_, err = io.WriteString(sw.w, line)
	}
	return err
}

// openOutput returns the record destination and a function closing it
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func runRecordLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, closeOut, err := openOutput(logOutput)
	if err != nil {
		return err
	}
	defer closeOut()

	sw, err := newSampleWriter(out, logFormat)
	if err != nil {
		return err
	}

	// Open connection (serial or WebSocket)
	s, err := openFlagSession(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Sertag - Record Log\n")
	fmt.Fprintf(os.Stderr, "Connection: %s\n", s.info)
	fmt.Fprintf(os.Stderr, "Framing: %s\n", s.port.RecordSeparator())
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	sr := dsmser.NewSampleReader(s.port.Stream())
	for {
		sample, err := sr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			}
			break
		}
		if err := sw.Write("", sample); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprint(os.Stderr, s.Close().String())
	return nil
}
