// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sertag/pkg/dsmser"
	"github.com/spf13/cobra"
)

var (
	recordCheckTimeout int
)

var recordCheckCmd = &cobra.Command{
	Use:   "record_check",
	Short: "Test connection and framing by waiting for a complete record",
	Long: `Wait for a complete record on the connection until timeout.

This command connects to a serial port or WebSocket and waits for the first
record the configured framing produces. Bytes before the first separator are
part of that record, so use --bom framing to confirm the separator is seen.

Exit codes:
  0 - Record received before timeout
  1 - Timeout reached without receiving a record
  2 - Connection error

Useful for checking separator settings against a live instrument.`,
	RunE: runRecordCheck,
}

func init() {
	rootCmd.AddCommand(recordCheckCmd)
	recordCheckCmd.Flags().IntVar(&recordCheckTimeout, "timeout", 10, "Timeout in seconds to wait for a record")
}

func runRecordCheck(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	s, err := openFlagSession(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Sertag - Record Check\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Framing: %s\n", s.port.RecordSeparator())
	fmt.Printf("Timeout: %d seconds\n", recordCheckTimeout)
	fmt.Printf("Waiting for a record...\n\n")

	code := checkRecord(s.port, time.Now().Add(time.Duration(recordCheckTimeout)*time.Second))
	s.Close()
	os.Exit(code)
	return nil
}

// checkRecord waits for the first record and reports it. It returns the
// command's exit code.
func checkRecord(port *dsmser.Port, deadline time.Time) int {
	sample, err := readSample(port, deadline)
	switch {
	case errors.Is(err, dsmser.ErrTimeout):
		st := port.Status()
		fmt.Fprintf(os.Stderr, "TIMEOUT: No record received before the deadline\n")
		if st.InputBytesLost > 0 || st.Errors() > 0 {
			fmt.Fprint(os.Stderr, st.String())
		}
		return 1
	case errors.Is(err, dsmser.ErrCancelled):
		fmt.Fprintf(os.Stderr, "Connection closed before a record arrived\n")
		return 2
	case err != nil:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return 2
	}

	fmt.Printf("SUCCESS: Received record\n")
	fmt.Printf("  Time:   %s\n", dsmser.FormatTimetag(sample.Timetag))
	fmt.Printf("  Length: %d bytes\n", len(sample.Data))
	fmt.Print(dsmser.FormatSampleHex(sample))
	return 0
}

// readSample waits until deadline for the next record. It returns
// dsmser.ErrTimeout if none starts in time.
func readSample(port *dsmser.Port, deadline time.Time) (dsmser.Sample, error) {
	hdr := make([]byte, dsmser.RecordHeaderSize)
	for off := 0; off < len(hdr); {
		n, err := port.Read(hdr[off:], deadline)
		off += n
		if err != nil {
			return dsmser.Sample{}, err
		}
	}

	// The rest of the record is already queued
	sr := dsmser.NewSampleReader(readerFunc(func(p []byte) (int, error) {
		if len(hdr) > 0 {
			n := copy(p, hdr)
			hdr = hdr[n:]
			return n, nil
		}
		return port.TryRead(p)
	}))
	return sr.Next()
}

// readerFunc adapts a function to io.Reader
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) {
	return f(p)
}
